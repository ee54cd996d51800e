package presence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskai/support-platform/internal/access"
	"github.com/helpdeskai/support-platform/internal/store"
	"github.com/helpdeskai/support-platform/pkg/logger"
)

func newTestTracker(clock *time.Time) *Tracker {
	checker := access.Static{
		"agent-1:acme":    {HasAccess: true, Role: access.RoleSupport},
		"agent-2:acme":    {HasAccess: true, Role: access.RoleSupport},
		"admin-1:acme":    {HasAccess: true, Role: access.RoleAdmin},
		"customer-1:acme": {HasAccess: true, Role: access.RoleCustomer},
	}
	return New(store.NewMemory(), checker, 45*time.Second, 100, logger.NewNop()).
		WithClock(func() time.Time { return *clock })
}

func TestTypingVisibleUntilTTLExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	require.NoError(t, tr.SetTyping(ctx, "customer-1", "acme", "conv-1", true))

	typing, err := tr.TypingUsers(ctx, "agent-1", "acme", "conv-1", "agent-1")
	require.NoError(t, err)
	require.Len(t, typing, 1)
	assert.Equal(t, "customer-1", typing[0].UserID)

	// Just before expiry the record still shows.
	now = now.Add(44 * time.Second)
	typing, err = tr.TypingUsers(ctx, "agent-1", "acme", "conv-1", "agent-1")
	require.NoError(t, err)
	assert.Len(t, typing, 1)

	// Past the TTL it silently drops out of reads.
	now = now.Add(2 * time.Second)
	typing, err = tr.TypingUsers(ctx, "agent-1", "acme", "conv-1", "agent-1")
	require.NoError(t, err)
	assert.Empty(t, typing)
}

func TestHeartbeatRenewsExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	require.NoError(t, tr.SetTyping(ctx, "customer-1", "acme", "conv-1", true))

	now = now.Add(30 * time.Second)
	require.NoError(t, tr.Heartbeat(ctx, "customer-1"))

	// 40s after the heartbeat, 70s after the original write: still alive.
	now = now.Add(40 * time.Second)
	typing, err := tr.TypingUsers(ctx, "agent-1", "acme", "conv-1", "agent-1")
	require.NoError(t, err)
	assert.Len(t, typing, 1)
}

func TestHeartbeatWithoutRecordIsNoOp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)

	assert.NoError(t, tr.Heartbeat(context.Background(), "ghost"))
}

func TestStopTypingClearsState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	require.NoError(t, tr.SetTyping(ctx, "customer-1", "acme", "conv-1", true))
	require.NoError(t, tr.SetTyping(ctx, "customer-1", "acme", "conv-1", false))

	typing, err := tr.TypingUsers(ctx, "agent-1", "acme", "conv-1", "agent-1")
	require.NoError(t, err)
	assert.Empty(t, typing)
}

func TestTypingExcludesRequester(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	require.NoError(t, tr.SetTyping(ctx, "agent-1", "acme", "conv-1", true))
	require.NoError(t, tr.SetTyping(ctx, "agent-2", "acme", "conv-1", true))

	typing, err := tr.TypingUsers(ctx, "agent-1", "acme", "conv-1", "agent-1")
	require.NoError(t, err)
	require.Len(t, typing, 1)
	assert.Equal(t, "agent-2", typing[0].UserID)
}

func TestViewingTracksAgentsOnly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	require.NoError(t, tr.SetViewing(ctx, "agent-1", "acme", "conv-1"))
	require.NoError(t, tr.SetViewing(ctx, "admin-1", "acme", "conv-1"))
	// Customer viewing is accepted but not recorded.
	require.NoError(t, tr.SetViewing(ctx, "customer-1", "acme", "conv-1"))

	viewing, err := tr.ViewingAgents(ctx, "agent-1", "acme", "conv-1")
	require.NoError(t, err)
	assert.Len(t, viewing, 2)
	for _, p := range viewing {
		assert.NotEqual(t, "customer-1", p.UserID)
	}
}

func TestViewingSwitchConversation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	require.NoError(t, tr.SetViewing(ctx, "agent-1", "acme", "conv-1"))
	require.NoError(t, tr.SetViewing(ctx, "agent-1", "acme", "conv-2"))

	viewing, err := tr.ViewingAgents(ctx, "agent-2", "acme", "conv-1")
	require.NoError(t, err)
	assert.Empty(t, viewing)

	viewing, err = tr.ViewingAgents(ctx, "agent-2", "acme", "conv-2")
	require.NoError(t, err)
	require.Len(t, viewing, 1)
	assert.Equal(t, "agent-1", viewing[0].UserID)
}

func TestPresenceReadsRequireCompanyMembership(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	require.NoError(t, tr.SetTyping(ctx, "customer-1", "acme", "conv-1", true))

	_, err := tr.TypingUsers(ctx, "outsider", "acme", "conv-1", "")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = tr.ViewingAgents(ctx, "outsider", "acme", "conv-1")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestPresenceWritesRequireCompanyMembership(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	err := tr.SetTyping(ctx, "outsider", "acme", "conv-1", true)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// The rejected write must not leave a presence record behind.
	typing, err := tr.TypingUsers(ctx, "agent-1", "acme", "conv-1", "")
	require.NoError(t, err)
	assert.Empty(t, typing)
}

func TestCleanupIsBounded(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemory()
	checker := access.Static{}
	for i := 0; i < 250; i++ {
		checker[fmt.Sprintf("user-%d:acme", i)] = access.Grant{HasAccess: true, Role: access.RoleCustomer}
	}
	tr := New(mem, checker, 45*time.Second, 100, logger.NewNop()).
		WithClock(func() time.Time { return now })

	ctx := context.Background()
	for i := 0; i < 250; i++ {
		require.NoError(t, tr.SetTyping(ctx, fmt.Sprintf("user-%d", i), "acme", "conv-1", true))
	}

	now = now.Add(time.Minute)

	deleted, err := tr.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, deleted)

	deleted, err = tr.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, deleted)

	deleted, err = tr.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, deleted)
}
