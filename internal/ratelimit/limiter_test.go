package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/internal/store"
	"github.com/helpdeskai/support-platform/pkg/logger"
)

func newTestLimiter(t *testing.T, clock *time.Time) *Limiter {
	t.Helper()
	cfg := Config{
		model.LimitAIResponse: {Window: time.Minute, MaxRequests: 10, BlockDuration: 5 * time.Minute},
	}
	return New(store.NewMemory(), cfg, logger.NewNop()).WithClock(func() time.Time { return *clock })
}

func TestRecordAllowsUpToMax(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record(ctx, model.LimitAIResponse, "acme"))
		now = now.Add(time.Second)
	}

	err := l.Record(ctx, model.LimitAIResponse, "acme")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, model.LimitAIResponse, exceeded.LimitType)
	assert.Equal(t, now.Add(5*time.Minute), exceeded.BlockedUntil)
}

func TestBlockRejectsEvenAfterWindowSlides(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record(ctx, model.LimitAIResponse, "acme"))
	}
	require.Error(t, l.Record(ctx, model.LimitAIResponse, "acme"))

	// Two minutes later the window itself is empty, but the 5 minute
	// block still holds.
	now = now.Add(2 * time.Minute)
	err := l.Record(ctx, model.LimitAIResponse, "acme")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 3*time.Minute, exceeded.RetryAfter)
}

func TestRepeatRejectionDoesNotExtendBlock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record(ctx, model.LimitAIResponse, "acme"))
	}

	var first *ExceededError
	require.ErrorAs(t, l.Record(ctx, model.LimitAIResponse, "acme"), &first)

	now = now.Add(time.Minute)
	var second *ExceededError
	require.ErrorAs(t, l.Record(ctx, model.LimitAIResponse, "acme"), &second)
	assert.Equal(t, first.BlockedUntil, second.BlockedUntil)
}

func TestExpiredBlockResetsToFullAllowance(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record(ctx, model.LimitAIResponse, "acme"))
	}
	require.Error(t, l.Record(ctx, model.LimitAIResponse, "acme"))

	// Past the block and the window: back to a clean slate.
	now = now.Add(6 * time.Minute)
	status, err := l.Check(ctx, model.LimitAIResponse, "acme")
	require.NoError(t, err)
	assert.False(t, status.Limited)
	assert.Equal(t, 10, status.Remaining)

	require.NoError(t, l.Record(ctx, model.LimitAIResponse, "acme"))
}

func TestCheckDoesNotConsume(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		status, err := l.Check(ctx, model.LimitAIResponse, "acme")
		require.NoError(t, err)
		assert.Equal(t, 10, status.Remaining)
	}

	require.NoError(t, l.Record(ctx, model.LimitAIResponse, "acme"))
	status, err := l.Check(ctx, model.LimitAIResponse, "acme")
	require.NoError(t, err)
	assert.Equal(t, 9, status.Remaining)
}

func TestCheckReportsBlock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record(ctx, model.LimitAIResponse, "acme"))
	}
	require.Error(t, l.Record(ctx, model.LimitAIResponse, "acme"))

	status, err := l.Check(ctx, model.LimitAIResponse, "acme")
	require.NoError(t, err)
	assert.True(t, status.Limited)
	assert.Zero(t, status.Remaining)
	require.NotNil(t, status.BlockedUntil)
	assert.Equal(t, now.Add(5*time.Minute), *status.BlockedUntil)
}

func TestIdentifiersAreIndependent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record(ctx, model.LimitAIResponse, "acme"))
	}
	require.Error(t, l.Record(ctx, model.LimitAIResponse, "acme"))

	// A different company is untouched.
	require.NoError(t, l.Record(ctx, model.LimitAIResponse, "globex"))
}

func TestUnknownLimitType(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &now)

	err := l.Record(context.Background(), model.LimitType("bogus"), "acme")
	require.Error(t, err)
	var exceeded *ExceededError
	assert.False(t, errors.As(err, &exceeded))
}

func TestSweepDropsStaleBuckets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &now)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, model.LimitAIResponse, "acme"))

	now = now.Add(25 * time.Hour)
	deleted, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	status, err := l.Check(ctx, model.LimitAIResponse, "acme")
	require.NoError(t, err)
	assert.Equal(t, 10, status.Remaining)
}
