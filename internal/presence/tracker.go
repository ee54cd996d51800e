// Package presence tracks short-lived typing and viewing state, renewed by
// client heartbeats and reaped once expired.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/helpdeskai/support-platform/internal/access"
	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/internal/store"
	"github.com/helpdeskai/support-platform/pkg/logger"
)

// ErrNotAuthorized is returned when a presence read crosses company
// boundaries. Leaking "who's online" to another tenant is a security bug,
// so this is checked before anything is returned.
var ErrNotAuthorized = errors.New("not authorized for this company")

// Tracker manages presence records.
type Tracker struct {
	store  store.PresenceStore
	access access.Checker
	logger *logger.Logger

	ttl          time.Duration
	cleanupBatch int
	now          func() time.Time
}

// New creates a tracker. TTL should be long enough that brief network gaps
// between heartbeats don't flicker the typing indicator.
func New(s store.PresenceStore, checker access.Checker, ttl time.Duration, cleanupBatch int, log *logger.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	if cleanupBatch <= 0 {
		cleanupBatch = 100
	}
	return &Tracker{
		store:        s,
		access:       checker,
		logger:       log,
		ttl:          ttl,
		cleanupBatch: cleanupBatch,
		now:          time.Now,
	}
}

// WithClock overrides the tracker's clock. Used in tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) load(ctx context.Context, userID, companyID string) (*model.Presence, error) {
	p, err := t.store.GetPresence(ctx, userID)
	if err == store.ErrNotFound {
		grant, gerr := t.access.Check(ctx, userID, companyID)
		if gerr != nil {
			return nil, gerr
		}
		if !grant.HasAccess {
			return nil, ErrNotAuthorized
		}
		return &model.Presence{
			UserID:    userID,
			CompanyID: companyID,
			UserRole:  string(grant.Role),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (t *Tracker) save(ctx context.Context, p *model.Presence) error {
	now := t.now()
	p.HeartbeatAt = now
	p.ExpiresAt = now.Add(t.ttl)
	return t.store.UpsertPresence(ctx, p)
}

// SetTyping marks a user as typing (or not) in a conversation and
// refreshes the record's expiry.
func (t *Tracker) SetTyping(ctx context.Context, userID, companyID, conversationID string, isTyping bool) error {
	p, err := t.load(ctx, userID, companyID)
	if err != nil {
		return fmt.Errorf("failed to load presence: %w", err)
	}

	if isTyping {
		if !p.IsTyping || p.TypingInConversation != conversationID {
			started := t.now()
			p.TypingStartedAt = &started
		}
		p.IsTyping = true
		p.TypingInConversation = conversationID
	} else {
		p.IsTyping = false
		p.TypingInConversation = ""
		p.TypingStartedAt = nil
	}

	return t.save(ctx, p)
}

// Heartbeat renews a user's presence record. A heartbeat for a user with
// no record is a no-op; the owning client creates state via SetTyping or
// SetViewing first.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	p, err := t.store.GetPresence(ctx, userID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load presence: %w", err)
	}
	return t.save(ctx, p)
}

// SetViewing records which conversation a user has open. Only agents and
// admins are tracked as viewers; customer viewing is not recorded. An
// empty conversation id clears the viewing state.
func (t *Tracker) SetViewing(ctx context.Context, userID, companyID, conversationID string) error {
	grant, err := t.access.Check(ctx, userID, companyID)
	if err != nil {
		return fmt.Errorf("failed to check access: %w", err)
	}
	if !grant.IsAgent() {
		return nil
	}

	p, err := t.load(ctx, userID, companyID)
	if err != nil {
		return fmt.Errorf("failed to load presence: %w", err)
	}
	p.UserRole = string(grant.Role)
	p.ViewingConversation = conversationID

	return t.save(ctx, p)
}

func (t *Tracker) authorize(ctx context.Context, requesterID, companyID string) error {
	grant, err := t.access.Check(ctx, requesterID, companyID)
	if err != nil {
		return fmt.Errorf("failed to check access: %w", err)
	}
	if !grant.CanViewPresence() {
		return ErrNotAuthorized
	}
	return nil
}

// TypingUsers returns the users currently typing in a conversation,
// optionally excluding one user (typically the requester).
func (t *Tracker) TypingUsers(ctx context.Context, requesterID, companyID, conversationID, excludeUserID string) ([]model.Presence, error) {
	if err := t.authorize(ctx, requesterID, companyID); err != nil {
		return nil, err
	}

	records, err := t.store.ListPresenceByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	now := t.now()
	var out []model.Presence
	for _, p := range records {
		if !p.Active(now) {
			continue
		}
		if !p.IsTyping || p.TypingInConversation != conversationID {
			continue
		}
		if excludeUserID != "" && p.UserID == excludeUserID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ViewingAgents returns the agents currently viewing a conversation, for
// the handoff-assignment UI.
func (t *Tracker) ViewingAgents(ctx context.Context, requesterID, companyID, conversationID string) ([]model.Presence, error) {
	if err := t.authorize(ctx, requesterID, companyID); err != nil {
		return nil, err
	}

	records, err := t.store.ListPresenceByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	now := t.now()
	var out []model.Presence
	for _, p := range records {
		if !p.Active(now) {
			continue
		}
		if p.UserRole == string(access.RoleCustomer) {
			continue
		}
		if p.ViewingConversation != conversationID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Cleanup deletes expired records, capped per invocation so a single run
// stays short.
func (t *Tracker) Cleanup(ctx context.Context) (int, error) {
	return t.store.DeleteExpiredPresence(ctx, t.now(), t.cleanupBatch)
}
