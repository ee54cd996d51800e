// Package store defines the persistence interfaces for the support
// platform and provides in-memory and Redis-backed implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/helpdeskai/support-platform/internal/model"
)

// ErrNotFound is returned when a record does not exist or is not visible
// to the requesting company.
var ErrNotFound = errors.New("record not found")

// ConversationStore persists conversations. UpdateConversation is the
// single-record transaction the state machine relies on: fn runs against
// the current stored value and the result is applied atomically, so
// read-check-write sequences (the claim race, the aiProcessing flag)
// cannot interleave.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, companyID, conversationID string) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, companyID, conversationID string, fn func(*model.Conversation) error) (*model.Conversation, error)
	ListConversations(ctx context.Context, companyID string, statuses []model.Status, limit, offset int) ([]model.Conversation, int, error)
	// LatestConversationForCustomer returns the most recently active
	// conversation for a customer, or ErrNotFound.
	LatestConversationForCustomer(ctx context.Context, companyID, customerID string) (*model.Conversation, error)
}

// MessageStore persists messages. AppendMessage assigns the per-conversation
// insertion sequence used to break timestamp ties.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, companyID, conversationID string, limit int) ([]model.Message, error)
	UpdateMessage(ctx context.Context, companyID, messageID string, fn func(*model.Message) error) error
}

// PresenceStore persists presence records keyed by user id.
type PresenceStore interface {
	UpsertPresence(ctx context.Context, p *model.Presence) error
	GetPresence(ctx context.Context, userID string) (*model.Presence, error)
	ListPresenceByCompany(ctx context.Context, companyID string) ([]model.Presence, error)
	// DeleteExpiredPresence removes at most limit expired records and
	// reports how many were deleted.
	DeleteExpiredPresence(ctx context.Context, now time.Time, limit int) (int, error)
}

// RateLimitStore persists sliding-window buckets. UpdateBucket applies fn
// atomically against the current bucket value; a missing bucket is
// presented to fn as an empty one.
type RateLimitStore interface {
	GetBucket(ctx context.Context, key string) (*model.RateLimitBucket, error)
	UpdateBucket(ctx context.Context, key string, fn func(*model.RateLimitBucket) error) (*model.RateLimitBucket, error)
	// SweepBuckets deletes buckets untouched since before the cutoff.
	SweepBuckets(ctx context.Context, cutoff time.Time) (int, error)
}

// UsageStore persists usage counters. FoldHourlyIntoDaily sums the hourly
// rows of one company-day into the daily row and deletes them in the same
// transaction, which is what makes the rollup replay-safe.
type UsageStore interface {
	IncrementHourlyUsage(ctx context.Context, companyID string, hour time.Time, aiResponses, messages int) error
	FoldHourlyIntoDaily(ctx context.Context, companyID string, day time.Time) error
	CompaniesWithHourlyUsage(ctx context.Context) ([]string, error)
	HourlyDays(ctx context.Context, companyID string) ([]time.Time, error)
	GetUsage(ctx context.Context, companyID string, period model.UsagePeriod, start time.Time) (*model.UsageCounter, error)
	PruneUsage(ctx context.Context, dailyBefore, hourlyBefore time.Time) (int, error)
}

// CompanyStore persists company configuration and the monthly AI counter.
type CompanyStore interface {
	GetCompany(ctx context.Context, companyID string) (*model.Company, error)
	PutCompany(ctx context.Context, company *model.Company) error
	// IncrementMonthlyAIResponses bumps the monthly counter and returns
	// the new value.
	IncrementMonthlyAIResponses(ctx context.Context, companyID string) (int, error)
}
