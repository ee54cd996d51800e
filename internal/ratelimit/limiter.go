// Package ratelimit implements the sliding-window rate limiter that gates
// AI responses, customer messages and file uploads.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/internal/store"
	"github.com/helpdeskai/support-platform/pkg/logger"
	"github.com/helpdeskai/support-platform/pkg/metrics"
)

// LimitConfig tunes one limit type.
type LimitConfig struct {
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration
}

// Config maps limit types to their tuning.
type Config map[model.LimitType]LimitConfig

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		model.LimitAIResponse:  {Window: time.Minute, MaxRequests: 10, BlockDuration: 5 * time.Minute},
		model.LimitUserMessage: {Window: time.Minute, MaxRequests: 30, BlockDuration: 5 * time.Minute},
		model.LimitFileUpload:  {Window: time.Hour, MaxRequests: 20, BlockDuration: time.Hour},
	}
}

// ExceededError is the distinguishable rejection returned by Record, so
// callers can surface "try again in N seconds" instead of a generic error.
type ExceededError struct {
	LimitType    model.LimitType
	BlockedUntil time.Time
	RetryAfter   time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.LimitType, e.RetryAfter.Round(time.Second))
}

// Limiter checks and records requests against sliding-window buckets.
// Bucket updates go through the store's atomic read-modify-write, so
// concurrent callers cannot lose each other's appends.
type Limiter struct {
	store  store.RateLimitStore
	config Config
	logger *logger.Logger
	now    func() time.Time
}

// New creates a limiter backed by the given bucket store.
func New(s store.RateLimitStore, cfg Config, log *logger.Logger) *Limiter {
	return &Limiter{
		store:  s,
		config: cfg,
		logger: log,
		now:    time.Now,
	}
}

// WithClock overrides the limiter's clock. Used in tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func bucketKey(limitType model.LimitType, identifier string) string {
	return fmt.Sprintf("%s:%s", limitType, identifier)
}

func pruneWindow(requests []time.Time, windowStart time.Time) []time.Time {
	kept := requests[:0]
	for _, t := range requests {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Check performs a side-effect-free pre-flight check for UI display.
func (l *Limiter) Check(ctx context.Context, limitType model.LimitType, identifier string) (*model.RateLimitStatus, error) {
	cfg, ok := l.config[limitType]
	if !ok {
		return nil, fmt.Errorf("unknown limit type %q", limitType)
	}

	now := l.now()

	bucket, err := l.store.GetBucket(ctx, bucketKey(limitType, identifier))
	if err == store.ErrNotFound {
		return &model.RateLimitStatus{
			Limited:   false,
			Remaining: cfg.MaxRequests,
			ResetAt:   now,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket: %w", err)
	}

	if bucket.BlockedUntil != nil && bucket.BlockedUntil.After(now) {
		return &model.RateLimitStatus{
			Limited:      true,
			Remaining:    0,
			ResetAt:      *bucket.BlockedUntil,
			BlockedUntil: bucket.BlockedUntil,
		}, nil
	}

	inWindow := pruneWindow(append([]time.Time(nil), bucket.Requests...), now.Add(-cfg.Window))
	remaining := cfg.MaxRequests - len(inWindow)
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now
	if len(inWindow) > 0 {
		resetAt = inWindow[0].Add(cfg.Window)
	}

	return &model.RateLimitStatus{
		Limited:   remaining == 0,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Record registers a request against the bucket. On violation it persists
// the hard block and returns an ExceededError; an already-blocked bucket
// rejects without issuing a fresh block.
func (l *Limiter) Record(ctx context.Context, limitType model.LimitType, identifier string) error {
	cfg, ok := l.config[limitType]
	if !ok {
		return fmt.Errorf("unknown limit type %q", limitType)
	}

	now := l.now()
	var exceeded *ExceededError

	_, err := l.store.UpdateBucket(ctx, bucketKey(limitType, identifier), func(bucket *model.RateLimitBucket) error {
		bucket.UpdatedAt = now

		if bucket.BlockedUntil != nil && bucket.BlockedUntil.After(now) {
			exceeded = &ExceededError{
				LimitType:    limitType,
				BlockedUntil: *bucket.BlockedUntil,
				RetryAfter:   bucket.BlockedUntil.Sub(now),
			}
			return nil
		}
		bucket.BlockedUntil = nil

		bucket.Requests = pruneWindow(bucket.Requests, now.Add(-cfg.Window))

		if len(bucket.Requests) >= cfg.MaxRequests {
			blockedUntil := now.Add(cfg.BlockDuration)
			bucket.BlockedUntil = &blockedUntil
			exceeded = &ExceededError{
				LimitType:    limitType,
				BlockedUntil: blockedUntil,
				RetryAfter:   cfg.BlockDuration,
			}
			return nil
		}

		bucket.Requests = append(bucket.Requests, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update bucket: %w", err)
	}

	if exceeded != nil {
		metrics.RateLimitBlocksTotal.WithLabelValues(string(limitType)).Inc()
		l.logger.Warn("rate limit exceeded",
			zap.String("limit_type", string(limitType)),
			zap.String("identifier", identifier),
			zap.Time("blocked_until", exceeded.BlockedUntil),
		)
		return exceeded
	}
	return nil
}

// Sweep deletes buckets untouched for 24 hours to bound storage.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.SweepBuckets(ctx, l.now().Add(-24*time.Hour))
}
