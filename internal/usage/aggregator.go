// Package usage maintains the hourly usage counters the engine increments
// and rolls them into daily totals consumed by billing-limit checks.
package usage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/helpdeskai/support-platform/internal/store"
	"github.com/helpdeskai/support-platform/pkg/logger"
)

// Aggregator folds hourly counters into daily rows and prunes old data.
type Aggregator struct {
	store  store.UsageStore
	logger *logger.Logger

	dailyRetention  time.Duration
	hourlyRetention time.Duration
	now             func() time.Time
}

// New creates an aggregator with the given retention windows.
func New(s store.UsageStore, dailyRetention, hourlyRetention time.Duration, log *logger.Logger) *Aggregator {
	if dailyRetention <= 0 {
		dailyRetention = 90 * 24 * time.Hour
	}
	if hourlyRetention <= 0 {
		hourlyRetention = 7 * 24 * time.Hour
	}
	return &Aggregator{
		store:           s,
		logger:          log,
		dailyRetention:  dailyRetention,
		hourlyRetention: hourlyRetention,
		now:             time.Now,
	}
}

// WithClock overrides the aggregator's clock. Used in tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// RecordMessage bumps the current hourly message counter for a company.
func (a *Aggregator) RecordMessage(ctx context.Context, companyID string) error {
	return a.store.IncrementHourlyUsage(ctx, companyID, a.now(), 0, 1)
}

// RecordAIResponse bumps the current hourly AI response counter.
func (a *Aggregator) RecordAIResponse(ctx context.Context, companyID string) error {
	return a.store.IncrementHourlyUsage(ctx, companyID, a.now(), 1, 0)
}

// Rollup folds completed days of hourly rows into daily rows. The fold and
// the deletion of the consumed hourly rows happen in one store transaction,
// so a re-run cannot double count.
func (a *Aggregator) Rollup(ctx context.Context) error {
	today := a.now().UTC().Truncate(24 * time.Hour)

	companies, err := a.store.CompaniesWithHourlyUsage(ctx)
	if err != nil {
		return fmt.Errorf("failed to list companies with usage: %w", err)
	}

	for _, companyID := range companies {
		days, err := a.store.HourlyDays(ctx, companyID)
		if err != nil {
			return fmt.Errorf("failed to list usage days for %s: %w", companyID, err)
		}
		for _, day := range days {
			// The current day is still accumulating; leave it alone.
			if !day.Before(today) {
				continue
			}
			if err := a.store.FoldHourlyIntoDaily(ctx, companyID, day); err != nil {
				return fmt.Errorf("failed to fold usage for %s on %s: %w", companyID, day.Format("2006-01-02"), err)
			}
			a.logger.Debug("usage rolled up",
				zap.String("company_id", companyID),
				zap.String("day", day.Format("2006-01-02")),
			)
		}
	}
	return nil
}

// Prune deletes daily rows past the long retention window and hourly rows
// past the short one.
func (a *Aggregator) Prune(ctx context.Context) (int, error) {
	now := a.now()
	return a.store.PruneUsage(ctx, now.Add(-a.dailyRetention), now.Add(-a.hourlyRetention))
}
