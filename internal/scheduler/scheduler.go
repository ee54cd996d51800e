// Package scheduler runs the platform's periodic background jobs: presence
// cleanup, rate-limit bucket sweeps and usage rollups. Jobs are registered
// explicitly at startup; there is no hidden process-wide cron state.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helpdeskai/support-platform/pkg/logger"
	"github.com/helpdeskai/support-platform/pkg/metrics"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives registered jobs on their intervals until the context
// is cancelled.
type Scheduler struct {
	jobs   []Job
	logger *logger.Logger
	wg     sync.WaitGroup
}

// New creates an empty scheduler.
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{logger: log}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Run: run})
}

// Start launches one goroutine per job. It returns immediately; use Wait
// after cancelling the context to drain.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runOnce(ctx, job)
				}
			}
		}()
	}
}

// Wait blocks until all job goroutines have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		metrics.SchedulerJobRuns.WithLabelValues(job.Name, "error").Inc()
		s.logger.Error("background job failed",
			zap.String("job", job.Name),
			zap.Error(err),
		)
		return
	}
	metrics.SchedulerJobRuns.WithLabelValues(job.Name, "ok").Inc()
	s.logger.Debug("background job completed",
		zap.String("job", job.Name),
		zap.Duration("duration", time.Since(start)),
	)
}
