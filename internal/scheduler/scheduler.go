// Package scheduler triggers the daily run for the previous UTC day.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/go-co-op/gocron"
	"github.com/jonboulle/clockwork"
)

// Runner executes one run for a logical run date.
type Runner interface {
	Run(ctx context.Context, runDate time.Time) (domain.RunStatus, error)
}

// Scheduler fires once a day at a fixed UTC wall-clock time.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	at        string
	clock     clockwork.Clock
	logger    *slog.Logger
}

// New creates a Scheduler firing daily at at ("HH:MM", UTC).
func New(runner Runner, at string, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		at:        at,
		clock:     clock,
		logger:    logger,
	}
}

// Start schedules the daily job and starts the underlying scheduler. Runs
// started by the job use ctx, so cancelling it aborts an in-flight run.
func (s *Scheduler) Start(ctx context.Context) error {
	job, err := s.scheduler.Every(1).Day().At(s.at).Do(func() { s.Tick(ctx) })
	if err != nil {
		return fmt.Errorf("schedule daily run at %q: %w", s.at, err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "at", s.at, "next_run", job.NextRun())
	return nil
}

// Tick runs the pipeline for the logical date of a trigger firing now: the
// UTC day before the current one.
func (s *Scheduler) Tick(ctx context.Context) {
	runDate := LogicalDate(s.clock.Now())
	key := domain.NewPartitionKey(runDate)
	s.logger.Info("scheduled run triggered", "partition_key", key)

	status, err := s.runner.Run(ctx, runDate)
	if err != nil {
		s.logger.Error("scheduled run failed", "partition_key", key, "error", err)
		return
	}
	s.logger.Info("scheduled run finished", "partition_key", key, "state", status.Label(), "skipped", status.Skipped)
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// LogicalDate returns midnight UTC of the day before fireTime.
func LogicalDate(fireTime time.Time) time.Time {
	y, m, d := fireTime.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}
