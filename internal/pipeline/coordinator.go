package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/couchcryptid/weather-etl/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Coordinator runs Extractor → Stager → Loader for one partition key at a time
// per key, retrying each stage under its own policy.
type Coordinator struct {
	extractor Extractor
	stager    Stager
	loader    Loader
	ledger    Ledger
	reporter  StatusReporter
	policies  map[domain.Stage]RetryPolicy
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu       sync.Mutex
	inFlight map[domain.PartitionKey]struct{}
	ready    atomic.Bool
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithRetryPolicy sets the retry policy for one stage.
func WithRetryPolicy(stage domain.Stage, p RetryPolicy) Option {
	return func(c *Coordinator) { c.policies[stage] = p }
}

// WithClock replaces the real clock, typically with a fake in tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithReporter forwards every terminal status to r.
func WithReporter(r StatusReporter) Option {
	return func(c *Coordinator) { c.reporter = r }
}

// NewCoordinator creates a Coordinator. Every stage starts with DefaultRetryPolicy.
func NewCoordinator(e Extractor, s Stager, l Loader, ledger Ledger, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Coordinator {
	c := &Coordinator{
		extractor: e,
		stager:    s,
		loader:    l,
		ledger:    ledger,
		policies:  map[domain.Stage]RetryPolicy{},
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		metrics:   metrics,
		inFlight:  map[domain.PartitionKey]struct{}{},
	}
	for _, stage := range domain.Stages {
		c.policies[stage] = DefaultRetryPolicy
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckReadiness returns nil once at least one run has finished.
func (c *Coordinator) CheckReadiness(_ context.Context) error {
	if !c.ready.Load() {
		return errors.New("no run has completed yet")
	}
	return nil
}

// Status returns the last recorded status for key.
func (c *Coordinator) Status(ctx context.Context, key domain.PartitionKey) (domain.RunStatus, bool, error) {
	return c.ledger.Lookup(ctx, key)
}

// Run executes one run for the logical run date. It returns the terminal
// status; the error is non-nil when the run failed (a *domain.RunError), could
// not start, or succeeded but could not be recorded.
func (c *Coordinator) Run(ctx context.Context, runDate time.Time) (domain.RunStatus, error) {
	key := domain.NewPartitionKey(runDate)
	status := domain.RunStatus{
		RunID:     uuid.NewString(),
		Key:       key,
		State:     domain.StatePending,
		Attempts:  map[domain.Stage]int{},
		StartedAt: c.clock.Now().UTC(),
	}
	logger := c.logger.With("run_id", status.RunID, "partition_key", key)

	if !c.acquire(key) {
		return status, fmt.Errorf("%s: %w", key, domain.ErrRunInProgress)
	}
	defer c.release(key)

	c.metrics.RunsInFlight.Inc()
	defer c.metrics.RunsInFlight.Dec()

	prev, found, err := c.ledger.Lookup(ctx, key)
	if err != nil {
		err = fmt.Errorf("check ledger for %s: %w", key, err)
		if tErr := c.transition(&status, domain.StateFailed); tErr != nil {
			return status, errors.Join(err, tErr)
		}
		status.Error = err.Error()
		c.finish(ctx, logger, &status)
		logger.Error("run not started", "error", err)
		return status, err
	}
	if found && prev.Succeeded() {
		logger.Info("partition already loaded, skipping", "previous_run_id", prev.RunID)
		status.State = domain.StateSucceeded
		status.Skipped = true
		status.Staged = prev.Staged
		status.Result = prev.Result
		c.finish(ctx, logger, &status)
		return status, nil
	}

	logger.Info("run started")
	runErr := c.execute(ctx, logger, &status)
	if runErr != nil {
		status.State = domain.StateFailed
		status.Error = runErr.Error()
	}

	recordErr := c.record(ctx, &status)
	c.finish(ctx, logger, &status)

	if runErr != nil {
		logger.Error("run failed", "stage", status.FailedStage, "error", runErr)
		return status, runErr
	}
	if recordErr != nil {
		logger.Error("run succeeded but ledger write failed", "error", recordErr)
		return status, recordErr
	}
	logger.Info("run succeeded", "rows_loaded", status.Result.RowsLoaded)
	return status, nil
}

// execute walks the state machine. Each stage consumes only the previous
// stage's output, so a later stage never starts without it.
func (c *Coordinator) execute(ctx context.Context, logger *slog.Logger, status *domain.RunStatus) error {
	if err := c.transition(status, domain.StateExtracting); err != nil {
		return err
	}
	localPath, err := runStage(ctx, c, logger, status, domain.StageExtracting, func(ctx context.Context) (string, error) {
		return c.extractor.Extract(ctx, status.Key)
	})
	if err != nil {
		return err
	}

	if err := c.transition(status, domain.StateStaging); err != nil {
		return err
	}
	staged, err := runStage(ctx, c, logger, status, domain.StageStaging, func(ctx context.Context) (domain.StagedObject, error) {
		return c.stager.Stage(ctx, status.Key, localPath)
	})
	if err != nil {
		return err
	}
	if staged.Key != status.Key {
		status.FailedStage = domain.StageStaging
		return &domain.RunError{Key: status.Key, Stage: domain.StageStaging, Attempts: status.Attempts[domain.StageStaging],
			Err: &domain.StagingError{Op: "verify staged object", Err: fmt.Errorf("staged key %s does not match run", staged.Key)}}
	}
	status.Staged = &staged

	if err := c.transition(status, domain.StateLoading); err != nil {
		return err
	}
	result, err := runStage(ctx, c, logger, status, domain.StageLoading, func(ctx context.Context) (domain.LoadResult, error) {
		return c.loader.Load(ctx, staged)
	})
	if err != nil {
		return err
	}
	status.Result = &result
	c.metrics.RowsLoaded.Add(float64(result.RowsLoaded))

	return c.transition(status, domain.StateSucceeded)
}

// runStage attempts fn up to the stage's budget. On exhaustion or
// cancellation it marks the status failed in stage and returns a *domain.RunError.
func runStage[T any](ctx context.Context, c *Coordinator, logger *slog.Logger, status *domain.RunStatus, stage domain.Stage, fn func(context.Context) (T, error)) (T, error) {
	policy := c.policies[stage]
	maxAttempts := policy.attempts()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status.Attempts[stage] = attempt

		start := c.clock.Now()
		v, err := fn(ctx)
		c.metrics.StageDuration.WithLabelValues(string(stage)).Observe(c.clock.Since(start).Seconds())
		if err == nil {
			c.metrics.StageAttempts.WithLabelValues(string(stage), "success").Inc()
			return v, nil
		}
		c.metrics.StageAttempts.WithLabelValues(string(stage), "error").Inc()
		lastErr = err

		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}
		delay := policy.delayAfter(attempt)
		logger.Warn("stage attempt failed, retrying",
			"stage", stage,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"retry_in", delay,
			"error", err,
		)
		if !sleepWithContext(ctx, c.clock, delay) {
			break
		}
	}

	status.FailedStage = stage
	return zero, &domain.RunError{Key: status.Key, Stage: stage, Attempts: status.Attempts[stage], Err: lastErr}
}

func (c *Coordinator) transition(status *domain.RunStatus, next domain.State) error {
	if !status.State.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for %s", status.State, next, status.Key)
	}
	c.logger.Debug("run transition", "partition_key", status.Key, "from", status.State, "to", next)
	status.State = next
	return nil
}

// record writes the terminal status to the ledger. It uses a fresh context so
// a cancelled run still leaves a trace.
func (c *Coordinator) record(ctx context.Context, status *domain.RunStatus) error {
	status.FinishedAt = c.clock.Now().UTC()
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.ledger.Record(recordCtx, *status); err != nil {
		return fmt.Errorf("record status for %s: %w", status.Key, err)
	}
	return nil
}

func (c *Coordinator) finish(ctx context.Context, logger *slog.Logger, status *domain.RunStatus) {
	if status.FinishedAt.IsZero() {
		status.FinishedAt = c.clock.Now().UTC()
	}

	label := string(status.State)
	if status.Skipped {
		label = "skipped"
	}
	c.metrics.Runs.WithLabelValues(label).Inc()
	c.ready.Store(true)

	if c.reporter == nil {
		return
	}
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.reporter.Report(reportCtx, *status); err != nil {
		c.metrics.StatusReportErrors.Inc()
		logger.Warn("report run status failed", "error", err)
	}
}

// InProgress reports whether a run for key is currently executing.
func (c *Coordinator) InProgress(key domain.PartitionKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inFlight[key]
	return busy
}

func (c *Coordinator) acquire(key domain.PartitionKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

func (c *Coordinator) release(key domain.PartitionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}
