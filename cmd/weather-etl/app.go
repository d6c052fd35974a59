package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-etl/internal/adapter/env"
	kafkaadapter "github.com/couchcryptid/weather-etl/internal/adapter/kafka"
	"github.com/couchcryptid/weather-etl/internal/adapter/memory"
	"github.com/couchcryptid/weather-etl/internal/adapter/openweather"
	"github.com/couchcryptid/weather-etl/internal/adapter/postgres"
	"github.com/couchcryptid/weather-etl/internal/adapter/s3"
	"github.com/couchcryptid/weather-etl/internal/adapter/snowflake"
	"github.com/couchcryptid/weather-etl/internal/config"
	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/couchcryptid/weather-etl/internal/observability"
	"github.com/couchcryptid/weather-etl/internal/pipeline"
	"github.com/couchcryptid/weather-etl/internal/scheduler"
)

// app holds the wired pipeline and every resource that must be released.
type app struct {
	coordinator *pipeline.Coordinator
	closers     []func() error
}

func (a *app) Close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Error("close resource", "error", err)
		}
	}
}

// buildApp wires config into the Extractor → Stager → Loader pipeline.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.Close(logger)
		return nil, err
	}

	var db *sql.DB
	if cfg.LedgerDSN != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.LedgerDSN)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, db.Close)
	}

	var secrets pipeline.SecretStore = env.NewSecrets()
	if cfg.SecretBackend == "postgres" {
		secrets = postgres.NewVariables(db)
	}

	var ledger pipeline.Ledger
	if db != nil {
		ledger = postgres.NewLedger(db)
	} else {
		logger.Warn("LEDGER_DSN not set, run history is kept in memory only")
		ledger = memory.NewLedger()
	}

	client := openweather.NewClient(cfg.WeatherAPIURL, cfg.WeatherAPITimeout, metrics, logger)
	extractor := pipeline.NewExtractor(client, secrets, cfg.WeatherAPIKeyName, cfg.Location, cfg.StagingDir, logger)

	store, err := s3.NewStore(s3.Options{Bucket: cfg.S3Bucket, Region: cfg.S3Region, Endpoint: cfg.S3Endpoint}, logger)
	if err != nil {
		return fail(err)
	}
	stager := pipeline.NewStager(store, cfg.S3Prefix, logger)

	if cfg.SnowflakeDSN == "" {
		return fail(errors.New("SNOWFLAKE_DSN is required"))
	}
	warehouse, err := snowflake.Open(ctx, cfg.SnowflakeDSN, logger)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, warehouse.Close)
	loader := pipeline.NewLoader(warehouse, cfg.SnowflakeTable, cfg.SnowflakeStage, logger)

	opts := retryOptions(cfg.Retry)
	if len(cfg.KafkaBrokers) > 0 {
		reporter := kafkaadapter.NewReporter(cfg.KafkaBrokers, cfg.KafkaStatusTopic, logger)
		a.closers = append(a.closers, reporter.Close)
		opts = append(opts, pipeline.WithReporter(reporter))
		logger.Info("run status events enabled", "topic", cfg.KafkaStatusTopic)
	}

	a.coordinator = pipeline.NewCoordinator(extractor, stager, loader, ledger, logger, metrics, opts...)
	return a, nil
}

// retryOptions converts the configured per-stage policies.
func retryOptions(policies map[string]config.RetryPolicy) []pipeline.Option {
	opts := make([]pipeline.Option, 0, len(policies))
	for _, stage := range domain.Stages {
		p, ok := policies[string(stage)]
		if !ok {
			continue
		}
		opts = append(opts, pipeline.WithRetryPolicy(stage, pipeline.RetryPolicy{
			MaxAttempts:  p.MaxAttempts,
			InitialDelay: p.InitialDelay,
			MaxDelay:     p.MaxDelay,
			Multiplier:   p.Multiplier,
		}))
	}
	return opts
}

// resolveDate parses a -date flag; empty means the logical date of a trigger
// firing at now.
func resolveDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return scheduler.LogicalDate(now), nil
	}
	d, err := domain.ParseRunDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("-date: %w", err)
	}
	return d, nil
}
