// Command weather-etl extracts the current weather observation, stages it in
// S3 and bulk-loads it into Snowflake.
//
// Usage:
//
//	weather-etl run [-date 2024-01-01]
//	weather-etl backfill -from 2024-01-01 -to 2024-01-31 [-concurrency 4]
//	weather-etl serve
//	weather-etl migrate
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/weather-etl/internal/adapter/http"
	"github.com/couchcryptid/weather-etl/internal/adapter/postgres"
	"github.com/couchcryptid/weather-etl/internal/config"
	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/couchcryptid/weather-etl/internal/observability"
	"github.com/couchcryptid/weather-etl/internal/scheduler"
	"github.com/jonboulle/clockwork"
)

const usage = "usage: weather-etl <run|backfill|serve|migrate> [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "run":
		err = runOnce(ctx, cfg, logger, args)
	case "backfill":
		err = backfill(ctx, cfg, logger, args)
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	date := fs.String("date", "", "logical run date (YYYY-MM-DD); defaults to yesterday in UTC")
	if err := fs.Parse(args); err != nil {
		return err
	}
	runDate, err := resolveDate(*date, time.Now())
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer a.Close(logger)

	status, err := a.coordinator.Run(ctx, runDate)
	if err != nil {
		return err
	}
	logger.Info("run complete", "partition_key", status.Key, "state", status.Label(), "skipped", status.Skipped)
	return nil
}

func backfill(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	fromFlag := fs.String("from", "", "first run date (YYYY-MM-DD)")
	toFlag := fs.String("to", "", "last run date (YYYY-MM-DD), inclusive")
	concurrency := fs.Int("concurrency", cfg.BackfillConcurrency, "runs in flight at once")
	if err := fs.Parse(args); err != nil {
		return err
	}
	from, err := domain.ParseRunDate(*fromFlag)
	if err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	to, err := domain.ParseRunDate(*toFlag)
	if err != nil {
		return fmt.Errorf("-to: %w", err)
	}

	a, err := buildApp(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer a.Close(logger)

	statuses, err := a.coordinator.Backfill(ctx, from, to, *concurrency)
	for _, s := range statuses {
		logger.Info("backfill result", "partition_key", s.Key, "state", s.Label(), "skipped", s.Skipped)
	}
	return err
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer a.Close(logger)

	srv := httpadapter.NewServer(cfg.HTTPAddr, a.coordinator, logger)
	sched := scheduler.New(a.coordinator, cfg.ScheduleAt, clockwork.NewRealClock(), logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.LedgerDSN == "" {
		return errors.New("LEDGER_DSN is required")
	}
	db, err := postgres.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	return postgres.Migrate(db, logger)
}
