package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchcryptid/weather-etl/internal/domain"
)

// upsertRun replaces the row for a partition unless it already records a
// successful run, so a succeeded key is never demoted.
const upsertRun = `
INSERT INTO weather_runs (partition_key, run_id, state, failed_stage, status, finished_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (partition_key) DO UPDATE SET
    run_id       = EXCLUDED.run_id,
    state        = EXCLUDED.state,
    failed_stage = EXCLUDED.failed_stage,
    status       = EXCLUDED.status,
    finished_at  = EXCLUDED.finished_at
WHERE weather_runs.state <> 'succeeded'`

const selectRun = `SELECT status FROM weather_runs WHERE partition_key = $1`

// Ledger records terminal run statuses in the weather_runs table.
// It implements pipeline.Ledger.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Lookup(ctx context.Context, key domain.PartitionKey) (domain.RunStatus, bool, error) {
	var raw []byte
	err := l.db.QueryRowContext(ctx, selectRun, string(key)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunStatus{}, false, nil
	}
	if err != nil {
		return domain.RunStatus{}, false, fmt.Errorf("select run %s: %w", key, err)
	}
	status, err := decodeStatus(raw)
	if err != nil {
		return domain.RunStatus{}, false, fmt.Errorf("decode run %s: %w", key, err)
	}
	return status, true, nil
}

func (l *Ledger) Record(ctx context.Context, status domain.RunStatus) error {
	args, err := recordArgs(status)
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, upsertRun, args...); err != nil {
		return fmt.Errorf("upsert run %s: %w", status.Key, err)
	}
	return nil
}

// Ping reports whether the ledger database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func recordArgs(status domain.RunStatus) ([]any, error) {
	if _, err := status.Key.Date(); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	if !status.State.Terminal() {
		return nil, fmt.Errorf("record run %s: state %s is not terminal", status.Key, status.State)
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("encode run %s: %w", status.Key, err)
	}
	return []any{string(status.Key), status.RunID, string(status.State), string(status.FailedStage), raw, status.FinishedAt}, nil
}

func decodeStatus(raw []byte) (domain.RunStatus, error) {
	var status domain.RunStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return domain.RunStatus{}, err
	}
	return status, nil
}
