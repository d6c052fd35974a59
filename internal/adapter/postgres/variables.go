package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrVariableNotFound is returned when the variables table has no such name.
var ErrVariableNotFound = errors.New("variable not found")

// Variables reads named values (such as the provider API key) from the
// variables table. It implements pipeline.SecretStore.
type Variables struct {
	db *sql.DB
}

func NewVariables(db *sql.DB) *Variables {
	return &Variables{db: db}
}

func (v *Variables) Get(ctx context.Context, name string) (string, error) {
	var value string
	err := v.db.QueryRowContext(ctx, `SELECT value FROM variables WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("select variable %s: %w", name, err)
	}
	return value, nil
}

// Set inserts or replaces a variable.
func (v *Variables) Set(ctx context.Context, name, value string) error {
	_, err := v.db.ExecContext(ctx, `
INSERT INTO variables (name, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, name, value)
	if err != nil {
		return fmt.Errorf("upsert variable %s: %w", name, err)
	}
	return nil
}
