package snowflake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/snowflakedb/gosnowflake"
)

// COPY INTO result statuses that indicate a file was not ingested.
const (
	statusLoadFailed    = "LOAD_FAILED"
	statusPartialLoaded = "PARTIALLY_LOADED"
)

var (
	// identifierRe accepts optionally qualified unquoted identifiers (db.schema.name).
	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

	// stagePathRe accepts a named stage reference with a relative file path.
	stagePathRe = regexp.MustCompile(`^@[A-Za-z_][A-Za-z0-9_$.]*(/[A-Za-z0-9_\-./=]+)?$`)

	errInvalidCommand = errors.New("invalid copy command")
	errFileRejected   = errors.New("staged file rejected")
)

// Warehouse issues COPY INTO statements against Snowflake.
// It implements pipeline.Warehouse.
type Warehouse struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to Snowflake using a gosnowflake DSN
// (user:password@account/database/schema?warehouse=WH&role=ROLE).
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Warehouse, error) {
	cfg, err := gosnowflake.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse snowflake dsn: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping snowflake: %w", err)
	}

	logger.Info("snowflake connected", "account", cfg.Account, "database", cfg.Database, "schema", cfg.Schema, "warehouse", cfg.Warehouse)
	return &Warehouse{db: db, logger: logger}, nil
}

// BulkCopy runs one COPY INTO and returns the number of rows appended.
// A copy that reports a rejected file is an error even if other files loaded.
func (w *Warehouse) BulkCopy(ctx context.Context, cmd domain.CopyCommand) (int, error) {
	stmt, err := copyStatement(cmd)
	if err != nil {
		return 0, err
	}

	w.logger.Debug("executing copy", "statement", stmt)
	rows, err := w.db.QueryContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", cmd.Table, err)
	}
	defer rows.Close()

	return parseCopyResult(rows)
}

// Ping checks connectivity to the warehouse.
func (w *Warehouse) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

// copyStatement renders a COPY INTO statement. Identifiers cannot be bound as
// parameters, so every interpolated part is validated first.
func copyStatement(cmd domain.CopyCommand) (string, error) {
	if !identifierRe.MatchString(cmd.Table) {
		return "", fmt.Errorf("%w: table %q", errInvalidCommand, cmd.Table)
	}
	if !stagePathRe.MatchString(cmd.Source) {
		return "", fmt.Errorf("%w: source %q", errInvalidCommand, cmd.Source)
	}
	if len(cmd.Columns) == 0 {
		return "", fmt.Errorf("%w: no columns", errInvalidCommand)
	}
	for _, c := range cmd.Columns {
		if !identifierRe.MatchString(c) || strings.Contains(c, ".") {
			return "", fmt.Errorf("%w: column %q", errInvalidCommand, c)
		}
	}
	if !identifierRe.MatchString(cmd.Format.Type) || cmd.Format.SkipHeader < 0 {
		return "", fmt.Errorf("%w: file format", errInvalidCommand)
	}

	format := fmt.Sprintf("TYPE = %s, SKIP_HEADER = %d", strings.ToUpper(cmd.Format.Type), cmd.Format.SkipHeader)
	switch cmd.Format.Enclosure {
	case "":
	case `"`:
		format += `, FIELD_OPTIONALLY_ENCLOSED_BY = '"'`
	default:
		return "", fmt.Errorf("%w: enclosure %q", errInvalidCommand, cmd.Format.Enclosure)
	}

	return fmt.Sprintf(
		"COPY INTO %s (%s) FROM %s FILE_FORMAT = (%s)",
		cmd.Table,
		strings.Join(cmd.Columns, ", "),
		cmd.Source,
		format,
	), nil
}

// resultRows is the subset of *sql.Rows used to read a COPY INTO result set.
type resultRows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// parseCopyResult sums rows_loaded across the per-file result rows. When no
// file was processed (for example, already present in load history) Snowflake
// returns a single "status" column and zero rows are reported.
func parseCopyResult(rows resultRows) (int, error) {
	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("read copy result columns: %w", err)
	}
	idx := map[string]int{}
	for i, c := range cols {
		idx[strings.ToLower(c)] = i
	}

	var loaded int
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return 0, fmt.Errorf("scan copy result: %w", err)
		}

		field := func(name string) string {
			if i, ok := idx[name]; ok {
				return vals[i].String
			}
			return ""
		}

		switch status := strings.ToUpper(field("status")); status {
		case statusLoadFailed, statusPartialLoaded:
			return 0, fmt.Errorf("%w: %s: %s: %s", errFileRejected, field("file"), status, field("first_error"))
		}

		if s := field("rows_loaded"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return 0, fmt.Errorf("parse rows_loaded %q: %w", s, err)
			}
			loaded += n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate copy result: %w", err)
	}
	return loaded, nil
}
