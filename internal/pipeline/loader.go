package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/weather-etl/internal/domain"
)

// TableColumns are the warehouse columns receiving the staging-file columns,
// in domain.RecordHeader order.
var TableColumns = []string{"dt", "city_name", "temp", "feels_like", "conditions", "humidity", "wind_speed"}

var errRowCountMismatch = errors.New("loaded row count does not match staged row count")

// BulkLoader implements Loader by issuing a COPY from a named warehouse stage
// that points at the object-storage bucket.
type BulkLoader struct {
	warehouse Warehouse
	table     string
	stage     string
	logger    *slog.Logger
}

// NewLoader creates a BulkLoader appending to table from the named stage.
func NewLoader(warehouse Warehouse, table, stage string, logger *slog.Logger) *BulkLoader {
	return &BulkLoader{warehouse: warehouse, table: table, stage: stage, logger: logger}
}

// CopyCommandFor builds the bulk-copy request reading exactly obj's object.
func (l *BulkLoader) CopyCommandFor(obj domain.StagedObject) domain.CopyCommand {
	return domain.CopyCommand{
		Source:  "@" + l.stage + "/" + obj.Path,
		Table:   l.table,
		Columns: TableColumns,
		Format:  domain.FileFormat{Type: "CSV", SkipHeader: 1, Enclosure: `"`},
	}
}

// Load appends the staged rows to the target table. The copy must account for
// every staged row; a short count is reported as a LoadError. A copy that
// processed no file wraps domain.ErrAlreadyLoaded.
func (l *BulkLoader) Load(ctx context.Context, obj domain.StagedObject) (domain.LoadResult, error) {
	if obj.Path == "" || obj.Key == "" {
		return domain.LoadResult{}, &domain.LoadError{Op: "validate staged object", Err: fmt.Errorf("incomplete staged object %+v", obj)}
	}

	n, err := l.warehouse.BulkCopy(ctx, l.CopyCommandFor(obj))
	if err != nil {
		return domain.LoadResult{}, &domain.LoadError{Op: "copy", Err: err}
	}
	if n == 0 && obj.RowCount > 0 {
		l.logger.Warn("staged object skipped by warehouse load history",
			"partition_key", obj.Key,
			"table", l.table,
			"source", obj.URI,
			"staged_rows", obj.RowCount,
		)
		return domain.LoadResult{}, &domain.LoadError{
			Op:  "verify row count",
			Err: fmt.Errorf("%w: %s", domain.ErrAlreadyLoaded, obj.Path),
		}
	}
	if n != obj.RowCount {
		return domain.LoadResult{}, &domain.LoadError{
			Op:  "verify row count",
			Err: fmt.Errorf("%w: loaded %d, staged %d", errRowCountMismatch, n, obj.RowCount),
		}
	}

	l.logger.Info("staged object loaded", "partition_key", obj.Key, "table", l.table, "rows", n, "source", obj.URI)
	return domain.LoadResult{RowsLoaded: n, SourceURI: obj.URI}, nil
}
