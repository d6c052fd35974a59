package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"slices"

	"github.com/couchcryptid/weather-etl/internal/domain"
)

var errNoDataRows = errors.New("staging file has no data rows")

// ObjectPath returns the object-storage key for a partition. It depends only
// on prefix and key, so re-staging a partition targets the same object.
func ObjectPath(prefix string, key domain.PartitionKey) string {
	return path.Join(prefix, string(key), StagingFileName)
}

// ObjectStager implements Stager on top of an ObjectStore.
type ObjectStager struct {
	store  ObjectStore
	prefix string
	logger *slog.Logger
}

// NewStager creates an ObjectStager writing under prefix.
func NewStager(store ObjectStore, prefix string, logger *slog.Logger) *ObjectStager {
	return &ObjectStager{store: store, prefix: prefix, logger: logger}
}

// Stage uploads the local file for key and returns the staged object once the
// store has acknowledged the write.
func (s *ObjectStager) Stage(ctx context.Context, key domain.PartitionKey, localPath string) (domain.StagedObject, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return domain.StagedObject{}, &domain.StagingError{Op: "read local file", Err: err}
	}

	rows, err := countDataRows(data)
	if err != nil {
		return domain.StagedObject{}, &domain.StagingError{Op: "inspect local file", Err: err}
	}

	objectPath := ObjectPath(s.prefix, key)
	if err := s.store.Put(ctx, objectPath, data); err != nil {
		return domain.StagedObject{}, &domain.StagingError{Op: "upload", Err: err}
	}

	obj := domain.StagedObject{
		Key:      key,
		Path:     objectPath,
		URI:      s.store.URI(objectPath),
		RowCount: rows,
	}
	s.logger.Info("staging file uploaded", "partition_key", key, "uri", obj.URI, "rows", rows, "bytes", len(data))
	return obj, nil
}

// countDataRows checks the header against the record schema and counts the
// rows that follow it.
func countDataRows(data []byte) (int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(domain.RecordHeader)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return 0, errNoDataRows
	}
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(header, domain.RecordHeader) {
		return 0, fmt.Errorf("unexpected header %v", header)
	}

	var rows int
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read row %d: %w", rows+1, err)
		}
		rows++
	}
	if rows == 0 {
		return 0, errNoDataRows
	}
	return rows, nil
}
