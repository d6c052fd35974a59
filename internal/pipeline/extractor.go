package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/weather-etl/internal/domain"
)

// StagingFileName is the file name used both locally and in object storage.
const StagingFileName = "weather.csv"

// LocalPath returns the run-scoped local staging file for key.
func LocalPath(dir string, key domain.PartitionKey) string {
	return filepath.Join(dir, string(key), StagingFileName)
}

// WeatherExtractor implements Extractor for a single configured location.
type WeatherExtractor struct {
	source   WeatherSource
	secrets  SecretStore
	keyName  string
	location string
	dir      string
	logger   *slog.Logger
}

// NewExtractor creates a WeatherExtractor. keyName is the secret holding the
// provider API key; dir is the root of the local staging area.
func NewExtractor(source WeatherSource, secrets SecretStore, keyName, location, dir string, logger *slog.Logger) *WeatherExtractor {
	return &WeatherExtractor{
		source:   source,
		secrets:  secrets,
		keyName:  keyName,
		location: location,
		dir:      dir,
		logger:   logger,
	}
}

// Extract fetches one observation and writes it as a single-row CSV to the
// run's local path, replacing any previous content. Nothing is written unless
// a complete record was obtained.
func (e *WeatherExtractor) Extract(ctx context.Context, key domain.PartitionKey) (string, error) {
	apiKey, err := e.secrets.Get(ctx, e.keyName)
	if err != nil {
		return "", &domain.ExtractionError{Op: "fetch credential", Err: err}
	}

	rec, err := e.source.Current(ctx, e.location, apiKey)
	if err != nil {
		var extractErr *domain.ExtractionError
		if errors.As(err, &extractErr) {
			return "", err
		}
		return "", &domain.ExtractionError{Op: "fetch observation", Err: err}
	}

	data, err := encodeRecords(rec)
	if err != nil {
		return "", &domain.ExtractionError{Op: "encode record", Err: err}
	}

	path := LocalPath(e.dir, key)
	if err := writeFileAtomic(path, data); err != nil {
		return "", &domain.ExtractionError{Op: "write staging file", Err: err}
	}

	e.logger.Info("observation extracted",
		"partition_key", key,
		"location", rec.Location,
		"observed_at", rec.ObservedAt,
		"path", path,
	)
	return path, nil
}

// encodeRecords renders the staging CSV: header row, then one row per record.
func encodeRecords(recs ...domain.WeatherRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(domain.RecordHeader); err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if err := w.Write(rec.Row()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data to a temp file beside path and renames it into
// place so readers never see a partially written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
