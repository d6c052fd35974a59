package pipeline_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/weather-etl/internal/adapter/memory"
	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/couchcryptid/weather-etl/internal/observability"
	"github.com/couchcryptid/weather-etl/internal/pipeline"
)

const (
	testStage    = "weather_db.public.weather_stage"
	testTable    = "weather_db.public.weather_log"
	testPrefix   = "weather_data"
	testKeyName  = "openweather_api_key"
	testAPIKey   = "secret-key"
	testLocation = "London"
)

var testRunDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	// Use unregistered metrics to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func londonRecord() domain.WeatherRecord {
	return domain.WeatherRecord{
		ObservedAt:  time.Unix(1704067200, 0).UTC(),
		Location:    "London",
		Temperature: 280.1,
		FeelsLike:   279.0,
		Condition:   "Clouds",
		Humidity:    81,
		WindSpeed:   3.1,
	}
}

// staticSecrets serves secrets from a map.
type staticSecrets map[string]string

func (s staticSecrets) Get(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return v, nil
}

// fakeSource returns a fixed record or error.
type fakeSource struct {
	rec     domain.WeatherRecord
	err     error
	apiKeys []string
}

func (f *fakeSource) Current(_ context.Context, _ string, apiKey string) (domain.WeatherRecord, error) {
	f.apiKeys = append(f.apiKeys, apiKey)
	return f.rec, f.err
}

// stageWarehouse reads staged objects from a memory store the way a warehouse
// stage would: resolve the stage-relative path, split fields as the file
// format says, skip the header, count rows. With loaded set it reports every
// file as already present in load history.
type stageWarehouse struct {
	store    *memory.ObjectStore
	mu       sync.Mutex
	commands []domain.CopyCommand
	err      error
	loaded   bool
}

func (w *stageWarehouse) BulkCopy(_ context.Context, cmd domain.CopyCommand) (int, error) {
	w.mu.Lock()
	w.commands = append(w.commands, cmd)
	w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}

	prefix := "@" + testStage + "/"
	if !strings.HasPrefix(cmd.Source, prefix) {
		return 0, fmt.Errorf("unknown stage in %s", cmd.Source)
	}
	data, ok := w.store.Get(strings.TrimPrefix(cmd.Source, prefix))
	if !ok {
		return 0, errors.New("staged file not found")
	}
	if w.loaded {
		return 0, nil
	}
	records, err := splitRecords(data, cmd.Format)
	if err != nil {
		return 0, err
	}
	for _, rec := range records[cmd.Format.SkipHeader:] {
		if len(rec) != len(cmd.Columns) {
			return 0, fmt.Errorf("row has %d fields, table expects %d", len(rec), len(cmd.Columns))
		}
	}
	return len(records) - cmd.Format.SkipHeader, nil
}

// splitRecords honours quoting only when the format declares an enclosure;
// otherwise every comma separates fields.
func splitRecords(data []byte, format domain.FileFormat) ([][]string, error) {
	if format.Enclosure == `"` {
		r := csv.NewReader(bytes.NewReader(data))
		r.FieldsPerRecord = -1
		return r.ReadAll()
	}
	var records [][]string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		records = append(records, strings.Split(line, ","))
	}
	return records, nil
}

// eventLog records stage invocations across fakes in call order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) count(prefix string) int {
	n := 0
	for _, e := range l.list() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// scriptedExtractor fails the first failures calls, then writes nothing and
// returns a synthetic path.
type scriptedExtractor struct {
	log      *eventLog
	failures int
	err      error
	block    chan struct{}
	calls    int
	mu       sync.Mutex
}

func (e *scriptedExtractor) Extract(ctx context.Context, key domain.PartitionKey) (string, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	e.log.add("extract %s", key)

	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return "", &domain.ExtractionError{Op: "fetch observation", Err: ctx.Err()}
		}
	}
	if e.err != nil && (e.failures == 0 || call <= e.failures) {
		return "", e.err
	}
	return "/tmp/" + string(key) + "/weather.csv", nil
}

type scriptedStager struct {
	log      *eventLog
	failures int
	err      error
	calls    int
	mu       sync.Mutex
}

func (s *scriptedStager) Stage(_ context.Context, key domain.PartitionKey, localPath string) (domain.StagedObject, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	s.log.add("stage %s", key)

	if s.err != nil && (s.failures == 0 || call <= s.failures) {
		return domain.StagedObject{}, s.err
	}
	p := pipeline.ObjectPath(testPrefix, key)
	return domain.StagedObject{Key: key, Path: p, URI: "mem://bucket/" + p, RowCount: 1}, nil
}

type scriptedLoader struct {
	log      *eventLog
	failures int
	err      error
	calls    int
	mu       sync.Mutex
}

func (l *scriptedLoader) Load(_ context.Context, obj domain.StagedObject) (domain.LoadResult, error) {
	l.mu.Lock()
	l.calls++
	call := l.calls
	l.mu.Unlock()
	l.log.add("load %s", obj.Key)

	if l.err != nil && (l.failures == 0 || call <= l.failures) {
		return domain.LoadResult{}, l.err
	}
	return domain.LoadResult{RowsLoaded: obj.RowCount, SourceURI: obj.URI}, nil
}

// recordingReporter captures reported statuses.
type recordingReporter struct {
	mu       sync.Mutex
	statuses []domain.RunStatus
}

func (r *recordingReporter) Report(_ context.Context, s domain.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
	return nil
}

func noDelay(attempts int) pipeline.RetryPolicy {
	return pipeline.RetryPolicy{MaxAttempts: attempts, Multiplier: 1}
}

func withAttempts(attempts int) []pipeline.Option {
	opts := make([]pipeline.Option, 0, len(domain.Stages))
	for _, stage := range domain.Stages {
		opts = append(opts, pipeline.WithRetryPolicy(stage, noDelay(attempts)))
	}
	return opts
}

func assertNever(t *testing.T, log *eventLog, prefix string) {
	t.Helper()
	if n := log.count(prefix); n != 0 {
		t.Fatalf("expected no %q calls, got %d: %v", prefix, n, log.list())
	}
}
