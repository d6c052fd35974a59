package postgres

import (
	"encoding/json"
	"io/fs"
	"testing"
	"time"

	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func succeededStatus() domain.RunStatus {
	return domain.RunStatus{
		RunID:      "run-1",
		Key:        "2024-01-01",
		State:      domain.StateSucceeded,
		Attempts:   map[domain.Stage]int{domain.StageExtracting: 1, domain.StageStaging: 1, domain.StageLoading: 1},
		Staged:     &domain.StagedObject{Key: "2024-01-01", Path: "weather_data/2024-01-01/weather.csv", URI: "s3://b/weather_data/2024-01-01/weather.csv", RowCount: 1},
		Result:     &domain.LoadResult{RowsLoaded: 1, SourceURI: "s3://b/weather_data/2024-01-01/weather.csv"},
		StartedAt:  time.Date(2024, 1, 2, 0, 5, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 1, 2, 0, 6, 0, 0, time.UTC),
	}
}

func TestRecordArgs(t *testing.T) {
	status := succeededStatus()

	args, err := recordArgs(status)
	require.NoError(t, err)
	require.Len(t, args, 6)
	assert.Equal(t, "2024-01-01", args[0])
	assert.Equal(t, "run-1", args[1])
	assert.Equal(t, "succeeded", args[2])
	assert.Equal(t, "", args[3])
	assert.Equal(t, status.FinishedAt, args[5])

	decoded, err := decodeStatus(args[4].([]byte))
	require.NoError(t, err)
	if diff := cmp.Diff(status, decoded); diff != "" {
		t.Errorf("status round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordArgs_RejectsNonTerminalStatus(t *testing.T) {
	status := succeededStatus()
	status.State = domain.StateLoading

	_, err := recordArgs(status)
	require.Error(t, err)
}

func TestRecordArgs_RejectsInvalidKey(t *testing.T) {
	status := succeededStatus()
	status.Key = "yesterday"

	_, err := recordArgs(status)
	require.Error(t, err)
}

func TestDecodeStatus_Invalid(t *testing.T) {
	_, err := decodeStatus([]byte(`{"state":`))
	require.Error(t, err)
}

func TestDecodeStatus_FailedRun(t *testing.T) {
	raw, err := json.Marshal(domain.RunStatus{Key: "2024-01-01", State: domain.StateFailed, FailedStage: domain.StageStaging})
	require.NoError(t, err)

	status, err := decodeStatus(raw)
	require.NoError(t, err)
	assert.Equal(t, "failed(staging)", status.Label())
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"migrations/000001_create_weather_runs.down.sql",
		"migrations/000001_create_weather_runs.up.sql",
		"migrations/000002_create_variables.down.sql",
		"migrations/000002_create_variables.up.sql",
	}, names)
}
