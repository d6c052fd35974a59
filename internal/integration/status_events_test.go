//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/weather-etl/internal/adapter/kafka"
	"github.com/couchcryptid/weather-etl/internal/adapter/memory"
	"github.com/couchcryptid/weather-etl/internal/adapter/openweather"
	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/couchcryptid/weather-etl/internal/observability"
	"github.com/couchcryptid/weather-etl/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const testStatusTopic = "test-run-status"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("weather-etl-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

// countingWarehouse reports one loaded row per staged object.
type countingWarehouse struct {
	store *memory.ObjectStore
}

func (w countingWarehouse) BulkCopy(_ context.Context, _ domain.CopyCommand) (int, error) {
	return len(w.store.Keys()), nil
}

type envSecrets map[string]string

func (s envSecrets) Get(_ context.Context, name string) (string, error) { return s[name], nil }

// TestRunStatusPublished drives one full run against a stubbed provider and
// reads the terminal status back from Kafka.
func TestRunStatusPublished(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testStatusTopic)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"dt":1704067200,"name":"London","main":{"temp":280.1,"feels_like":279.0,"humidity":81},"weather":[{"main":"Clouds"}],"wind":{"speed":3.1}}`))
	}))
	t.Cleanup(provider.Close)

	metrics := observability.NewMetricsForTesting()
	store := memory.NewObjectStore("weather-etl-test")
	client := openweather.NewClient(provider.URL, 5*time.Second, metrics, discardLogger())

	reporter := kafka.NewReporter([]string{broker}, testStatusTopic, discardLogger())
	t.Cleanup(func() { _ = reporter.Close() })

	c := pipeline.NewCoordinator(
		pipeline.NewExtractor(client, envSecrets{"api_key": "k"}, "api_key", "London", t.TempDir(), discardLogger()),
		pipeline.NewStager(store, "weather_data", discardLogger()),
		pipeline.NewLoader(countingWarehouse{store: store}, "weather_log", "weather_stage", discardLogger()),
		memory.NewLedger(),
		discardLogger(),
		metrics,
		pipeline.WithReporter(reporter),
	)

	status, err := c.Run(ctx, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, domain.StateSucceeded, status.State)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testStatusTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from status topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "2024-01-01", string(msg.Key))
	assert.Equal(t, status.RunID, headers["run_id"])
	assert.Equal(t, "succeeded", headers["state"])

	var published domain.RunStatus
	require.NoError(t, json.Unmarshal(msg.Value, &published))
	assert.Equal(t, status.RunID, published.RunID)
	require.NotNil(t, published.Result)
	assert.Equal(t, 1, published.Result.RowsLoaded)
	assert.Equal(t, "mem://weather-etl-test/weather_data/2024-01-01/weather.csv", published.Result.SourceURI)
}
