package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer used by Reporter.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Reporter publishes terminal run statuses to a Kafka topic.
// It implements pipeline.StatusReporter.
type Reporter struct {
	writer messageWriter
	logger *slog.Logger
}

// NewReporter creates a Kafka producer for the run status topic.
func NewReporter(brokers []string, topic string, logger *slog.Logger) *Reporter {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Reporter{writer: w, logger: logger}
}

// Report publishes status keyed by its partition key, so every status for a
// date lands on the same partition in order.
func (r *Reporter) Report(ctx context.Context, status domain.RunStatus) error {
	msg, err := serializeToMessage(status)
	if err != nil {
		return err
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run status for %s: %w", status.Key, err)
	}
	r.logger.Debug("run status published", "partition_key", status.Key, "state", status.Label())
	return nil
}

func (r *Reporter) Close() error {
	return r.writer.Close()
}

// serializeToMessage marshals a RunStatus into a Kafka message.
func serializeToMessage(status domain.RunStatus) (kafkago.Message, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run status: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(status.Key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(status.RunID)},
			{Key: "state", Value: []byte(status.Label())},
			{Key: "finished_at", Value: []byte(status.FinishedAt.Format(time.RFC3339))},
		},
	}, nil
}
