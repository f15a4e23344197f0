package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/trend-affiliate-report/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes resolved rows to a topic, one JSON message per row keyed by row id.
type Kafka struct {
	w     messageWriter
	topic string
	runID string
	log   *slog.Logger
}

// NewKafka connects a writer to brokers. Messages with the same key land on the same partition.
func NewKafka(brokers []string, topic, runID string, log *slog.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}
	return newKafka(w, topic, runID, log)
}

func newKafka(w messageWriter, topic, runID string, log *slog.Logger) *Kafka {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Kafka{w: w, topic: topic, runID: runID, log: log}
}

// PublishRows writes all rows in one batch.
func (k *Kafka) PublishRows(ctx context.Context, rows []models.ResolvedRow) error {
	if len(rows) == 0 {
		return nil
	}
	msgs, err := BuildMessages(rows, k.runID)
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write to %s: %w", k.topic, err)
	}
	k.log.Info("rows published", slog.String("topic", k.topic), slog.Int("count", len(msgs)))
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}

// BuildMessages encodes rows as kafka messages tagged with the run id.
func BuildMessages(rows []models.ResolvedRow, runID string) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(rows))
	for _, row := range rows {
		value, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("marshal row %q: %w", row.Keyword, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(row.ID()),
			Value: value,
			Time:  row.Timestamp,
			Headers: []kafka.Header{
				{Key: "run_id", Value: []byte(runID)},
				{Key: "date", Value: []byte(row.Date)},
			},
		})
	}
	return msgs, nil
}
