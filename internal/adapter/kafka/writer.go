package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/joliver3/gfs-winter-weather/internal/config"
	"github.com/joliver3/gfs-winter-weather/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces forecast alerts to a Kafka topic.
// It implements watch.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured alert topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes alerts in a single WriteMessages call.
// Alerts are keyed by location so one location's alerts stay ordered.
func (w *Writer) Publish(ctx context.Context, alerts ...domain.ForecastAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(alerts))
	for i := range alerts {
		msg, err := serializeToMessage(alerts[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write alerts: %w", err)
	}
	w.logger.Debug("alerts published", "count", len(alerts), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a ForecastAlert into a Kafka message.
func serializeToMessage(alert domain.ForecastAlert) (kafkago.Message, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize forecast alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(alert.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "alert_tier", Value: []byte(alert.Tier)},
			{Key: "run_id", Value: []byte(alert.Run)},
			{Key: "generated_at", Value: []byte(alert.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
