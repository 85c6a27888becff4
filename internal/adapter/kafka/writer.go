// Package kafka publishes risk assessments for downstream consumers (dashboards,
// alerting) on a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// Writer produces risk assessments to a Kafka topic.
// It implements risk.Publisher.
type Writer struct {
	writer  *kafkago.Writer
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWriter creates an asynchronous Kafka producer for the configured risk topic.
// Delivery failures are logged and counted; they never reach the caller.
func NewWriter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	w := &Writer{metrics: metrics, logger: logger}
	w.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaRiskTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   w.completed,
	}
	return w
}

// Publish queues one assessment. The assessment id is the message key.
func (w *Writer) Publish(ctx context.Context, a domain.RiskAssessment) error {
	msg, err := serializeToMessage(a)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) completed(msgs []kafkago.Message, err error) {
	if err != nil {
		w.metrics.AssessmentsPublished.WithLabelValues("error").Add(float64(len(msgs)))
		w.logger.Error("publish risk assessments", "count", len(msgs), "topic", w.writer.Topic, "error", err)
		return
	}
	w.metrics.AssessmentsPublished.WithLabelValues("success").Add(float64(len(msgs)))
}

// Close flushes pending messages.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a RiskAssessment into a Kafka message.
func serializeToMessage(a domain.RiskAssessment) (kafkago.Message, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize risk assessment: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(a.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "at_risk", Value: []byte(strconv.Itoa(a.AtRisk))},
			{Key: "computed_at", Value: []byte(a.ComputedAt.Format(time.RFC3339))},
			{Key: "name_keys_version", Value: []byte(a.NameKeysVersion)},
		},
	}, nil
}
