package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes requests to a topic consumed by the delivery service
type KafkaSender struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaSender creates a KafkaSender writing to cfg.Topics.Notifications
func NewKafkaSender(cfg config.KafkaConfig, logger *zap.Logger) *KafkaSender {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.Notifications,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaSender(writer, cfg.Topics.Notifications, logger)
}

func newKafkaSender(w messageWriter, topic string, logger *zap.Logger) *KafkaSender {
	return &KafkaSender{writer: w, topic: topic, logger: logger.Named("kafka-sink")}
}

func (s *KafkaSender) Name() string { return "kafka" }

func (s *KafkaSender) Send(ctx context.Context, req Request) error {
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(req.EntityID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(req.Kind)},
			{Key: "request_id", Value: []byte(req.ID)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
