package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/config"
	"github.com/aegisshield/compliance-tracker/internal/metrics"
	"github.com/aegisshield/compliance-tracker/internal/models"
	"github.com/aegisshield/compliance-tracker/internal/tracker"
)

const (
	maxAttempts  = 3
	retryBackoff = time.Second
)

// StatusHandler applies one reported status change
type StatusHandler interface {
	HandleStatusChange(ctx context.Context, change models.StatusChange) (*tracker.ChangeResult, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StatusChangeMessage is the payload published by the background-check workflow.
// The topic carries workflow actors only; admin transitions go through the HTTP API.
type StatusChangeMessage struct {
	EntityID  string                 `json:"entity_id"`
	NewStatus string                 `json:"new_status"`
	Actor     models.Actor           `json:"actor"`
	Reason    *string                `json:"reason,omitempty"`
	Notes     *string                `json:"notes,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Consumer reads status changes from kafka and feeds them to the tracker
type Consumer struct {
	reader  messageReader
	topic   string
	handler StatusHandler
	metrics *metrics.Collector
	logger  *zap.Logger
	backoff time.Duration
}

// NewConsumer creates a consumer-group reader on cfg.Topics.StatusChanges
func NewConsumer(cfg config.KafkaConfig, handler StatusHandler, collector *metrics.Collector, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topics.StatusChanges,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		CommitInterval: cfg.CommitInterval,
		StartOffset:    kafka.FirstOffset,
		ErrorLogger:    kafka.LoggerFunc(logger.Sugar().Named("kafka-reader").Errorf),
	})
	return newConsumer(reader, cfg.Topics.StatusChanges, handler, collector, logger)
}

func newConsumer(r messageReader, topic string, handler StatusHandler, collector *metrics.Collector, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:  r,
		topic:   topic,
		handler: handler,
		metrics: collector,
		logger:  logger.Named("status-consumer"),
		backoff: retryBackoff,
	}
}

// Run consumes until ctx is cancelled. Messages are committed once handled,
// including ones that are malformed or describe an invalid transition.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Starting status change consumer", zap.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Status change consumer stopped")
				return nil
			}
			c.logger.Error("Failed to fetch message", zap.Error(err))
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		outcome := c.process(ctx, msg)
		c.metrics.RecordEventProcessed(c.topic, outcome)
		if outcome == "cancelled" {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to commit message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) string {
	change, err := decode(msg.Value)
	if err != nil {
		c.logger.Warn("Discarding malformed status change",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return "malformed"
	}

	for attempt := 1; ; attempt++ {
		_, err := c.handler.HandleStatusChange(ctx, change)
		switch {
		case err == nil:
			c.logger.Debug("Applied status change",
				zap.String("entity_id", change.EntityID),
				zap.String("new_status", change.NewStatus.String()))
			return "processed"
		case errors.Is(err, models.ErrInvalidTransition):
			c.logger.Warn("Rejected status change",
				zap.String("entity_id", change.EntityID),
				zap.String("new_status", change.NewStatus.String()),
				zap.Error(err))
			return "rejected"
		case attempt >= maxAttempts:
			c.logger.Error("Dropping status change after retries",
				zap.String("entity_id", change.EntityID),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return "failed"
		}

		c.logger.Warn("Retrying status change",
			zap.String("entity_id", change.EntityID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if !sleep(ctx, c.backoff) {
			return "cancelled"
		}
	}
}

func decode(value []byte) (models.StatusChange, error) {
	var msg StatusChangeMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return models.StatusChange{}, fmt.Errorf("failed to unmarshal status change: %w", err)
	}
	if msg.EntityID == "" {
		return models.StatusChange{}, errors.New("entity_id is required")
	}
	status, err := models.ParseStatus(msg.NewStatus)
	if err != nil {
		return models.StatusChange{}, err
	}
	if msg.Actor.ID == "" {
		msg.Actor = models.SystemActor
	}
	switch msg.Actor.Role {
	case "":
		msg.Actor.Role = models.RoleUser
	case models.RoleUser, models.RoleAutomated:
	default:
		return models.StatusChange{}, fmt.Errorf("actor role %q is not accepted from the status change topic", msg.Actor.Role)
	}

	return models.StatusChange{
		EntityID:  msg.EntityID,
		NewStatus: status,
		Actor:     msg.Actor,
		Reason:    msg.Reason,
		Notes:     msg.Notes,
		Metadata:  msg.Metadata,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
