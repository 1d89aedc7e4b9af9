package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Sender hands a rendered request to an external delivery system
type Sender interface {
	Name() string
	Send(ctx context.Context, req Request) error
}

// LogSender writes requests to the log. Used in development and when no
// downstream delivery service is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("log-sink")}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, req Request) error {
	s.logger.Info("Notification dispatch requested",
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("entity_id", req.EntityID),
		zap.Strings("recipients", req.Recipients),
		zap.String("subject", req.Subject))
	return nil
}

// SendError describes a sink rejecting a request
type SendError struct {
	Sink       string
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s sink returned %d: %s", e.Sink, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s sink: %s", e.Sink, e.Message)
}
