package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/config"
)

// WebhookSender posts requests as JSON to a downstream delivery service
type WebhookSender struct {
	url    string
	client *resty.Client
	logger *zap.Logger
}

// NewWebhookSender creates a WebhookSender. Retries apply to transport
// errors and 5xx responses only.
func NewWebhookSender(cfg config.WebhookConfig, timeout time.Duration, logger *zap.Logger) *WebhookSender {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelay).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &WebhookSender{
		url:    cfg.URL,
		client: client,
		logger: logger.Named("webhook-sink"),
	}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, req Request) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", req.ID).
		SetBody(req).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return &SendError{Sink: s.Name(), StatusCode: resp.StatusCode(), Message: resp.String()}
	}

	s.logger.Debug("Webhook accepted notification",
		zap.String("request_id", req.ID),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("duration", resp.Time()))
	return nil
}
