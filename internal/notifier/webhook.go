package notifier

import (
	"context"
	"fmt"
	"time"

	"medwatch-ingest/internal/config"
	"medwatch-ingest/internal/models"

	"github.com/go-resty/resty/v2"
)

// WebhookChannel 通用 HTTP webhook 渠道（报警 JSON 原样投递）
type WebhookChannel struct {
	client *resty.Client
	secret string
}

// NewWebhookChannel 创建 webhook 渠道
func NewWebhookChannel(cfg *config.ChannelConfig, timeout time.Duration) *WebhookChannel {
	client := resty.New().
		SetBaseURL(cfg.Webhook.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &WebhookChannel{
		client: client,
		secret: cfg.Webhook.Secret,
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

// Send 投递报警 JSON
func (c *WebhookChannel) Send(ctx context.Context, alert *models.EmergencyAlert) error {
	req := c.client.R().
		SetContext(ctx).
		SetBody(alert)
	if c.secret != "" {
		req.SetHeader("X-Webhook-Secret", c.secret)
	}

	resp, err := req.Post("")
	if err != nil {
		return fmt.Errorf("webhook send failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
