package notifier

import (
	"context"
	"fmt"
	"time"

	"medwatch-ingest/internal/config"
	"medwatch-ingest/internal/models"

	"github.com/go-resty/resty/v2"
)

// SMSChannel 短信网关渠道
type SMSChannel struct {
	client *resty.Client
	apiKey string
	to     string
}

// NewSMSChannel 创建短信渠道
func NewSMSChannel(cfg *config.ChannelConfig, timeout time.Duration) *SMSChannel {
	client := resty.New().
		SetBaseURL(cfg.SMS.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &SMSChannel{
		client: client,
		apiKey: cfg.SMS.APIKey,
		to:     cfg.SMS.To,
	}
}

func (c *SMSChannel) Name() string { return "sms" }

// Send 发送报警短信
func (c *SMSChannel) Send(ctx context.Context, alert *models.EmergencyAlert) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(map[string]interface{}{
			"to":      c.to,
			"message": alertText(alert),
		}).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("sms send failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
