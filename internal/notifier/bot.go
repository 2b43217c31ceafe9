package notifier

import (
	"context"
	"fmt"
	"time"

	"medwatch-ingest/internal/config"
	"medwatch-ingest/internal/models"

	"github.com/go-resty/resty/v2"
)

// BotChannel 消息机器人渠道（Telegram 风格 sendMessage API）
type BotChannel struct {
	client *resty.Client
	token  string
	chatID string
}

// NewBotChannel 创建机器人渠道
//
// 重试策略由调度器统一掌握，客户端只设超时不设重试。
func NewBotChannel(cfg *config.ChannelConfig, timeout time.Duration) *BotChannel {
	client := resty.New().
		SetBaseURL(cfg.Bot.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &BotChannel{
		client: client,
		token:  cfg.Bot.Token,
		chatID: cfg.Bot.ChatID,
	}
}

func (c *BotChannel) Name() string { return "bot" }

// Send 发送报警消息
func (c *BotChannel) Send(ctx context.Context, alert *models.EmergencyAlert) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id": c.chatID,
			"text":    alertText(alert),
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", c.token))
	if err != nil {
		return fmt.Errorf("bot send failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("bot API returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
