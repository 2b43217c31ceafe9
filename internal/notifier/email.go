package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"medwatch-ingest/internal/config"
	"medwatch-ingest/internal/models"
)

// EmailChannel SMTP 邮件渠道
type EmailChannel struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
}

// NewEmailChannel 创建邮件渠道
func NewEmailChannel(cfg *config.ChannelConfig) *EmailChannel {
	return &EmailChannel{
		host:     cfg.Email.Host,
		port:     cfg.Email.Port,
		username: cfg.Email.Username,
		password: cfg.Email.Password,
		from:     cfg.Email.From,
		to:       splitRecipients(cfg.Email.To),
	}
}

func (c *EmailChannel) Name() string { return "email" }

// Send 发送报警邮件
//
// net/smtp 不接受 context，超时控制交给拨号方和调度器的发送超时。
func (c *EmailChannel) Send(ctx context.Context, alert *models.EmergencyAlert) error {
	if len(c.to) == 0 {
		return fmt.Errorf("email channel has no recipients")
	}

	subject := fmt.Sprintf("Emergency alert: %s (%s)", alert.AlertType, alert.Priority)
	body := alertText(alert)
	msg := []byte("To: " + strings.Join(c.to, ",") + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	auth := smtp.PlainAuth("", c.username, c.password, c.host)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, c.from, c.to, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func splitRecipients(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
