package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"askhub/internal/config"

	"gopkg.in/gomail.v2"
)

// ErrMailDisabled SMTP 未配置时返回。
var ErrMailDisabled = errors.New("email config missing")

// EmailNotifier 通过 SMTP 发送邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Enabled 返回 SMTP 配置是否完整。
func (n *EmailNotifier) Enabled() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// Send 发送邮件。
func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	if !n.Enabled() {
		return ErrMailDisabled
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := n.buildMessage(msg)
	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email sent", slog.String("to", msg.To), slog.String("kind", msg.Kind))
	return nil
}

func (n *EmailNotifier) buildMessage(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", n.subject(msg.Subject))
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		if msg.HTML != "" {
			m.AddAlternative("text/html", msg.HTML)
		}
	} else {
		m.SetBody("text/html", msg.HTML)
	}
	return m
}

func (n *EmailNotifier) subject(s string) string {
	if n.cfg.SubjectPrefix == "" {
		return s
	}
	return n.cfg.SubjectPrefix + " " + s
}
