package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/deepsoumya617/shoply/pkg/logger"
)

// MailgunSender sends emails via Mailgun API.
// This is a thin wrapper around the Mailgun SDK.
type MailgunSender struct {
	cfg    *Config
	log    *slog.Logger
	client *mailgun.MailgunImpl
}

// NewMailgunSender creates a new Mailgun email sender.
// Returns nil if Mailgun is not configured.
func NewMailgunSender(cfg *Config, log *slog.Logger) *MailgunSender {
	if !cfg.IsConfigured() {
		return nil
	}

	return &MailgunSender{
		cfg:    cfg,
		log:    log.With(logger.Scope("email.mailgun")),
		client: mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey),
	}
}

// Send sends an email via Mailgun.
func (s *MailgunSender) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrNoRecipient
	}
	if err := s.validate(); err != nil {
		return "", err
	}

	message := s.client.NewMessage(s.cfg.from(), msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}

	s.log.Debug("sending email",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject))

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.sendTimeout())
	defer cancel()

	_, messageID, err := s.client.Send(sendCtx, message)
	if err != nil {
		return "", fmt.Errorf("mailgun send to %s: %w", msg.To, err)
	}

	s.log.Info("email sent successfully",
		slog.String("to", msg.To),
		slog.String("message_id", messageID))

	return messageID, nil
}

// validate checks that the configuration is valid
func (s *MailgunSender) validate() error {
	if s.cfg.MailgunDomain == "" {
		return fmt.Errorf("MAILGUN_DOMAIN is required")
	}
	if s.cfg.MailgunAPIKey == "" {
		return fmt.Errorf("MAILGUN_API_KEY is required")
	}
	if s.cfg.FromEmail == "" {
		return fmt.Errorf("EMAIL_FROM is required")
	}
	return nil
}
