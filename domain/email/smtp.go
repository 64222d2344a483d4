package email

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/deepsoumya617/shoply/pkg/logger"
)

// SMTPSender relays mail through an SMTP server with PLAIN auth.
type SMTPSender struct {
	cfg  *Config
	log  *slog.Logger
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates an SMTP sender. Returns nil if no host is configured.
func NewSMTPSender(cfg *Config, log *slog.Logger) *SMTPSender {
	if !cfg.SMTPConfigured() {
		return nil
	}
	return &SMTPSender{
		cfg:  cfg,
		log:  log.With(logger.Scope("email.smtp")),
		send: smtp.SendMail,
	}
}

// Send implements Sender. smtp.SendMail takes no context, so the send runs in
// a goroutine and ctx only bounds how long the caller waits for it.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrNoRecipient
	}

	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	var auth smtp.Auth
	if s.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	body := buildMIME(s.cfg.from(), msg)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.sendTimeout())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.send(addr, auth, s.cfg.FromEmail, []string{msg.To}, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
	case <-ctx.Done():
		return "", fmt.Errorf("smtp send to %s: %w", msg.To, ctx.Err())
	}

	id := fmt.Sprintf("smtp-%d", time.Now().UnixNano())
	s.log.Info("email sent successfully",
		slog.String("to", msg.To),
		slog.String("message_id", id))
	return id, nil
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	if msg.HTML != "" {
		b.WriteString(msg.HTML)
	} else {
		b.WriteString(msg.Text)
	}
	return []byte(b.String())
}
