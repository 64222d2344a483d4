package email

import (
	"context"
	"errors"
	"log/slog"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message and returns the provider's message id. A returned
// error fails the job that asked for the send, so the queue retries it.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ErrNoRecipient is returned for a message without a To address.
var ErrNoRecipient = errors.New("email has no recipient")

// noOpSender logs instead of sending, for development and disabled email.
type noOpSender struct {
	log *slog.Logger
}

func (s *noOpSender) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrNoRecipient
	}
	s.log.Info("email send (no-op)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject))

	return "noop-" + msg.To, nil
}
