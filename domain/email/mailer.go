package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Mailer renders a template and hands the result to the Sender. It is what
// the queue workers use to send notifications.
type Mailer struct {
	templates *TemplateService
	sender    Sender
	log       *slog.Logger
}

// NewMailer creates a mailer.
func NewMailer(templates *TemplateService, sender Sender, log *slog.Logger) *Mailer {
	return &Mailer{
		templates: templates,
		sender:    sender,
		log:       log.With(logger.Scope("email.mailer")),
	}
}

// Deliver renders templateName with data and sends it to to.
func (m *Mailer) Deliver(ctx context.Context, to, subject, templateName string, data TemplateContext) error {
	tctx := make(TemplateContext, len(data)+1)
	for k, v := range data {
		tctx[k] = v
	}
	if _, ok := tctx["title"]; !ok {
		tctx["title"] = subject
	}

	rendered, err := m.templates.Render(templateName, tctx)
	if err != nil {
		return err
	}

	start := time.Now()
	id, err := m.sender.Send(ctx, Message{
		To:      to,
		Subject: subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	})
	if err != nil {
		return fmt.Errorf("send %q email: %w", templateName, err)
	}

	m.log.Debug("email delivered",
		slog.String("to", to),
		slog.String("template", templateName),
		slog.String("message_id", id),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}
