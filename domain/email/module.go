package email

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Module provides template rendering and the guarded mail sender.
var Module = fx.Module("email",
	fx.Provide(
		NewConfig,
		NewTemplateService,
		NewSender,
		NewMailer,
	),
)

// NewSender creates the appropriate email sender based on configuration.
// Mailgun wins over SMTP; with neither, or with email disabled, messages are
// only logged. Real providers sit behind a circuit breaker and the rate limiter.
func NewSender(log *slog.Logger, cfg *Config) Sender {
	log = log.With(logger.Scope("email"))

	var provider Sender
	switch {
	case !cfg.Enabled:
		log.Info("using no-op email sender (EMAIL_ENABLED=false)")
		return &noOpSender{log: log}
	case cfg.IsConfigured():
		log.Info("using Mailgun sender",
			slog.String("domain", cfg.MailgunDomain),
			slog.String("from", cfg.FromEmail))
		provider = NewMailgunSender(cfg, log)
	case cfg.SMTPConfigured():
		log.Info("using SMTP sender",
			slog.String("host", cfg.SMTPHost),
			slog.Int("port", cfg.SMTPPort),
			slog.String("from", cfg.FromEmail))
		provider = NewSMTPSender(cfg, log)
	default:
		log.Warn("email enabled but no provider configured, using no-op sender")
		return &noOpSender{log: log}
	}

	guarded := Sender(NewBreakerSender("email", provider, log))
	if cfg.RatePerSecond > 0 {
		guarded = NewRateLimitedSender(guarded, cfg.RatePerSecond, cfg.Burst)
	}
	return guarded
}
