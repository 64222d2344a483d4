package email

import (
	"time"

	"github.com/deepsoumya617/shoply/internal/config"
)

// Config contains email service configuration
type Config struct {
	// Enabled determines if email is actually handed to a provider
	Enabled bool
	// MailgunDomain is the Mailgun domain
	MailgunDomain string
	// MailgunAPIKey is the Mailgun API key
	MailgunAPIKey string
	// SMTP relay, used when Mailgun is not configured
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	// FromEmail is the default from email address
	FromEmail string
	// FromName is the default from name
	FromName string
	// RatePerSecond caps sends across all workers; 0 disables the cap
	RatePerSecond float64
	// Burst is the limiter bucket size (default: 1)
	Burst int
	// SendTimeout bounds one provider call (default: 15s)
	SendTimeout time.Duration
}

// NewConfig creates email configuration from the app config
func NewConfig(cfg *config.Config) *Config {
	return &Config{
		Enabled:       cfg.Email.Enabled,
		MailgunDomain: cfg.Email.MailgunDomain,
		MailgunAPIKey: cfg.Email.MailgunAPIKey,
		SMTPHost:      cfg.Email.SMTPHost,
		SMTPPort:      cfg.Email.SMTPPort,
		SMTPUser:      cfg.Email.SMTPUser,
		SMTPPassword:  cfg.Email.SMTPPassword,
		FromEmail:     cfg.Email.FromEmail,
		FromName:      cfg.Email.FromName,
		RatePerSecond: cfg.Email.RatePerSecond,
		Burst:         cfg.Email.Burst,
		SendTimeout:   cfg.Email.SendTimeout,
	}
}

// IsConfigured returns true if Mailgun is configured
func (c *Config) IsConfigured() bool {
	return c.MailgunDomain != "" && c.MailgunAPIKey != ""
}

// SMTPConfigured returns true if an SMTP relay is configured
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != ""
}

func (c *Config) sendTimeout() time.Duration {
	if c.SendTimeout <= 0 {
		return 15 * time.Second
	}
	return c.SendTimeout
}

func (c *Config) from() string {
	if c.FromName == "" {
		return c.FromEmail
	}
	return c.FromName + " <" + c.FromEmail + ">"
}
