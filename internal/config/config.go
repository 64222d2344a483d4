package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"8080"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// AppURL is the public base URL used in links sent by email
	AppURL string `env:"APP_URL" envDefault:"http://localhost:8080"`
	// AdminEmail receives administrative notifications (role change requests)
	AdminEmail string `env:"ADMIN_EMAIL" envDefault:"admin@example.com"`

	// Database settings
	Database DatabaseConfig

	// Redis settings (queue backend "redis")
	Redis RedisConfig

	// Background job queue
	Queue QueueConfig

	// Order lifecycle timings
	Order OrderConfig

	// Cart abandonment escalation timings
	Cart CartConfig

	// Email configuration
	Email EmailConfig

	// OpenTelemetry
	Otel OtelConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"shoply"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"shoply"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// RedisConfig holds the Redis connection used by the redis queue backend.
type RedisConfig struct {
	URL       string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"shoply"`
}

// Queue backends
const (
	QueueBackendPostgres = "postgres"
	QueueBackendRedis    = "redis"
	QueueBackendMemory   = "memory"
)

// QueueConfig holds broker and worker settings shared by every queue.
type QueueConfig struct {
	// Backend selects the broker implementation: postgres, redis or memory
	Backend string `env:"QUEUE_BACKEND" envDefault:"postgres"`
	// WorkersEnabled starts the cart, order and auth workers in this process
	WorkersEnabled bool `env:"QUEUE_WORKERS_ENABLED" envDefault:"true"`
	// Attempts is the number of deliveries before a job is terminally failed
	Attempts int `env:"QUEUE_ATTEMPTS" envDefault:"3"`
	// Backoff is the base of the exponential retry delay
	Backoff time.Duration `env:"QUEUE_BACKOFF" envDefault:"2s"`
	// Concurrency is the number of jobs a worker runs at once
	Concurrency int `env:"QUEUE_CONCURRENCY" envDefault:"5"`
	// PollInterval is how often an idle worker checks for due jobs
	PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	// StalledInterval is the lease window after which an active job counts as stalled
	StalledInterval time.Duration `env:"QUEUE_STALLED_INTERVAL" envDefault:"30s"`
	// MaxStalledCount is how many times a stalled job is requeued before it fails
	MaxStalledCount int `env:"QUEUE_MAX_STALLED_COUNT" envDefault:"3"`
	// FailedRetention is how long terminally failed jobs are kept for inspection
	FailedRetention time.Duration `env:"QUEUE_FAILED_RETENTION" envDefault:"168h"`
	// StatsInterval is how often queue depth gauges are refreshed
	StatsInterval time.Duration `env:"QUEUE_STATS_INTERVAL" envDefault:"1m"`
}

// OrderConfig holds the order lifecycle timings.
type OrderConfig struct {
	// PaymentWindow is how long an order may stay unpaid before the sweeper cancels it
	PaymentWindow time.Duration `env:"ORDER_PAYMENT_WINDOW" envDefault:"10m"`
	// CancelSweepInterval is how often the cancel-unpaid sweeper runs
	CancelSweepInterval time.Duration `env:"ORDER_CANCEL_SWEEP_INTERVAL" envDefault:"10m"`
	// PurgeSweepInterval is how often cancelled orders are purged
	PurgeSweepInterval time.Duration `env:"ORDER_PURGE_SWEEP_INTERVAL" envDefault:"6h"`
	// CreatedNotificationDelay delays the order confirmation email
	CreatedNotificationDelay time.Duration `env:"ORDER_CREATED_NOTIFICATION_DELAY" envDefault:"12s"`
	// TrackingOffsets are the delays after payment for each tracking step, in order
	TrackingOffsets []time.Duration `env:"ORDER_TRACKING_OFFSETS" envDefault:"10s,20s,40s,60s" envSeparator:","`
}

// CartConfig holds the abandonment escalation thresholds.
type CartConfig struct {
	FirstReminderAfter  time.Duration `env:"CART_FIRST_REMINDER_AFTER" envDefault:"24h"`
	SecondReminderAfter time.Duration `env:"CART_SECOND_REMINDER_AFTER" envDefault:"72h"`
	DeleteAfter         time.Duration `env:"CART_DELETE_AFTER" envDefault:"168h"`
}

// EmailConfig holds email service configuration
type EmailConfig struct {
	// Enabled determines if email sending is enabled
	Enabled bool `env:"EMAIL_ENABLED" envDefault:"false"`
	// MailgunDomain is the Mailgun domain
	MailgunDomain string `env:"MAILGUN_DOMAIN" envDefault:""`
	// MailgunAPIKey is the Mailgun API key
	MailgunAPIKey string `env:"MAILGUN_API_KEY" envDefault:""`
	// SMTPHost enables the SMTP transport when Mailgun is not configured
	SMTPHost     string `env:"EMAIL_HOST" envDefault:""`
	SMTPPort     int    `env:"EMAIL_PORT" envDefault:"587"`
	SMTPUser     string `env:"EMAIL_USER" envDefault:""`
	SMTPPassword string `env:"EMAIL_PASS" envDefault:""`
	// FromEmail is the default from email address
	FromEmail string `env:"EMAIL_FROM" envDefault:"noreply@example.com"`
	// FromName is the default from name
	FromName string `env:"EMAIL_FROM_NAME" envDefault:"Shoply"`
	// RatePerSecond caps outbound sends across all workers (0 disables the cap)
	RatePerSecond float64 `env:"EMAIL_RATE_PER_SECOND" envDefault:"10"`
	// Burst is the limiter bucket size
	Burst int `env:"EMAIL_RATE_BURST" envDefault:"5"`
	// SendTimeout bounds a single provider call
	SendTimeout time.Duration `env:"EMAIL_SEND_TIMEOUT" envDefault:"15s"`
}

// UseMailgun returns true if Mailgun is configured
func (e *EmailConfig) UseMailgun() bool {
	return e.MailgunDomain != "" && e.MailgunAPIKey != ""
}

// UseSMTP returns true if an SMTP relay is configured
func (e *EmailConfig) UseSMTP() bool {
	return e.SMTPHost != ""
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.Bool("workers_enabled", cfg.Queue.WorkersEnabled),
	)

	return cfg, nil
}

// Validate rejects settings the queue and lifecycle code cannot work with.
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case QueueBackendPostgres, QueueBackendRedis, QueueBackendMemory:
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND %q (want postgres, redis or memory)", c.Queue.Backend)
	}
	if c.Queue.Attempts < 1 {
		return fmt.Errorf("QUEUE_ATTEMPTS must be at least 1, got %d", c.Queue.Attempts)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1, got %d", c.Queue.Concurrency)
	}
	if len(c.Order.TrackingOffsets) != 4 {
		return fmt.Errorf("ORDER_TRACKING_OFFSETS needs 4 delays, got %d", len(c.Order.TrackingOffsets))
	}
	if !(c.Cart.FirstReminderAfter < c.Cart.SecondReminderAfter && c.Cart.SecondReminderAfter < c.Cart.DeleteAfter) {
		return fmt.Errorf("cart escalation thresholds must increase: %s, %s, %s",
			c.Cart.FirstReminderAfter, c.Cart.SecondReminderAfter, c.Cart.DeleteAfter)
	}
	return nil
}
