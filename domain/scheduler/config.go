package scheduler

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/deepsoumya617/shoply/internal/config"
)

// Config holds scheduler configuration
type Config struct {
	// Enabled controls whether the scheduler runs in this process
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`

	// FailedPruneInterval is how often terminally failed jobs are pruned
	FailedPruneInterval time.Duration `env:"FAILED_JOB_PRUNE_INTERVAL" envDefault:"1h"`

	// Cron schedule overrides (take precedence over intervals when set).
	// Format with seconds: "second minute hour day-of-month month day-of-week"
	// Examples: "0 */5 * * * *" (every 5 min), "0 0 2 * * *" (daily at 2am)
	FailedPruneSchedule string `env:"FAILED_JOB_PRUNE_SCHEDULE"`
	QueueDepthSchedule  string `env:"QUEUE_DEPTH_SCHEDULE"`

	// Taken from the queue settings.
	QueueDepthInterval time.Duration
	FailedRetention    time.Duration
}

// NewConfig reads the scheduler settings from the environment.
func NewConfig(app *config.Config) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse scheduler config: %w", err)
	}
	cfg.QueueDepthInterval = app.Queue.StatsInterval
	cfg.FailedRetention = app.Queue.FailedRetention
	return cfg, nil
}
