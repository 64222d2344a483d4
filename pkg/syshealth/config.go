package syshealth

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds configuration for the host health monitor and the worker
// concurrency scaler.
type Config struct {
	// Enabled starts the background collector.
	Enabled bool `env:"SYSHEALTH_ENABLED" envDefault:"true"`
	// AdaptiveScaling lets the scaler lower queue worker concurrency under load.
	AdaptiveScaling bool `env:"QUEUE_ADAPTIVE_SCALING" envDefault:"false"`
	// MinConcurrency is the floor the scaler never goes below.
	MinConcurrency int `env:"QUEUE_MIN_CONCURRENCY" envDefault:"1"`

	// CollectionInterval is how often host metrics are collected.
	CollectionInterval time.Duration `env:"SYSHEALTH_INTERVAL" envDefault:"30s"`
	// CollectionTimeout bounds a single collection cycle.
	CollectionTimeout time.Duration `env:"SYSHEALTH_TIMEOUT" envDefault:"5s"`
	// StalenessThreshold is the age after which metrics are reported stale.
	StalenessThreshold time.Duration `env:"SYSHEALTH_STALE_AFTER" envDefault:"2m"`

	IOWaitWarningPercent  float64 `env:"SYSHEALTH_IOWAIT_WARNING" envDefault:"30"`
	IOWaitCriticalPercent float64 `env:"SYSHEALTH_IOWAIT_CRITICAL" envDefault:"40"`
	// Load average thresholds are multiples of the CPU count.
	CPULoadWarningFactor  float64 `env:"SYSHEALTH_LOAD_WARNING" envDefault:"2"`
	CPULoadCriticalFactor float64 `env:"SYSHEALTH_LOAD_CRITICAL" envDefault:"3"`
	MemoryWarningPercent  float64 `env:"SYSHEALTH_MEMORY_WARNING" envDefault:"85"`
	MemoryCriticalPercent float64 `env:"SYSHEALTH_MEMORY_CRITICAL" envDefault:"95"`
	DBPoolWarningPercent  float64 `env:"SYSHEALTH_DBPOOL_WARNING" envDefault:"75"`
	DBPoolCriticalPercent float64 `env:"SYSHEALTH_DBPOOL_CRITICAL" envDefault:"90"`
}

// NewConfig reads the monitor settings from the environment.
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse syshealth config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the settings used when no environment overrides exist.
func DefaultConfig() *Config {
	return &Config{
		Enabled:               true,
		MinConcurrency:        1,
		CollectionInterval:    30 * time.Second,
		CollectionTimeout:     5 * time.Second,
		StalenessThreshold:    2 * time.Minute,
		IOWaitWarningPercent:  30,
		IOWaitCriticalPercent: 40,
		CPULoadWarningFactor:  2,
		CPULoadCriticalFactor: 3,
		MemoryWarningPercent:  85,
		MemoryCriticalPercent: 95,
		DBPoolWarningPercent:  75,
		DBPoolCriticalPercent: 90,
	}
}
