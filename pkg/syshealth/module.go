package syshealth

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
)

// Module runs the host health monitor and hands out per-queue scalers.
var Module = fx.Module("syshealth",
	fx.Provide(
		NewConfig,
		provideMonitor,
		NewScalers,
	),
	fx.Invoke(RegisterMonitorLifecycle),
)

func provideMonitor(cfg *Config, pool *pgxpool.Pool, log *slog.Logger) *Monitor {
	return NewMonitor(cfg, func() (int32, int32) {
		st := pool.Stat()
		return st.AcquiredConns(), st.MaxConns()
	}, log)
}

// RegisterMonitorLifecycle starts collection with the app when enabled.
func RegisterMonitorLifecycle(lc fx.Lifecycle, m *Monitor, cfg *Config) {
	if !cfg.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return m.Start() },
		OnStop:  func(ctx context.Context) error { return m.Stop() },
	})
}

// Scalers hands out one ConcurrencyScaler per queue.
type Scalers struct {
	monitor *Monitor
	cfg     *Config
}

// NewScalers creates the scaler source.
func NewScalers(m *Monitor, cfg *Config) *Scalers {
	return &Scalers{monitor: m, cfg: cfg}
}

// For returns a new scaler for queue. It is a pass-through unless adaptive
// scaling and the monitor are both enabled.
func (s *Scalers) For(queue string) *ConcurrencyScaler {
	return NewConcurrencyScaler(s.monitor, queue, s.cfg.Enabled && s.cfg.AdaptiveScaling, s.cfg.MinConcurrency)
}
