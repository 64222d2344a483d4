package syshealth

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/deepsoumya617/shoply/pkg/logger"
)

// PoolUsage reports acquired and maximum database connections.
type PoolUsage func() (inUse, max int32)

// failureAlertThreshold is the number of consecutive failed collections
// after which failures are logged as critical.
const failureAlertThreshold = 3

// Monitor samples host load, I/O wait, memory and database pool usage on an
// interval and folds them into a 0-100 score.
type Monitor struct {
	cfg  *Config
	pool PoolUsage
	log  *slog.Logger

	mu      sync.RWMutex
	metrics HealthMetrics

	ticker  *time.Ticker
	stopCh  chan struct{}
	running bool

	lastCPUTimes   *cpu.TimesStat
	consecFailures int

	getLoadAvg  func(context.Context) (*load.AvgStat, error)
	getCPUTimes func(context.Context, bool) ([]cpu.TimesStat, error)
	getMemStats func(context.Context) (*mem.VirtualMemoryStat, error)
	getCPUCores func() int
	now         func() time.Time
}

// NewMonitor creates a monitor. pool may be nil, in which case database pool
// usage counts as zero.
func NewMonitor(cfg *Config, pool PoolUsage, log *slog.Logger) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Monitor{
		cfg:         cfg,
		pool:        pool,
		log:         log.With(logger.Scope("syshealth.monitor")),
		getLoadAvg:  load.AvgWithContext,
		getCPUTimes: cpu.TimesWithContext,
		getMemStats: mem.VirtualMemoryWithContext,
		getCPUCores: runtime.NumCPU,
		now:         time.Now,
	}
	m.metrics = HealthMetrics{Score: 100, Zone: HealthZoneSafe, Timestamp: m.now()}
	return m
}

// Start collects once and then on every interval until Stop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.ticker = time.NewTicker(m.cfg.CollectionInterval)

	go func(ticker *time.Ticker, stop <-chan struct{}) {
		m.collect()
		for {
			select {
			case <-ticker.C:
				m.collect()
			case <-stop:
				return
			}
		}
	}(m.ticker, m.stopCh)

	m.log.Info("system health monitor started", slog.Duration("interval", m.cfg.CollectionInterval))
	return nil
}

// Stop ends the collection loop.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.ticker.Stop()
	close(m.stopCh)
	m.log.Info("system health monitor stopped")
	return nil
}

// GetHealth returns a copy of the latest metrics.
func (m *Monitor) GetHealth() *HealthMetrics {
	m.mu.RLock()
	h := m.metrics
	m.mu.RUnlock()

	if m.now().Sub(h.Timestamp) > m.cfg.StalenessThreshold {
		h.Stale = true
	}
	return &h
}

func (m *Monitor) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CollectionTimeout)
	defer cancel()

	m.mu.RLock()
	prev := m.metrics
	m.mu.RUnlock()

	// Failed readings keep their previous value.
	loadAvg, ioWait, memPercent := prev.CPULoadAvg, prev.IOWaitPercent, prev.MemoryPercent
	failed := false

	if l, err := m.getLoadAvg(ctx); err == nil {
		loadAvg = l.Load1
	} else {
		failed = true
		m.log.Error("failed to collect load average", logger.Error(err))
	}

	if times, err := m.getCPUTimes(ctx, false); err != nil || len(times) == 0 {
		failed = true
		m.log.Error("failed to collect cpu times", slog.Any("error", err))
	} else {
		t := times[0]
		if m.lastCPUTimes != nil {
			deltaTotal := t.Total() - m.lastCPUTimes.Total()
			if deltaTotal > 0 {
				ioWait = (t.Iowait - m.lastCPUTimes.Iowait) / deltaTotal * 100
			}
		}
		m.lastCPUTimes = &t
	}

	if v, err := m.getMemStats(ctx); err == nil {
		memPercent = v.UsedPercent
	} else {
		failed = true
		m.log.Error("failed to collect memory stats", logger.Error(err))
	}

	var dbPercent float64
	if m.pool != nil {
		if inUse, max := m.pool(); max > 0 {
			dbPercent = float64(inUse) / float64(max) * 100
		}
	}

	if failed {
		m.consecFailures++
		if m.consecFailures >= failureAlertThreshold {
			m.log.Error("CRITICAL: persistent metric collection failures", slog.Int("failures", m.consecFailures))
		}
	} else {
		m.consecFailures = 0
	}

	cores := float64(m.getCPUCores())
	if cores == 0 {
		cores = 1
	}
	score := Score(m.cfg, loadAvg/cores, ioWait, memPercent, dbPercent)
	zone := ZoneFor(score)

	if zone != prev.Zone {
		m.log.Warn("system health zone transition",
			slog.String("old_zone", string(prev.Zone)),
			slog.String("new_zone", string(zone)),
			slog.Int("score", score))
	}

	m.mu.Lock()
	m.metrics = HealthMetrics{
		Score:         score,
		Zone:          zone,
		CPULoadAvg:    loadAvg,
		IOWaitPercent: ioWait,
		MemoryPercent: memPercent,
		DBPoolPercent: dbPercent,
		Timestamp:     m.now(),
	}
	m.mu.Unlock()

	HealthScore.Set(float64(score))
	IOWaitPercent.Set(ioWait)
	CPULoadAvg.Set(loadAvg)
	MemoryUtilization.Set(memPercent)
	DBPoolUtilization.Set(dbPercent)

	m.log.Debug("system health metrics collected",
		slog.Int("score", score),
		slog.String("zone", string(zone)),
		slog.Float64("io_wait", ioWait),
		slog.Float64("cpu_load", loadAvg),
		slog.Float64("db_pool", dbPercent),
		slog.Float64("mem", memPercent))
}

// Score weighs each component's penalty: I/O wait 40%, CPU 30%, database
// pool 20%, memory 10%. loadPerCore is the load average divided by the CPU
// count.
func Score(cfg *Config, loadPerCore, ioWait, memPercent, dbPercent float64) int {
	penalty := penaltyFor(ioWait, cfg.IOWaitWarningPercent, cfg.IOWaitCriticalPercent)*0.40 +
		penaltyFor(loadPerCore, cfg.CPULoadWarningFactor, cfg.CPULoadCriticalFactor)*0.30 +
		penaltyFor(dbPercent, cfg.DBPoolWarningPercent, cfg.DBPoolCriticalPercent)*0.20 +
		penaltyFor(memPercent, cfg.MemoryWarningPercent, cfg.MemoryCriticalPercent)*0.10

	score := 100 - int(penalty)
	if score < 0 {
		return 0
	}
	return score
}

// ZoneFor maps a score to its zone.
func ZoneFor(score int) HealthZone {
	switch {
	case score <= 33:
		return HealthZoneCritical
	case score <= 66:
		return HealthZoneWarning
	default:
		return HealthZoneSafe
	}
}

func penaltyFor(value, warning, critical float64) float64 {
	switch {
	case value >= critical:
		return 100
	case value >= warning:
		return 50
	default:
		return 0
	}
}
