package syshealth

import (
	"sync"
	"time"
)

// Scaling cooldowns. Decreases apply quickly; increases wait longer and grow
// by at most half the current value per step.
const (
	scaleDownCooldown = time.Minute
	scaleUpCooldown   = 5 * time.Minute
)

// ConcurrencyScaler picks a worker concurrency from the host health zone:
// the configured maximum when safe, half of it under warning and the minimum
// when critical. Stale metrics count as warning.
type ConcurrencyScaler struct {
	reporter Reporter
	queue    string
	enabled  bool
	min      int

	mu             sync.Mutex
	max            int
	current        int
	lastAdjustment time.Time
	now            func() time.Time
}

// NewConcurrencyScaler creates a scaler for queue. The maximum is taken from
// the first Concurrency call.
func NewConcurrencyScaler(reporter Reporter, queue string, enabled bool, min int) *ConcurrencyScaler {
	if min < 1 {
		min = 1
	}
	return &ConcurrencyScaler{
		reporter: reporter,
		queue:    queue,
		enabled:  enabled,
		min:      min,
		now:      time.Now,
	}
}

// Concurrency returns how many of max slots the worker may fill right now.
func (s *ConcurrencyScaler) Concurrency(max int) int {
	if !s.enabled || max < 1 {
		return max
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.max != max {
		s.max = max
		s.current = max
		s.lastAdjustment = now
	}
	floor := s.min
	if floor > max {
		floor = max
	}

	health := s.reporter.GetHealth()
	zone := health.Zone
	if health.Stale {
		zone = HealthZoneWarning
	}

	var target int
	switch zone {
	case HealthZoneCritical:
		target = floor
	case HealthZoneWarning:
		target = max / 2
		if target < floor {
			target = floor
		}
	default:
		target = max
	}

	since := now.Sub(s.lastAdjustment)
	switch {
	case target < s.current && (zone == HealthZoneCritical || since >= scaleDownCooldown):
		s.current = target
		s.lastAdjustment = now
		WorkerAdjustments.WithLabelValues(s.queue, "down").Inc()
	case target > s.current && since >= scaleUpCooldown:
		step := s.current / 2
		if step < 1 {
			step = 1
		}
		s.current += step
		if s.current > target {
			s.current = target
		}
		s.lastAdjustment = now
		WorkerAdjustments.WithLabelValues(s.queue, "up").Inc()
	}

	WorkerConcurrency.WithLabelValues(s.queue).Set(float64(s.current))
	return s.current
}
