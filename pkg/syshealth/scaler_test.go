package syshealth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubReporter struct {
	health HealthMetrics
}

func (r *stubReporter) GetHealth() *HealthMetrics {
	h := r.health
	return &h
}

type scalerFixture struct {
	reporter *stubReporter
	scaler   *ConcurrencyScaler
	now      time.Time
}

func newScalerFixture(min int) *scalerFixture {
	f := &scalerFixture{
		reporter: &stubReporter{health: HealthMetrics{Zone: HealthZoneSafe}},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.scaler = NewConcurrencyScaler(f.reporter, "test", true, min)
	f.scaler.now = func() time.Time { return f.now }
	return f
}

func TestScaler_DisabledPassesThrough(t *testing.T) {
	r := &stubReporter{health: HealthMetrics{Zone: HealthZoneCritical}}
	s := NewConcurrencyScaler(r, "test", false, 1)
	assert.Equal(t, 5, s.Concurrency(5))
	assert.Equal(t, 10, s.Concurrency(10))
}

func TestScaler_Zones(t *testing.T) {
	f := newScalerFixture(1)
	assert.Equal(t, 10, f.scaler.Concurrency(10))

	f.reporter.health.Zone = HealthZoneWarning
	f.now = f.now.Add(2 * time.Minute)
	assert.Equal(t, 5, f.scaler.Concurrency(10))

	// Critical ignores the cooldown.
	f.reporter.health.Zone = HealthZoneCritical
	assert.Equal(t, 1, f.scaler.Concurrency(10))
}

func TestScaler_CooldownsAndGradualIncrease(t *testing.T) {
	f := newScalerFixture(2)
	assert.Equal(t, 20, f.scaler.Concurrency(20))

	f.reporter.health.Zone = HealthZoneWarning
	f.now = f.now.Add(10 * time.Second)
	assert.Equal(t, 20, f.scaler.Concurrency(20), "decrease waits a minute")
	f.now = f.now.Add(time.Minute)
	assert.Equal(t, 10, f.scaler.Concurrency(20))

	f.reporter.health.Zone = HealthZoneCritical
	assert.Equal(t, 2, f.scaler.Concurrency(20))

	f.reporter.health.Zone = HealthZoneSafe
	f.now = f.now.Add(4 * time.Minute)
	assert.Equal(t, 2, f.scaler.Concurrency(20), "increase waits five minutes")
	f.now = f.now.Add(time.Minute)
	assert.Equal(t, 3, f.scaler.Concurrency(20))
	f.now = f.now.Add(5 * time.Minute)
	assert.Equal(t, 4, f.scaler.Concurrency(20))
	f.now = f.now.Add(5 * time.Minute)
	assert.Equal(t, 6, f.scaler.Concurrency(20))
}

func TestScaler_StaleMetricsCountAsWarning(t *testing.T) {
	f := newScalerFixture(1)
	assert.Equal(t, 8, f.scaler.Concurrency(8))

	f.reporter.health = HealthMetrics{Zone: HealthZoneSafe, Stale: true}
	f.now = f.now.Add(2 * time.Minute)
	assert.Equal(t, 4, f.scaler.Concurrency(8))
}

func TestScaler_MinimumNeverAboveMax(t *testing.T) {
	f := newScalerFixture(5)
	f.reporter.health.Zone = HealthZoneCritical
	assert.Equal(t, 3, f.scaler.Concurrency(3))
}
