package syshealth

import "time"

// HealthZone is the band the health score falls into.
type HealthZone string

const (
	// HealthZoneCritical indicates severe resource pressure (score 0-33).
	HealthZoneCritical HealthZone = "critical"
	// HealthZoneWarning indicates moderate resource pressure (score 34-66).
	HealthZoneWarning HealthZone = "warning"
	// HealthZoneSafe indicates healthy resource utilization (score 67-100).
	HealthZoneSafe HealthZone = "safe"
)

// HealthMetrics holds the last collected host metrics and the derived score.
type HealthMetrics struct {
	// Score is the overall health score (0-100, higher is healthier).
	Score int `json:"score"`
	// Zone is derived from Score.
	Zone HealthZone `json:"zone"`

	CPULoadAvg    float64 `json:"cpuLoadAvg"`
	IOWaitPercent float64 `json:"ioWaitPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	// DBPoolPercent is the share of database connections currently acquired.
	DBPoolPercent float64 `json:"dbPoolPercent"`

	Timestamp time.Time `json:"timestamp"`
	// Stale is set when the last collection is older than the staleness threshold.
	Stale bool `json:"stale"`
}

// Reporter exposes the latest health metrics.
type Reporter interface {
	GetHealth() *HealthMetrics
}
