package syshealth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HealthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoply_system_health_score",
		Help: "Overall host health score (0-100)",
	})

	IOWaitPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoply_system_io_wait_percent",
		Help: "Host I/O wait percentage",
	})

	CPULoadAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoply_system_cpu_load_avg_1m",
		Help: "Host 1 minute load average",
	})

	MemoryUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoply_system_memory_utilization_percent",
		Help: "Host memory utilization percentage",
	})

	DBPoolUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoply_system_db_pool_utilization_percent",
		Help: "Database connection pool utilization percentage",
	})

	WorkerConcurrency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shoply_queue_worker_concurrency",
		Help: "Concurrency currently allowed by the scaler, by queue",
	}, []string{"queue"})

	WorkerAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoply_queue_worker_concurrency_adjustments_total",
		Help: "Concurrency changes made by the scaler",
	}, []string{"queue", "direction"})
)
