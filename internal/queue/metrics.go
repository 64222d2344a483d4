package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome labels.
const (
	outcomeCompleted = "completed"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
	outcomeStale     = "stale"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoply_queue_jobs_processed_total",
		Help: "Jobs run by workers, by queue, kind and outcome",
	}, []string{"queue", "kind", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shoply_queue_job_duration_seconds",
		Help:    "Handler run time per job",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue", "kind"})

	JobsStalled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoply_queue_jobs_stalled_total",
		Help: "Jobs reclaimed from dead workers, by queue and outcome",
	}, []string{"queue", "outcome"})

	WorkerBusy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shoply_queue_worker_busy",
		Help: "Jobs currently running in this process, by queue",
	}, []string{"queue"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shoply_queue_depth",
		Help: "Jobs held by the broker, by queue and state",
	}, []string{"queue", "state"})
)

// RecordStats publishes a stats snapshot to the depth gauge.
func RecordStats(queue string, s Stats) {
	QueueDepth.WithLabelValues(queue, "waiting").Set(float64(s.Waiting))
	QueueDepth.WithLabelValues(queue, "delayed").Set(float64(s.Delayed))
	QueueDepth.WithLabelValues(queue, "active").Set(float64(s.Active))
	QueueDepth.WithLabelValues(queue, "failed").Set(float64(s.Failed))
}
