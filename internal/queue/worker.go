package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deepsoumya617/shoply/pkg/logger"
	"github.com/deepsoumya617/shoply/pkg/tracing"
)

// Handler runs one job. A returned error makes the broker redeliver the job
// after a backoff, until the attempt cap is reached.
type Handler func(ctx context.Context, job *Job) error

// brokerCallTimeout bounds acknowledgement and lease calls made by the worker.
const brokerCallTimeout = 10 * time.Second

// WorkerConfig contains configuration for a queue worker.
type WorkerConfig struct {
	// Queue is the queue the worker consumes.
	Queue string
	// Concurrency is the number of jobs run at once (default: 5)
	Concurrency int
	// PollInterval is how often an idle worker looks for due jobs (default: 1s)
	PollInterval time.Duration
	// StalledInterval is the lease window: active jobs not renewed within it
	// are reclaimed (default: 30s). Leases of running jobs are renewed every
	// half interval.
	StalledInterval time.Duration
	// MaxStalledCount is how often a job may be reclaimed before it is failed (default: 3)
	MaxStalledCount int
	// Limiter, when set, may lower the number of slots filled below Concurrency.
	Limiter ConcurrencyLimiter
}

// ConcurrencyLimiter returns the number of slots, out of max, a worker may
// fill right now.
type ConcurrencyLimiter interface {
	Concurrency(max int) int
}

func (c *WorkerConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StalledInterval <= 0 {
		c.StalledInterval = 30 * time.Second
	}
	if c.MaxStalledCount <= 0 {
		c.MaxStalledCount = 3
	}
}

// Worker consumes one queue with bounded concurrency.
//
// Stop stops reserving new jobs and waits for running handlers to finish.
// Handlers are never cancelled: they run on a context detached from the
// worker lifecycle, so a job in flight at shutdown completes and is
// acknowledged normally.
type Worker struct {
	broker  Consumer
	handler Handler
	config  WorkerConfig
	log     *slog.Logger
	wake    <-chan struct{}

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}

	slots    chan struct{}
	freed    chan struct{}
	inflight sync.WaitGroup
	leases   map[string]*Job
	leasesMu sync.Mutex

	processedCount int64
	successCount   int64
	failureCount   int64
	metricsMu      sync.RWMutex
}

// NewWorker binds handler to config.Queue on broker. The worker does nothing
// until Start.
func NewWorker(broker Consumer, handler Handler, config WorkerConfig, log *slog.Logger) *Worker {
	config.applyDefaults()
	w := &Worker{
		broker:  broker,
		handler: handler,
		config:  config,
		log:     log.With(logger.Scope("queue.worker"), slog.String("queue", config.Queue)),
		slots:   make(chan struct{}, config.Concurrency),
		freed:   make(chan struct{}, 1),
		leases:  make(map[string]*Job),
	}
	if wk, ok := broker.(Waker); ok {
		w.wake = wk.Wakeups(config.Queue)
	}
	return w
}

// Start begins consuming. It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.mu.Unlock()

	w.log.Info("worker starting",
		slog.Int("concurrency", w.config.Concurrency),
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Duration("stalled_interval", w.config.StalledInterval),
		slog.Int("max_stalled_count", w.config.MaxStalledCount))

	// The loop outlives the start context, which fx cancels once startup ends.
	go w.run(context.WithoutCancel(ctx))
	return nil
}

// Stop stops reserving jobs and waits until every running handler has
// finished or ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	stopped := w.stoppedCh
	w.mu.Unlock()

	w.log.Info("worker draining", slog.Int("in_flight", len(w.slots)))

	select {
	case <-stopped:
		w.log.Info("worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.log.Warn("worker stop timeout, abandoning in-flight jobs", slog.Int("in_flight", len(w.slots)))
		return ctx.Err()
	}
}

// IsRunning returns whether the worker is currently running
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedCh)

	poll := time.NewTicker(w.config.PollInterval)
	defer poll.Stop()
	stalled := time.NewTicker(w.config.StalledInterval)
	defer stalled.Stop()
	heartbeat := time.NewTicker(w.config.StalledInterval / 2)
	defer heartbeat.Stop()

	// Jobs left active by a previous process are picked up again here.
	w.recoverStalled(ctx)
	w.fill(ctx)

	for {
		select {
		case <-w.stopCh:
			w.drain(ctx, heartbeat)
			return
		case <-poll.C:
			w.fill(ctx)
		case <-w.wake:
			w.fill(ctx)
		case <-w.freed:
			w.fill(ctx)
		case <-stalled.C:
			w.recoverStalled(ctx)
		case <-heartbeat.C:
			w.extendLeases(ctx)
		}
	}
}

// drain keeps leases alive until every in-flight handler has returned.
func (w *Worker) drain(ctx context.Context, heartbeat *time.Ticker) {
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			w.extendLeases(ctx)
		}
	}
}

// fill reserves as many jobs as there are free slots.
func (w *Worker) fill(ctx context.Context) {
	select {
	case <-w.stopCh:
		return
	default:
	}

	free := w.allowed() - len(w.slots)
	if free <= 0 {
		return
	}

	jobs, err := w.broker.Reserve(ctx, w.config.Queue, free)
	if err != nil {
		w.log.Warn("reserve failed", logger.Error(err))
		return
	}
	for _, job := range jobs {
		w.slots <- struct{}{}
		w.inflight.Add(1)
		w.track(job)
		WorkerBusy.WithLabelValues(w.config.Queue).Inc()
		go w.execute(ctx, job)
	}
}

// allowed is the slot count after the limiter, never above Concurrency nor
// below one.
func (w *Worker) allowed() int {
	n := cap(w.slots)
	if w.config.Limiter == nil {
		return n
	}
	if l := w.config.Limiter.Concurrency(n); l < n {
		n = l
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (w *Worker) track(job *Job) {
	w.leasesMu.Lock()
	w.leases[job.Token] = job
	w.leasesMu.Unlock()
}

func (w *Worker) untrack(job *Job) {
	w.leasesMu.Lock()
	delete(w.leases, job.Token)
	w.leasesMu.Unlock()
}

func (w *Worker) execute(ctx context.Context, job *Job) {
	defer func() {
		w.untrack(job)
		WorkerBusy.WithLabelValues(w.config.Queue).Dec()
		<-w.slots
		w.inflight.Done()
		select {
		case w.freed <- struct{}{}:
		default:
		}
	}()

	ctx, span := tracing.Start(ctx, "queue.job",
		attribute.String("shoply.queue", job.Queue),
		attribute.String("shoply.job.id", job.ID),
		attribute.String("shoply.job.kind", string(job.Kind)),
		attribute.Int("shoply.job.attempt", job.Attempts),
	)
	defer span.End()

	log := w.log.With(
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Int("attempt", job.Attempts),
	)

	start := time.Now()
	err := w.safeHandle(ctx, job)
	JobDuration.WithLabelValues(job.Queue, string(job.Kind)).Observe(time.Since(start).Seconds())

	ackCtx, cancel := context.WithTimeout(ctx, brokerCallTimeout)
	defer cancel()

	if err == nil {
		w.incrementSuccess()
		JobsProcessed.WithLabelValues(job.Queue, string(job.Kind), outcomeCompleted).Inc()
		if cerr := w.broker.Complete(ackCtx, job); cerr != nil {
			log.Error("acknowledge failed, job will be redelivered", logger.Error(cerr))
			return
		}
		log.Debug("job completed", slog.Duration("duration", time.Since(start)))
		return
	}

	tracing.Fail(span, err)
	w.incrementFailure()

	res, ferr := w.broker.Fail(ackCtx, job, err)
	if ferr != nil {
		log.Error("recording job failure failed", logger.Error(err), slog.String("record_error", ferr.Error()))
		return
	}
	if res.Stale {
		JobsProcessed.WithLabelValues(job.Queue, string(job.Kind), outcomeStale).Inc()
		log.Warn("job failed after its lease was lost, another delivery owns it", logger.Error(err))
		return
	}
	if res.Final {
		JobsProcessed.WithLabelValues(job.Queue, string(job.Kind), outcomeFailed).Inc()
		log.Error("job failed permanently",
			logger.Error(err),
			slog.Int("max_attempts", job.MaxAttempts))
		return
	}
	JobsProcessed.WithLabelValues(job.Queue, string(job.Kind), outcomeRetried).Inc()
	log.Warn("job failed, will retry",
		logger.Error(err),
		slog.Time("retry_at", res.RetryAt))
}

// safeHandle turns a handler panic into a job failure.
func (w *Worker) safeHandle(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job handler panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) recoverStalled(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, brokerCallTimeout)
	defer cancel()

	report, err := w.broker.RecoverStalled(rctx, w.config.Queue, w.config.StalledInterval, w.config.MaxStalledCount)
	if err != nil {
		w.log.Warn("stalled job recovery failed", logger.Error(err))
		return
	}
	if report.Requeued > 0 {
		JobsStalled.WithLabelValues(w.config.Queue, "requeued").Add(float64(report.Requeued))
		w.log.Warn("requeued stalled jobs", slog.Int("count", report.Requeued))
	}
	if report.Failed > 0 {
		JobsStalled.WithLabelValues(w.config.Queue, "failed").Add(float64(report.Failed))
		w.log.Error("failed jobs that stalled too often",
			slog.Int("count", report.Failed),
			slog.Int("max_stalled_count", w.config.MaxStalledCount))
	}
}

func (w *Worker) extendLeases(ctx context.Context) {
	w.leasesMu.Lock()
	jobs := make([]*Job, 0, len(w.leases))
	for _, j := range w.leases {
		jobs = append(jobs, j)
	}
	w.leasesMu.Unlock()

	for _, job := range jobs {
		ectx, cancel := context.WithTimeout(ctx, brokerCallTimeout)
		if err := w.broker.Extend(ectx, job); err != nil {
			w.log.Warn("lease renewal failed", slog.String("job_id", job.ID), logger.Error(err))
		}
		cancel()
	}
}

// Metrics returns current worker metrics
func (w *Worker) Metrics() WorkerMetrics {
	w.metricsMu.RLock()
	defer w.metricsMu.RUnlock()

	return WorkerMetrics{
		Processed: w.processedCount,
		Succeeded: w.successCount,
		Failed:    w.failureCount,
	}
}

func (w *Worker) incrementSuccess() {
	w.metricsMu.Lock()
	w.processedCount++
	w.successCount++
	w.metricsMu.Unlock()
}

func (w *Worker) incrementFailure() {
	w.metricsMu.Lock()
	w.processedCount++
	w.failureCount++
	w.metricsMu.Unlock()
}

// WorkerMetrics contains worker metrics
type WorkerMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}
