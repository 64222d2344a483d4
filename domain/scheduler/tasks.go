package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Housekeeping is the part of the broker the scheduled tasks use.
type Housekeeping interface {
	Stats(ctx context.Context, queue string) (queue.Stats, error)
	PruneFailed(ctx context.Context, queue string, olderThan time.Duration) (int64, error)
}

// FailedJobPruneTask deletes terminally failed jobs once they are older
// than the retention window. Until then they stay visible for inspection.
type FailedJobPruneTask struct {
	broker    Housekeeping
	queues    []string
	retention time.Duration
	log       *slog.Logger
}

// NewFailedJobPruneTask creates a new failed job prune task
func NewFailedJobPruneTask(broker Housekeeping, queues []string, retention time.Duration, log *slog.Logger) *FailedJobPruneTask {
	return &FailedJobPruneTask{
		broker:    broker,
		queues:    queues,
		retention: retention,
		log:       log.With(logger.Scope("scheduler.failed_prune")),
	}
}

// Run prunes every queue. A failing queue does not stop the others.
func (t *FailedJobPruneTask) Run(ctx context.Context) error {
	start := time.Now()
	var errs []error
	var total int64
	for _, q := range t.queues {
		n, err := t.broker.PruneFailed(ctx, q, t.retention)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", q, err))
			continue
		}
		total += n
	}

	if total > 0 {
		t.log.Info("pruned failed jobs",
			slog.Int64("deleted", total),
			slog.Duration("retention", t.retention),
			slog.Duration("duration", time.Since(start)))
	}
	return errors.Join(errs...)
}

// QueueDepthTask samples per-queue job counts into the depth gauges.
type QueueDepthTask struct {
	broker Housekeeping
	queues []string
	log    *slog.Logger
}

// NewQueueDepthTask creates a new queue depth task
func NewQueueDepthTask(broker Housekeeping, queues []string, log *slog.Logger) *QueueDepthTask {
	return &QueueDepthTask{
		broker: broker,
		queues: queues,
		log:    log.With(logger.Scope("scheduler.queue_depth")),
	}
}

// Run refreshes the gauges of every queue.
func (t *QueueDepthTask) Run(ctx context.Context) error {
	var errs []error
	for _, q := range t.queues {
		s, err := t.broker.Stats(ctx, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("stats %s: %w", q, err))
			continue
		}
		queue.RecordStats(q, s)
		if s.Failed > 0 {
			t.log.Debug("queue has failed jobs",
				slog.String("queue", q),
				slog.Int64("failed", s.Failed))
		}
	}
	return errors.Join(errs...)
}
