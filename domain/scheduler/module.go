package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Module provides the housekeeping scheduler
var Module = fx.Module("scheduler",
	fx.Provide(
		NewConfig,
		NewScheduler,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Broker    queue.Broker
	Log       *slog.Logger
	Cfg       *Config
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	prune := NewFailedJobPruneTask(p.Broker, queue.Queues, p.Cfg.FailedRetention, p.Log)
	if err := addScheduledTask(p.Scheduler, p.Log, "failed_job_prune",
		p.Cfg.FailedPruneSchedule, p.Cfg.FailedPruneInterval, prune.Run); err != nil {
		return err
	}

	depth := NewQueueDepthTask(p.Broker, queue.Queues, p.Log)
	if err := addScheduledTask(p.Scheduler, p.Log, "queue_depth",
		p.Cfg.QueueDepthSchedule, p.Cfg.QueueDepthInterval, depth.Run); err != nil {
		return err
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// addScheduledTask uses the cron schedule when one is set and the interval
// otherwise.
func addScheduledTask(s *Scheduler, log *slog.Logger, name, schedule string, interval time.Duration, task TaskFunc) error {
	if schedule != "" {
		if err := s.AddCronTask(name, schedule, task); err != nil {
			log.Error("invalid cron schedule", slog.String("task", name), slog.String("schedule", schedule), logger.Error(err))
			return err
		}
		return nil
	}
	return s.AddIntervalTask(name, interval, task)
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *Config) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
