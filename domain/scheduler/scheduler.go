package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deepsoumya617/shoply/pkg/logger"
)

// defaultTaskTimeout bounds a single task run.
const defaultTaskTimeout = 5 * time.Minute

// Scheduler runs housekeeping tasks using robfig/cron.
// It supports both cron expressions and interval-based scheduling.
// A task is never run twice at once: a run still in progress when the next
// tick fires makes that tick a no-op.
type Scheduler struct {
	cron        *cron.Cron
	log         *slog.Logger
	tasks       map[string]entry
	taskTimeout time.Duration
	mu          sync.RWMutex
	running     bool
}

type entry struct {
	id       cron.EntryID
	schedule string
}

// NewScheduler creates a new scheduler
func NewScheduler(log *slog.Logger) *Scheduler {
	log = log.With(logger.Scope("scheduler"))
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Scheduler{
		cron:        c,
		log:         log,
		tasks:       make(map[string]entry),
		taskTimeout: defaultTaskTimeout,
	}
}

// Start begins the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", slog.Int("tasks", len(s.tasks)))

	return nil
}

// Stop waits for running tasks to finish, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timeout")
	}

	s.running = false
	return nil
}

// AddCronTask adds a task with a cron expression
// Cron format: "second minute hour day-of-month month day-of-week"
func (s *Scheduler) AddCronTask(name string, schedule string, task TaskFunc) error {
	if err := s.add(name, schedule, task); err != nil {
		return err
	}
	s.log.Info("added cron task",
		slog.String("name", name),
		slog.String("schedule", schedule))
	return nil
}

// AddIntervalTask adds a task that runs at a fixed interval
func (s *Scheduler) AddIntervalTask(name string, interval time.Duration, task TaskFunc) error {
	if err := s.add(name, "@every "+interval.String(), task); err != nil {
		return err
	}
	s.log.Info("added interval task",
		slog.String("name", name),
		slog.Duration("interval", interval))
	return nil
}

// add replaces any task registered under name.
func (s *Scheduler) add(name, schedule string, task TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.tasks[name]; ok {
		s.cron.Remove(e.id)
		delete(s.tasks, name)
	}

	id, err := s.cron.AddFunc(schedule, func() {
		s.runTask(name, task)
	})
	if err != nil {
		return err
	}
	s.tasks[name] = entry{id: id, schedule: schedule}
	return nil
}

// RemoveTask removes a scheduled task
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.tasks[name]; ok {
		s.cron.Remove(e.id)
		delete(s.tasks, name)
		s.log.Info("removed task", slog.String("name", name))
	}
}

// runTask executes a task with error handling
func (s *Scheduler) runTask(name string, task TaskFunc) {
	startTime := time.Now()
	s.log.Debug("running scheduled task", slog.String("name", name))

	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	if err := task(ctx); err != nil {
		s.log.Error("scheduled task failed",
			slog.String("name", name),
			logger.Error(err),
			slog.Duration("duration", time.Since(startTime)))
		return
	}

	s.log.Debug("scheduled task completed",
		slog.String("name", name),
		slog.Duration("duration", time.Since(startTime)))
}

// ListTasks returns the names of all scheduled tasks, sorted.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskInfo represents information about a scheduled task
type TaskInfo struct {
	Name     string    `json:"name"`
	NextRun  time.Time `json:"next_run"`
	PrevRun  time.Time `json:"prev_run,omitempty"`
	Schedule string    `json:"schedule"`
}

// GetTaskInfo returns information about all scheduled tasks, by name.
// NextRun is zero until the scheduler is started.
func (s *Scheduler) GetTaskInfo() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := make([]TaskInfo, 0, len(s.tasks))
	for name, e := range s.tasks {
		ce := s.cron.Entry(e.id)
		info = append(info, TaskInfo{
			Name:     name,
			NextRun:  ce.Next,
			PrevRun:  ce.Prev,
			Schedule: e.schedule,
		})
	}
	sort.Slice(info, func(i, k int) bool { return info[i].Name < info[k].Name })
	return info
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// TaskFunc is the function signature for scheduled tasks
type TaskFunc func(ctx context.Context) error
