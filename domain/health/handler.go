package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/deepsoumya617/shoply/domain/email"
	"github.com/deepsoumya617/shoply/domain/scheduler"
	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/internal/version"
	"github.com/deepsoumya617/shoply/pkg/logger"
	"github.com/deepsoumya617/shoply/pkg/syshealth"
)

// Check statuses.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStats reads per-queue job counts.
type QueueStats interface {
	Stats(ctx context.Context, queue string) (queue.Stats, error)
}

// Handler handles health check requests
type Handler struct {
	db        Pinger
	queues    QueueStats
	sender    email.Sender
	system    syshealth.Reporter
	scheduler *scheduler.Scheduler
	cfg       *config.Config
	startAt   time.Time
	log       *slog.Logger
}

// NewHandler creates a new health handler
func NewHandler(db Pinger, queues QueueStats, sender email.Sender, system syshealth.Reporter, sched *scheduler.Scheduler, cfg *config.Config, log *slog.Logger) *Handler {
	return &Handler{
		db:        db,
		queues:    queues,
		sender:    sender,
		system:    system,
		scheduler: sched,
		cfg:       cfg,
		startAt:   time.Now(),
		log:       log.With(logger.Scope("health")),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Version   string                   `json:"version"`
	Checks    map[string]Check         `json:"checks"`
	Queues    map[string]queue.Stats   `json:"queues,omitempty"`
	System    *syshealth.HealthMetrics `json:"system,omitempty"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health reports database reachability, queue counts and the state of the
// mail provider breaker. An open breaker degrades the service without
// making it unhealthy: mail jobs wait in the queue. Host pressure in the
// critical zone, or stale host metrics, degrade it too.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]Check{
		"database": {Status: statusHealthy},
		"queue":    {Status: statusHealthy},
	}
	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = Check{Status: statusUnhealthy, Message: err.Error()}
	}

	stats, err := h.queueStats(ctx)
	if err != nil {
		checks["queue"] = Check{Status: statusUnhealthy, Message: err.Error()}
	}

	if r, ok := h.sender.(email.StateReporter); ok && r.State() != "" {
		state := r.State()
		check := Check{Status: statusHealthy, Message: "breaker " + state}
		if state != gobreaker.StateClosed.String() {
			check.Status = statusDegraded
		}
		checks["email"] = check
	}

	var system *syshealth.HealthMetrics
	if h.system != nil {
		system = h.system.GetHealth()
		check := Check{Status: statusHealthy, Message: fmt.Sprintf("score %d (%s)", system.Score, system.Zone)}
		if system.Stale {
			check = Check{Status: statusDegraded, Message: "metrics stale"}
		} else if system.Zone == syshealth.HealthZoneCritical {
			check.Status = statusDegraded
		}
		checks["system"] = check
	}

	overall := statusHealthy
	for _, check := range checks {
		if check.Status == statusUnhealthy {
			overall = statusUnhealthy
			break
		}
		if check.Status == statusDegraded {
			overall = statusDegraded
		}
	}

	code := http.StatusOK
	if overall == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Version,
		Checks:    checks,
		Queues:    stats,
		System:    system,
	})
}

func (h *Handler) queueStats(ctx context.Context) (map[string]queue.Stats, error) {
	out := make(map[string]queue.Stats, len(queue.Queues))
	for _, q := range queue.Queues {
		s, err := h.queues.Stats(ctx, q)
		if err != nil {
			h.log.Warn("queue stats failed", slog.String("queue", q), logger.Error(err))
			return nil, err
		}
		out[q] = s
	}
	return out, nil
}

// Healthz returns a simple health check (for k8s liveness probe)
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready returns readiness status (for k8s readiness probe)
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"message": "Database connection failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// JobMetrics returns the job counts of every queue.
func (h *Handler) JobMetrics(c echo.Context) error {
	stats, err := h.queueStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "queue stats unavailable").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"queues":    stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// SchedulerMetrics lists the housekeeping tasks and their next runs.
func (h *Handler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"running": h.scheduler.IsRunning(),
		"tasks":   h.scheduler.GetTaskInfo(),
	})
}

// Debug returns runtime information outside production.
func (h *Handler) Debug(c echo.Context) error {
	if h.cfg.Environment == "production" {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(http.StatusOK, map[string]any{
		"environment":   h.cfg.Environment,
		"go_version":    runtime.Version(),
		"goroutines":    runtime.NumGoroutine(),
		"queue_backend": h.cfg.Queue.Backend,
		"version":       version.Info(),
		"memory": map[string]any{
			"alloc_mb":       mem.Alloc / 1024 / 1024,
			"total_alloc_mb": mem.TotalAlloc / 1024 / 1024,
			"sys_mb":         mem.Sys / 1024 / 1024,
			"num_gc":         mem.NumGC,
		},
	})
}
