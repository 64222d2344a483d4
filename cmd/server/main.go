// Package main runs the shoply background service: the cart, order and auth
// workers, the order sweepers, the housekeeping scheduler and the ops HTTP
// server (health, readiness, metrics).
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/deepsoumya617/shoply/domain/authmail"
	"github.com/deepsoumya617/shoply/domain/carts"
	"github.com/deepsoumya617/shoply/domain/email"
	"github.com/deepsoumya617/shoply/domain/health"
	"github.com/deepsoumya617/shoply/domain/orders"
	"github.com/deepsoumya617/shoply/domain/products"
	"github.com/deepsoumya617/shoply/domain/scheduler"
	"github.com/deepsoumya617/shoply/domain/tracing"
	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/internal/database"
	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/internal/server"
	"github.com/deepsoumya617/shoply/internal/version"
	"github.com/deepsoumya617/shoply/pkg/logger"
	"github.com/deepsoumya617/shoply/pkg/syshealth"
)

func main() {
	// Load .env files if present (for local development).
	// Load() won't overwrite existing vars, Overload() will.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		database.Module,
		queue.Module,
		server.Module,
		tracing.Module,
		syshealth.Module,

		// Mail transport and templates
		email.Module,

		// Domains
		products.Module,
		carts.Module,
		orders.Module,
		authmail.Module,

		// Housekeeping and ops endpoints
		scheduler.Module,
		health.Module,

		fx.Invoke(func(log *slog.Logger) {
			log.Info("starting shoply", slog.String("version", version.String()))
		}),
	).Run()
}
