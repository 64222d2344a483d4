package carts

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/deepsoumya617/shoply/domain/email"
	"github.com/deepsoumya617/shoply/domain/products"
	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/syshealth"
)

// Module provides the cart service and runs the cart escalation worker.
var Module = fx.Module("carts",
	fx.Provide(
		NewRepository,
		fx.Annotate(
			func(r *Repository) Store { return r },
			fx.As(new(Store)),
		),
		fx.Annotate(
			func(r *products.Repository) ProductLookup { return r },
			fx.As(new(ProductLookup)),
		),
		NewThresholds,
		NewService,
		provideWorker,
	),
	fx.Invoke(StartCartWorker),
)

func provideWorker(store Store, mailer *email.Mailer, thresholds Thresholds, cfg *config.Config, log *slog.Logger) *Worker {
	return NewWorker(store, mailer, thresholds, cfg.AppURL, log)
}

// StartCartWorker consumes the cart queue for the lifetime of the app.
// Stopping drains in-flight stages before returning.
func StartCartWorker(lc fx.Lifecycle, broker queue.Broker, w *Worker, scalers *syshealth.Scalers, cfg *config.Config, log *slog.Logger) {
	if !cfg.Queue.WorkersEnabled {
		return
	}
	wc := queue.NewWorkerConfig(cfg, queue.QueueCart)
	wc.Limiter = scalers.For(queue.QueueCart)
	worker := queue.NewWorker(broker, w.Handle, wc, log)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// fx start contexts time out; the worker outlives them.
			return worker.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return worker.Stop(ctx)
		},
	})
}
