package authmail

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/deepsoumya617/shoply/domain/email"
	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/syshealth"
)

// Module provides the auth email producer and runs the auth worker.
var Module = fx.Module("authmail",
	fx.Provide(
		NewProducer,
		provideWorker,
	),
	fx.Invoke(StartAuthEmailWorker),
)

func provideWorker(mailer *email.Mailer, cfg *config.Config, log *slog.Logger) *Worker {
	return NewWorker(mailer, cfg.AppURL, cfg.AdminEmail, log)
}

// StartAuthEmailWorker consumes the auth queue for the lifetime of the app.
func StartAuthEmailWorker(lc fx.Lifecycle, broker queue.Broker, w *Worker, scalers *syshealth.Scalers, cfg *config.Config, log *slog.Logger) {
	if !cfg.Queue.WorkersEnabled {
		return
	}
	wc := queue.NewWorkerConfig(cfg, queue.QueueAuth)
	wc.Limiter = scalers.For(queue.QueueAuth)
	worker := queue.NewWorker(broker, w.Handle, wc, log)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return worker.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return worker.Stop(ctx)
		},
	})
}
