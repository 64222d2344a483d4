package orders

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/deepsoumya617/shoply/domain/email"
	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/syshealth"
)

// Module provides checkout and the order state machine, and runs the order
// worker with its sweepers.
var Module = fx.Module("orders",
	fx.Provide(
		NewRepository,
		fx.Annotate(
			func(r *Repository) Store { return r },
			fx.As(new(Store)),
		),
		NewTimings,
		NewNotifier,
		NewService,
		provideWorker,
	),
	fx.Invoke(StartOrderWorker),
)

func provideWorker(svc *Service, mailer *email.Mailer, cfg *config.Config, log *slog.Logger) *Worker {
	return NewWorker(svc, mailer, cfg.AppURL, log)
}

// StartOrderWorker registers the sweepers and consumes the order queue for
// the lifetime of the app.
func StartOrderWorker(lc fx.Lifecycle, broker queue.Broker, notifier *Notifier, w *Worker, scalers *syshealth.Scalers, cfg *config.Config, log *slog.Logger) {
	if !cfg.Queue.WorkersEnabled {
		return
	}
	wc := queue.NewWorkerConfig(cfg, queue.QueueOrder)
	wc.Limiter = scalers.For(queue.QueueOrder)
	worker := queue.NewWorker(broker, w.Handle, wc, log)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := notifier.RegisterSweepers(ctx); err != nil {
				return err
			}
			// fx start contexts time out; the worker outlives them.
			return worker.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return worker.Stop(ctx)
		},
	})
}
