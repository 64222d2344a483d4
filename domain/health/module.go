package health

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/syshealth"
)

// Module serves the health, readiness and metrics endpoints.
var Module = fx.Module("health",
	fx.Provide(
		fx.Annotate(
			func(p *pgxpool.Pool) Pinger { return p },
			fx.As(new(Pinger)),
		),
		fx.Annotate(
			func(b queue.Broker) QueueStats { return b },
			fx.As(new(QueueStats)),
		),
		fx.Annotate(
			func(m *syshealth.Monitor) syshealth.Reporter { return m },
			fx.As(new(syshealth.Reporter)),
		),
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
