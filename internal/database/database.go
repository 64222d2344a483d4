package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/fx"

	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

var Module = fx.Module("database",
	fx.Provide(
		NewPgxPool,
		NewBunDB,
		fx.Annotate(
			func(db *bun.DB) bun.IDB { return db },
			fx.As(new(bun.IDB)),
		),
	),
)

// slowQueryThreshold is the duration above which queries are logged as warnings.
const slowQueryThreshold = 3 * time.Second

// applicationName tags this process's sessions in pg_stat_activity.
const applicationName = "shoply"

var queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "shoply_db_query_duration_seconds",
	Help:    "Bun query latency by operation and outcome",
	Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
}, []string{"operation", "outcome"})

// NewPgxPool creates the pool shared by the repositories, the Postgres
// broker and the health probes.
func NewPgxPool(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	log = log.With(logger.Scope("database"))

	pcfg, err := poolConfig(&cfg.Database)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}

	log.Info("database pool ready",
		slog.String("host", cfg.Database.Host),
		slog.String("database", cfg.Database.Database),
		slog.Int("max_conns", int(pcfg.MaxConns)),
		slog.Int("min_conns", int(pcfg.MinConns)))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			st := pool.Stat()
			log.Info("closing database pool", slog.Int("acquired", int(st.AcquiredConns())))
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

// poolConfig maps the database settings onto a pgx pool config.
func poolConfig(dc *config.DatabaseConfig) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(dc.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	if dc.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(dc.MaxOpenConns)
	}
	if dc.MaxIdleConns > 0 {
		pcfg.MinConns = min(int32(dc.MaxIdleConns), pcfg.MaxConns)
	}
	if dc.MaxIdleTime > 0 {
		pcfg.MaxConnIdleTime = dc.MaxIdleTime
	}
	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return pcfg, nil
}

// NewBunDB creates a Bun instance over the pgx pool. Query latency is always
// recorded; individual queries are logged only with DB_QUERY_DEBUG.
func NewBunDB(lc fx.Lifecycle, pool *pgxpool.Pool, cfg *config.Config, log *slog.Logger) (*bun.DB, error) {
	log = log.With(logger.Scope("bun"))

	db := Open(pool)
	db.AddQueryHook(&queryHook{log: log, debug: cfg.Database.QueryDebug})

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

// Open wraps a pgx pool in a Bun DB with the PostgreSQL dialect.
func Open(pool *pgxpool.Pool) *bun.DB {
	return bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())
}

type queryHook struct {
	log   *slog.Logger
	debug bool
}

func (h *queryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	failed := event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows)

	outcome := "ok"
	if failed {
		outcome = "error"
	}
	queryDuration.WithLabelValues(event.Operation(), outcome).Observe(duration.Seconds())

	switch {
	case failed:
		h.log.Error("query error",
			slog.String("operation", event.Operation()),
			slog.String("query", event.Query),
			slog.Duration("duration", duration),
			logger.Error(event.Err))
	case duration > slowQueryThreshold:
		h.log.Warn("slow query",
			slog.String("query", event.Query),
			slog.Duration("duration", duration))
	case h.debug:
		h.log.Debug("query",
			slog.String("query", event.Query),
			slog.Duration("duration", duration))
	}
}

// SafeTx wraps a bun.Tx so Rollback is a no-op after Commit, which lets
// callers always defer Rollback.
//
//	tx, err := BeginSafeTx(ctx, db)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//	// ...
//	return tx.Commit()
type SafeTx struct {
	bun.Tx
	committed bool
}

// BeginSafeTx starts a new transaction and returns a SafeTx wrapper.
func BeginSafeTx(ctx context.Context, db bun.IDB) (*SafeTx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &SafeTx{Tx: tx}, nil
}

// Commit commits the transaction and marks it as committed.
func (tx *SafeTx) Commit() error {
	if tx.committed {
		return nil
	}
	err := tx.Tx.Commit()
	if err == nil {
		tx.committed = true
	}
	return err
}

// Rollback rolls back the transaction only if it hasn't been committed.
func (tx *SafeTx) Rollback() error {
	if tx.committed {
		return nil
	}
	return tx.Tx.Rollback()
}
