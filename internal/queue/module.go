package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Module provides the broker selected by QUEUE_BACKEND.
//
// Domain modules build their own workers with NewWorker and register them
// with the fx lifecycle; producers depend on Producer only.
var Module = fx.Module("queue",
	fx.Provide(
		NewRetryPolicy,
		NewBroker,
		fx.Annotate(
			func(b Broker) Producer { return b },
			fx.As(new(Producer)),
		),
	),
)

// NewRetryPolicy reads the broker-wide retry defaults from config.
func NewRetryPolicy(cfg *config.Config) RetryPolicy {
	return RetryPolicy{Attempts: cfg.Queue.Attempts, Backoff: cfg.Queue.Backoff}
}

// NewWorkerConfig builds the worker settings for queue from config.
func NewWorkerConfig(cfg *config.Config, queue string) WorkerConfig {
	return WorkerConfig{
		Queue:           queue,
		Concurrency:     cfg.Queue.Concurrency,
		PollInterval:    cfg.Queue.PollInterval,
		StalledInterval: cfg.Queue.StalledInterval,
		MaxStalledCount: cfg.Queue.MaxStalledCount,
	}
}

// NewBroker creates the configured broker and ties its connections to the
// application lifecycle.
func NewBroker(lc fx.Lifecycle, cfg *config.Config, db bun.IDB, policy RetryPolicy, log *slog.Logger) (Broker, error) {
	log = log.With(logger.Scope("queue"))

	switch cfg.Queue.Backend {
	case config.QueueBackendPostgres:
		listener := NewListener(cfg.Database.DSN(), log)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				// Wakeups are an optimisation; workers still poll without them.
				if err := listener.Start(); err != nil {
					log.Warn("queue notifications unavailable, relying on polling", logger.Error(err))
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return listener.Stop()
			},
		})
		log.Info("using postgres queue backend")
		return NewPostgresBroker(db, policy, listener, log), nil

	case config.QueueBackendRedis:
		rdb, err := NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("closing redis client")
				return rdb.Close()
			},
		})
		log.Info("using redis queue backend", slog.String("key_prefix", cfg.Redis.KeyPrefix))
		return NewRedisBroker(rdb, cfg.Redis.KeyPrefix, policy, log), nil

	case config.QueueBackendMemory:
		log.Warn("using in-memory queue backend, jobs are lost on restart")
		return NewMemoryBroker(policy), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
}

// NewRedisClient connects to the Redis server at url and verifies it answers.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
