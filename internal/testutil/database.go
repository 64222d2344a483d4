// Package testutil sets up throwaway PostgreSQL databases for integration
// tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/internal/migrate"
)

const templateDBName = "shoply_test_template"

var (
	templateOnce sync.Once
	templateErr  error
)

// TestDB holds test database resources
type TestDB struct {
	Config  *config.Config
	Pool    *pgxpool.Pool
	DB      *bun.DB
	Name    string
	cleanup func()
}

// Close drops the test database and releases its connections.
func (t *TestDB) Close() {
	if t.cleanup != nil {
		t.cleanup()
	}
}

// SetupTestDB creates an isolated, migrated database. The first call
// migrates a template database; later calls copy it with
// CREATE DATABASE ... TEMPLATE, which takes milliseconds.
//
// Connection settings come from the usual POSTGRES_* variables. The database
// is dropped by Close.
func SetupTestDB(ctx context.Context, suffix string) (*TestDB, error) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	baseCfg, err := config.NewConfig(log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	templateOnce.Do(func() {
		templateErr = ensureTemplateDB(ctx, baseCfg)
	})
	if templateErr != nil {
		return nil, fmt.Errorf("ensure template db: %w", templateErr)
	}

	testDBName := fmt.Sprintf("shoply_test_%s_%d", suffix, time.Now().UnixNano())

	adminPool, err := createPool(ctx, baseCfg, "postgres")
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	_, err = adminPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s", testDBName, templateDBName))
	adminPool.Close()
	if err != nil {
		return nil, fmt.Errorf("create test db from template: %w", err)
	}

	testCfg := *baseCfg
	testCfg.Database.Database = testDBName

	testPool, err := createPool(ctx, baseCfg, testDBName)
	if err != nil {
		dropTestDB(ctx, baseCfg, testDBName)
		return nil, fmt.Errorf("connect to test db: %w", err)
	}
	bunDB := bun.NewDB(stdlib.OpenDBFromPool(testPool), pgdialect.New())

	return &TestDB{
		Config: &testCfg,
		Pool:   testPool,
		DB:     bunDB,
		Name:   testDBName,
		cleanup: func() {
			_ = bunDB.Close()
			testPool.Close()
			dropTestDB(context.Background(), baseCfg, testDBName)
		},
	}, nil
}

// ensureTemplateDB creates and migrates the template database once per run.
// An existing template is recreated so schema changes are always picked up.
func ensureTemplateDB(ctx context.Context, baseCfg *config.Config) error {
	dropTestDB(ctx, baseCfg, templateDBName)

	adminPool, err := createPool(ctx, baseCfg, "postgres")
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	_, err = adminPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", templateDBName))
	adminPool.Close()
	if err != nil {
		return fmt.Errorf("create template db: %w", err)
	}

	templatePool, err := createPool(ctx, baseCfg, templateDBName)
	if err != nil {
		dropTestDB(ctx, baseCfg, templateDBName)
		return fmt.Errorf("connect to template db: %w", err)
	}
	sqldb := stdlib.OpenDBFromPool(templatePool)
	err = migrate.RunWithDB(ctx, sqldb)
	_ = sqldb.Close()
	templatePool.Close()
	if err != nil {
		dropTestDB(ctx, baseCfg, templateDBName)
		return fmt.Errorf("migrate template db: %w", err)
	}
	return nil
}

func createPool(ctx context.Context, cfg *config.Config, database string) (*pgxpool.Pool, error) {
	dbCfg := cfg.Database
	dbCfg.Database = database
	poolConfig, err := pgxpool.ParseConfig(dbCfg.DSN())
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = 10

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func dropTestDB(ctx context.Context, baseCfg *config.Config, dbName string) {
	pool, err := createPool(ctx, baseCfg, "postgres")
	if err != nil {
		return
	}
	defer pool.Close()

	_, _ = pool.Exec(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()`, dbName)
	_, _ = pool.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
}

// TruncateTables empties every application table, keeping the goose
// version table.
func TruncateTables(ctx context.Context, db bun.IDB) error {
	var tables []string
	err := db.NewRaw(`
		SELECT tablename
		FROM pg_tables
		WHERE schemaname = 'public'
		AND tablename <> 'goose_db_version'`).Scan(ctx, &tables)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil
	}
	_, err = db.NewRaw(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", "))).Exec(ctx)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
