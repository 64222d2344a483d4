// Package main applies the embedded database migrations.
//
// Usage:
//
//	migrate [-dsn postgres://...] up|down|status|version|up-to <version>
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"github.com/deepsoumya617/shoply/internal/migrate"
)

func main() {
	_ = godotenv.Load(".env")

	dsnFlag := flag.String("dsn", "", "PostgreSQL DSN (defaults to DATABASE_URL or POSTGRES_* variables)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-dsn <dsn>] up|down|status|version|up-to <version>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn(*dsnFlag))))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	if err := run(context.Background(), migrate.NewMigrator(db, log), flag.Args()); err != nil {
		log.Error("migration failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, m *migrate.Migrator, args []string) error {
	switch args[0] {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx)
	case "status":
		return m.Status(ctx)
	case "version":
		v, err := m.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	case "up-to":
		if len(args) < 2 {
			return fmt.Errorf("up-to needs a version")
		}
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return m.UpTo(ctx, v)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func dsn(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "shoply"),
		getEnv("POSTGRES_PASSWORD", ""),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "shoply"),
		getEnv("POSTGRES_SSL_MODE", "disable"))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
