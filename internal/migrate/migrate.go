// Package migrate applies the embedded SQL migrations with Goose.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/deepsoumya617/shoply/migrations"
)

// Migrator handles database migrations.
type Migrator struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *bun.DB, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger.Named("migrator"),
	}
}

func prepare() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return nil
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	m.logger.Info("running database migrations")
	if err := RunWithDB(ctx, m.db.DB); err != nil {
		return err
	}
	m.logger.Info("migrations completed successfully")
	return nil
}

// UpTo runs migrations up to a specific version.
func (m *Migrator) UpTo(ctx context.Context, version int64) error {
	m.logger.Info("running database migrations up to version", zap.Int64("version", version))
	if err := prepare(); err != nil {
		return err
	}
	if err := goose.UpToContext(ctx, m.db.DB, ".", version); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	m.logger.Info("migrations completed successfully", zap.Int64("version", version))
	return nil
}

// Down rolls back the last migration.
func (m *Migrator) Down(ctx context.Context) error {
	m.logger.Info("rolling back last migration")
	if err := prepare(); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, m.db.DB, "."); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	m.logger.Info("rollback completed successfully")
	return nil
}

// Status prints the applied/pending state of every migration.
func (m *Migrator) Status(ctx context.Context) error {
	if err := prepare(); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, m.db.DB, "."); err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	return nil
}

// Version returns the current database version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if err := prepare(); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersionContext(ctx, m.db.DB)
	if err != nil {
		return 0, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

// RunWithDB runs all pending migrations on a raw *sql.DB connection.
func RunWithDB(ctx context.Context, db *sql.DB) error {
	if err := prepare(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
