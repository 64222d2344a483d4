package products

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/deepsoumya617/shoply/pkg/apperror"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Module provides read access to the catalog for the cart and order domains.
var Module = fx.Module("products",
	fx.Provide(NewRepository),
)

// Repository handles data access for products. Catalog management lives
// outside this service; only lookups and seeding are supported here.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new product repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("products.repo")),
	}
}

// Create inserts a product and fills in its generated id.
func (r *Repository) Create(ctx context.Context, p *Product) error {
	_, err := r.db.NewInsert().
		Model(p).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetByID returns the product, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	var p Product
	err := r.db.NewSelect().
		Model(&p).
		Where("p.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &p, nil
}

// Stock returns the current stock of a product.
func (r *Repository) Stock(ctx context.Context, id uuid.UUID) (int, error) {
	var stock int
	err := r.db.NewSelect().
		Model((*Product)(nil)).
		Column("stock_quantity").
		Where("p.id = ?", id).
		Scan(ctx, &stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.NewNotFound("product", id.String())
		}
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return stock, nil
}
