package carts

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/deepsoumya617/shoply/pkg/apperror"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Repository handles data access for carts and cart items.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new cart repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("carts.repo")),
	}
}

func (r *Repository) findOne(ctx context.Context, column string, value uuid.UUID) (*Cart, error) {
	var cart Cart
	err := r.db.NewSelect().
		Model(&cart).
		Where("?.? = ?", bun.Ident("c"), bun.Ident(column), value).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &cart, nil
}

// FindByUser returns the user's cart, or nil when the user has none.
func (r *Repository) FindByUser(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	return r.findOne(ctx, "user_id", userID)
}

// FindByID returns the cart, or nil when it no longer exists.
func (r *Repository) FindByID(ctx context.Context, cartID uuid.UUID) (*Cart, error) {
	return r.findOne(ctx, "id", cartID)
}

// GetOrCreate returns the user's cart, creating it on first use. Either way
// the cart's last_activity is set to now.
func (r *Repository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	cart := &Cart{UserID: userID}
	_, err := r.db.NewInsert().
		Model(cart).
		On("CONFLICT (user_id) DO UPDATE").
		Set("last_activity = now()").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return cart, nil
}

// AddItem inserts the product into the cart, or adds quantity to the
// existing line. Concurrent adds of the same product accumulate.
func (r *Repository) AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) error {
	_, err := r.db.NewRaw(`
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES (?, ?, ?)
		ON CONFLICT ON CONSTRAINT cart_items_cart_product_key
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		cartID, productID, quantity,
	).Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// SetQuantity replaces the quantity of a product in the cart. It reports
// false when the product is not in the cart.
func (r *Repository) SetQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*CartItem)(nil)).
		Set("quantity = ?", quantity).
		Where("cart_id = ?", cartID).
		Where("product_id = ?", productID).
		Exec(ctx)
	return affected(res, err)
}

// RemoveItem deletes a product from the cart. It reports false when the
// product was not in the cart.
func (r *Repository) RemoveItem(ctx context.Context, cartID, productID uuid.UUID) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*CartItem)(nil)).
		Where("cart_id = ?", cartID).
		Where("product_id = ?", productID).
		Exec(ctx)
	return affected(res, err)
}

// Touch sets the cart's last_activity to now.
func (r *Repository) Touch(ctx context.Context, cartID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*Cart)(nil)).
		Set("last_activity = now()").
		Where("id = ?", cartID).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Lines returns the cart's items with product details, oldest first.
func (r *Repository) Lines(ctx context.Context, cartID uuid.UUID) ([]Line, error) {
	var lines []Line
	err := r.db.NewSelect().
		TableExpr("cart_items AS ci").
		Join("JOIN products AS p ON p.id = ci.product_id").
		ColumnExpr("ci.id AS item_id").
		ColumnExpr("ci.product_id").
		ColumnExpr("p.name, p.description, p.price").
		ColumnExpr("ci.quantity").
		Where("ci.cart_id = ?", cartID).
		OrderExpr("ci.created_at ASC, ci.id ASC").
		Scan(ctx, &lines)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return lines, nil
}

// DeleteItems empties the cart and returns how many lines were removed.
func (r *Repository) DeleteItems(ctx context.Context, cartID uuid.UUID) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*CartItem)(nil)).
		Where("cart_id = ?", cartID).
		Exec(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return n, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return n > 0, nil
}
