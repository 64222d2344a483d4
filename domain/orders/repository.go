package orders

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/deepsoumya617/shoply/domain/carts"
	"github.com/deepsoumya617/shoply/domain/products"
	"github.com/deepsoumya617/shoply/internal/database"
	"github.com/deepsoumya617/shoply/pkg/apperror"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Repository handles data access for orders.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new order repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("orders.repo")),
	}
}

// PlaceOrder turns the selected cart items, or the whole cart when selected
// is empty, into an AWAITING_PAYMENT order in one transaction. Stock is
// decremented with a guarded update, so of two checkouts racing for the last
// unit exactly one commits and the other gets insufficient_stock.
func (r *Repository) PlaceOrder(ctx context.Context, userID uuid.UUID, selected []uuid.UUID) (*Placement, error) {
	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	// Locking the cart serialises checkouts of the same user.
	var cartID uuid.UUID
	err = tx.NewSelect().
		Model((*carts.Cart)(nil)).
		Column("id").
		Where("user_id = ?", userID).
		For("UPDATE").
		Scan(ctx, &cartID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrCartEmpty
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	q := tx.NewSelect().
		TableExpr("cart_items AS ci").
		Join("JOIN products AS p ON p.id = ci.product_id").
		ColumnExpr("ci.id AS cart_item_id, ci.product_id, ci.quantity").
		ColumnExpr("p.name, p.price, p.stock_quantity").
		Where("ci.cart_id = ?", cartID).
		OrderExpr("ci.created_at ASC, ci.id ASC")
	if len(selected) > 0 {
		q = q.Where("ci.id IN (?)", bun.In(selected))
	}
	var lines []checkoutLine
	if err := q.Scan(ctx, &lines); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if len(lines) == 0 {
		return nil, apperror.ErrCartEmpty
	}

	total := 0
	for _, l := range lines {
		if l.Quantity > l.Stock {
			return nil, apperror.NewInsufficientStock(l.Name)
		}
		total += l.Quantity * l.Price
	}

	order := &Order{
		UserID:         userID,
		TotalAmount:    total,
		OrderStatus:    StatusAwaitingPayment,
		TrackingStatus: TrackingShipped,
	}
	if _, err := tx.NewInsert().Model(order).Returning("*").Exec(ctx); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	items := make([]*OrderItem, 0, len(lines))
	for _, l := range lines {
		productID := l.ProductID
		items = append(items, &OrderItem{
			OrderID:      order.ID,
			ProductID:    &productID,
			ProductName:  l.Name,
			ProductPrice: l.Price,
			Quantity:     l.Quantity,
			Subtotal:     l.Quantity * l.Price,
		})
	}
	if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	// Lock products in a fixed order so concurrent checkouts of overlapping
	// carts queue behind each other instead of deadlocking.
	byProduct := make([]checkoutLine, len(lines))
	copy(byProduct, lines)
	sort.Slice(byProduct, func(i, k int) bool {
		return byProduct[i].ProductID.String() < byProduct[k].ProductID.String()
	})
	for _, l := range byProduct {
		res, err := tx.NewUpdate().
			Model((*products.Product)(nil)).
			Set("stock_quantity = stock_quantity - ?", l.Quantity).
			Set("updated_at = now()").
			Where("id = ?", l.ProductID).
			Where("stock_quantity >= ?", l.Quantity).
			Exec(ctx)
		if err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		if n == 0 {
			return nil, apperror.NewInsufficientStock(l.Name)
		}
	}

	consumed := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		consumed = append(consumed, l.CartItemID)
	}
	if _, err := tx.NewDelete().
		Model((*carts.CartItem)(nil)).
		Where("cart_id = ?", cartID).
		Where("id IN (?)", bun.In(consumed)).
		Exec(ctx); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &Placement{OrderID: order.ID, TotalAmount: order.TotalAmount}, nil
}

// FindByID returns the order with its items, or nil when it does not exist.
func (r *Repository) FindByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	var order Order
	err := r.db.NewSelect().
		Model(&order).
		Relation("Items").
		Where("o.id = ?", orderID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &order, nil
}

// ListByUser returns the user's orders with items, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Order, error) {
	var orders []*Order
	err := r.db.NewSelect().
		Model(&orders).
		Relation("Items").
		Where("o.user_id = ?", userID).
		Order("o.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return orders, nil
}

// Transition moves the order from one status to another. It reports false
// when the order was not in from, which leaves it untouched.
func (r *Repository) Transition(ctx context.Context, orderID uuid.UUID, from, to Status) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Order)(nil)).
		Set("order_status = ?", to).
		Set("updated_at = now()").
		Where("id = ?", orderID).
		Where("order_status = ?", from).
		Exec(ctx)
	return affected(res, err)
}

// AdvanceTracking sets a paid order's tracking status to step unless the
// order is already past it. It reports false when nothing changed.
func (r *Repository) AdvanceTracking(ctx context.Context, orderID uuid.UUID, step TrackingStatus) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Order)(nil)).
		Set("tracking_status = ?", step).
		Set("updated_at = now()").
		Where("id = ?", orderID).
		Where("order_status = ?", StatusPaid).
		Where("tracking_status IN (?)", bun.In(step.upTo())).
		Exec(ctx)
	return affected(res, err)
}

// CancelUnpaid cancels, in one statement, every AWAITING_PAYMENT order
// created before cutoff.
func (r *Repository) CancelUnpaid(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*Order)(nil)).
		Set("order_status = ?", StatusCancelled).
		Set("updated_at = now()").
		Where("order_status = ?", StatusAwaitingPayment).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	return rowsAffected(res, err)
}

// PurgeCancelled deletes every CANCELLED order. Items go with them.
func (r *Repository) PurgeCancelled(ctx context.Context) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*Order)(nil)).
		Where("order_status = ?", StatusCancelled).
		Exec(ctx)
	return rowsAffected(res, err)
}

func rowsAffected(res sql.Result, err error) (int64, error) {
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
	n, err := rowsAffected(res, err)
	return n > 0, err
}
