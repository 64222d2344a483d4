package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/deepsoumya617/shoply/pkg/apperror"
)

func setupMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db, testLogger()), mock
}

var lineColumns = []string{"cart_item_id", "product_id", "quantity", "name", "price", "stock_quantity"}

func expectLockedCart(mock sqlmock.Sqlmock, cartID uuid.UUID) {
	mock.ExpectQuery(`SELECT .*"id".* FROM "carts" AS "c" WHERE \(user_id = .*\) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(cartID.String()))
}

func TestRepository_PlaceOrderWithoutCart(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM "carts" AS "c"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.PlaceOrder(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, apperror.ErrCartEmpty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_PlaceOrderWithNoMatchingItems(t *testing.T) {
	repo, mock := setupMockRepository(t)
	cartID := uuid.New()
	selected := uuid.New()

	mock.ExpectBegin()
	expectLockedCart(mock, cartID)
	mock.ExpectQuery(`FROM cart_items AS ci JOIN products AS p ON p.id = ci.product_id ` +
		`WHERE \(ci.cart_id = '` + cartID.String() + `'\) AND \(ci.id IN \('` + selected.String() + `'\)\)`).
		WillReturnRows(sqlmock.NewRows(lineColumns))
	mock.ExpectRollback()

	_, err := repo.PlaceOrder(context.Background(), uuid.New(), []uuid.UUID{selected})
	assert.ErrorIs(t, err, apperror.ErrCartEmpty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_PlaceOrderRejectsShortStockBeforeWriting(t *testing.T) {
	repo, mock := setupMockRepository(t)
	cartID := uuid.New()

	mock.ExpectBegin()
	expectLockedCart(mock, cartID)
	mock.ExpectQuery(`FROM cart_items AS ci`).
		WillReturnRows(sqlmock.NewRows(lineColumns).
			AddRow(uuid.NewString(), uuid.NewString(), 2, "Lamp", 500, 5).
			AddRow(uuid.NewString(), uuid.NewString(), 3, "Mug", 300, 2))
	mock.ExpectRollback()

	_, err := repo.PlaceOrder(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, apperror.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Mug")
	assert.NoError(t, mock.ExpectationsWereMet(), "no insert or update after a failed stock check")
}

func TestRepository_PlaceOrderWrapsDatabaseErrors(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM "carts" AS "c"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.PlaceOrder(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, apperror.ErrDatabase)
	assert.True(t, apperror.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_PlaceOrderBeginFails(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := repo.PlaceOrder(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, apperror.ErrDatabase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_TransitionIsGuardedBySourceStatus(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectExec(`UPDATE "orders" AS "o" SET order_status = 'PAID', updated_at = now\(\) ` +
		`WHERE \(id = .*\) AND \(order_status = 'AWAITING_PAYMENT'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Transition(context.Background(), uuid.New(), StatusAwaitingPayment, StatusPaid)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_AdvanceTrackingOnlyMovesForward(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectExec(`UPDATE "orders" AS "o" SET tracking_status = 'OUT_FOR_DELIVERY'.*` +
		`\(order_status = 'PAID'\) AND \(tracking_status IN \('SHIPPED', 'IN_TRANSIT', 'OUT_FOR_DELIVERY'\)\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.AdvanceTracking(context.Background(), uuid.New(), TrackingOutForDelivery)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CancelUnpaidUsesStrictCutoff(t *testing.T) {
	repo, mock := setupMockRepository(t)
	cutoff := time.Date(2025, 3, 1, 11, 50, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE "orders" AS "o" SET order_status = 'CANCELLED'.*` +
		`\(order_status = 'AWAITING_PAYMENT'\) AND \(created_at < '2025-03-01 11:50:00`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.CancelUnpaid(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_PurgeCancelled(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectExec(`DELETE FROM "orders" AS "o" WHERE \(order_status = 'CANCELLED'\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.PurgeCancelled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
