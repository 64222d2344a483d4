package carts

import (
	"context"
	"errors"
	"testing"

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

func TestRepository_AddItemAccumulatesOnConflict(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectExec(`INSERT INTO cart_items \(cart_id, product_id, quantity\).*` +
		`ON CONFLICT ON CONSTRAINT cart_items_cart_product_key\s+` +
		`DO UPDATE SET quantity = cart_items.quantity \+ EXCLUDED.quantity`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AddItem(context.Background(), uuid.New(), uuid.New(), 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_FindByUserMissing(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectQuery(`SELECT .* FROM "carts" AS "c" WHERE \("c"."user_id" = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "last_activity", "created_at"}))

	cart, err := repo.FindByUser(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, cart)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_SetQuantityReportsMissingItem(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectExec(`UPDATE "cart_items" AS "ci" SET quantity = 4 WHERE \(cart_id = .*\) AND \(product_id = .*\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := repo.SetQuantity(context.Background(), uuid.New(), uuid.New(), 4)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RemoveItemIsScopedToCart(t *testing.T) {
	repo, mock := setupMockRepository(t)
	cartID := uuid.New()

	mock.ExpectExec(`DELETE FROM "cart_items" AS "ci" WHERE \(cart_id = '` + cartID.String() + `'\) AND \(product_id = `).
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := repo.RemoveItem(context.Background(), cartID, uuid.New())
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteItemsWrapsDatabaseErrors(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectExec(`DELETE FROM "cart_items"`).WillReturnError(errors.New("connection reset"))

	_, err := repo.DeleteItems(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperror.ErrDatabase)
	assert.True(t, apperror.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
