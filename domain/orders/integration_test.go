package orders

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/deepsoumya617/shoply/domain/carts"
	"github.com/deepsoumya617/shoply/domain/products"
	"github.com/deepsoumya617/shoply/internal/testutil"
	"github.com/deepsoumya617/shoply/pkg/apperror"
)

type PlacementSuite struct {
	testutil.DBSuite
	repo     *Repository
	carts    *carts.Repository
	products *products.Repository
}

func TestPlacementSuite(t *testing.T) {
	suite.Run(t, &PlacementSuite{DBSuite: testutil.DBSuite{Suffix: "orders"}})
}

func (s *PlacementSuite) SetupSuite() {
	s.DBSuite.SetupSuite()
	s.repo = NewRepository(s.TestDB.DB, testLogger())
	s.carts = carts.NewRepository(s.TestDB.DB, testLogger())
	s.products = products.NewRepository(s.TestDB.DB, testLogger())
}

func (s *PlacementSuite) product(name string, price, stock int) uuid.UUID {
	p := &products.Product{Name: name, Price: price, StockQuantity: stock}
	s.Require().NoError(s.products.Create(s.Ctx, p))
	return p.ID
}

func (s *PlacementSuite) fillCart(userID uuid.UUID, items map[uuid.UUID]int) *carts.Cart {
	cart, err := s.carts.GetOrCreate(s.Ctx, userID)
	s.Require().NoError(err)
	for productID, qty := range items {
		s.Require().NoError(s.carts.AddItem(s.Ctx, cart.ID, productID, qty))
	}
	return cart
}

func (s *PlacementSuite) stock(productID uuid.UUID) int {
	n, err := s.products.Stock(s.Ctx, productID)
	s.Require().NoError(err)
	return n
}

func (s *PlacementSuite) TestPlaceWholeCart() {
	lamp := s.product("Lamp", 500, 5)
	mug := s.product("Mug", 300, 1)
	userID := uuid.New()
	cart := s.fillCart(userID, map[uuid.UUID]int{lamp: 2, mug: 1})

	placement, err := s.repo.PlaceOrder(s.Ctx, userID, nil)
	s.Require().NoError(err)
	s.Equal(1300, placement.TotalAmount)

	order, err := s.repo.FindByID(s.Ctx, placement.OrderID)
	s.Require().NoError(err)
	s.Equal(StatusAwaitingPayment, order.OrderStatus)
	s.Equal(TrackingShipped, order.TrackingStatus)
	s.Len(order.Items, 2)
	sum := 0
	for _, item := range order.Items {
		sum += item.Subtotal
		s.Equal(item.ProductPrice*item.Quantity, item.Subtotal)
	}
	s.Equal(1300, sum)

	s.Equal(3, s.stock(lamp))
	s.Equal(0, s.stock(mug))

	lines, err := s.carts.Lines(s.Ctx, cart.ID)
	s.Require().NoError(err)
	s.Empty(lines)

	_, err = s.repo.PlaceOrder(s.Ctx, userID, nil)
	s.ErrorIs(err, apperror.ErrCartEmpty)
}

func (s *PlacementSuite) TestPlaceSelectedItemsOnly() {
	lamp := s.product("Lamp", 500, 5)
	mug := s.product("Mug", 300, 5)
	userID := uuid.New()
	cart := s.fillCart(userID, map[uuid.UUID]int{lamp: 1, mug: 2})

	lines, err := s.carts.Lines(s.Ctx, cart.ID)
	s.Require().NoError(err)
	var mugItem uuid.UUID
	for _, l := range lines {
		if l.ProductID == mug {
			mugItem = l.ItemID
		}
	}

	placement, err := s.repo.PlaceOrder(s.Ctx, userID, []uuid.UUID{mugItem})
	s.Require().NoError(err)
	s.Equal(600, placement.TotalAmount)
	s.Equal(5, s.stock(lamp))
	s.Equal(3, s.stock(mug))

	lines, err = s.carts.Lines(s.Ctx, cart.ID)
	s.Require().NoError(err)
	s.Require().Len(lines, 1)
	s.Equal(lamp, lines[0].ProductID)
}

func (s *PlacementSuite) TestInsufficientStockLeavesEverythingUntouched() {
	lamp := s.product("Lamp", 500, 5)
	mug := s.product("Mug", 300, 1)
	userID := uuid.New()
	cart := s.fillCart(userID, map[uuid.UUID]int{lamp: 1, mug: 2})

	_, err := s.repo.PlaceOrder(s.Ctx, userID, nil)
	s.Require().ErrorIs(err, apperror.ErrInsufficientStock)

	s.Equal(5, s.stock(lamp))
	s.Equal(1, s.stock(mug))
	lines, err := s.carts.Lines(s.Ctx, cart.ID)
	s.Require().NoError(err)
	s.Len(lines, 2)
	orders, err := s.repo.ListByUser(s.Ctx, userID)
	s.Require().NoError(err)
	s.Empty(orders)
}

func (s *PlacementSuite) TestConcurrentCheckoutsNeverOversell() {
	mug := s.product("Mug", 300, 1)
	buyers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for _, b := range buyers {
		s.fillCart(b, map[uuid.UUID]int{mug: 1})
	}

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, userID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = s.repo.PlaceOrder(s.Ctx, userID, nil)
		}(i, b)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.ErrorIs(err, apperror.ErrInsufficientStock)
	}
	s.Equal(1, succeeded)
	s.Equal(0, s.stock(mug))
}

func (s *PlacementSuite) TestPaymentAndSweepers() {
	mug := s.product("Mug", 300, 10)
	userID := uuid.New()

	s.fillCart(userID, map[uuid.UUID]int{mug: 1})
	unpaid, err := s.repo.PlaceOrder(s.Ctx, userID, nil)
	s.Require().NoError(err)
	s.fillCart(userID, map[uuid.UUID]int{mug: 1})
	paid, err := s.repo.PlaceOrder(s.Ctx, userID, nil)
	s.Require().NoError(err)

	ok, err := s.repo.Transition(s.Ctx, paid.OrderID, StatusAwaitingPayment, StatusPaid)
	s.Require().NoError(err)
	s.True(ok)

	n, err := s.repo.CancelUnpaid(s.Ctx, time.Now().Add(-10*time.Minute))
	s.Require().NoError(err)
	s.Zero(n, "orders inside the payment window are kept")

	n, err = s.repo.CancelUnpaid(s.Ctx, time.Now().Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	ok, err = s.repo.Transition(s.Ctx, unpaid.OrderID, StatusAwaitingPayment, StatusPaid)
	s.Require().NoError(err)
	s.False(ok, "a cancelled order cannot be paid")

	ok, err = s.repo.AdvanceTracking(s.Ctx, paid.OrderID, TrackingInTransit)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.repo.AdvanceTracking(s.Ctx, paid.OrderID, TrackingShipped)
	s.Require().NoError(err)
	s.False(ok)

	n, err = s.repo.PurgeCancelled(s.Ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	gone, err := s.repo.FindByID(s.Ctx, unpaid.OrderID)
	s.Require().NoError(err)
	s.Nil(gone)

	kept, err := s.repo.FindByID(s.Ctx, paid.OrderID)
	s.Require().NoError(err)
	s.Equal(StatusPaid, kept.OrderStatus)
	s.Equal(TrackingInTransit, kept.TrackingStatus)
}
