package orders

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeStore keeps orders in memory. PlaceOrder creates an order for the
// configured total unless placeErr is set.
type fakeStore struct {
	mu          sync.Mutex
	clock       *testClock
	orders      map[uuid.UUID]*Order
	total       int
	placeErr    error
	err         error
	transitions int
	// beforeTransition runs inside Transition, to simulate a concurrent writer.
	beforeTransition func(o *Order)
}

func newFakeStore(clock *testClock) *fakeStore {
	return &fakeStore{clock: clock, orders: make(map[uuid.UUID]*Order), total: 1300}
}

func (s *fakeStore) addOrder(userID uuid.UUID, status Status) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	o := &Order{
		ID:             uuid.New(),
		UserID:         userID,
		TotalAmount:    s.total,
		OrderStatus:    status,
		TrackingStatus: TrackingShipped,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.orders[o.ID] = o
	return o
}

func (s *fakeStore) get(id uuid.UUID) Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *fakeStore) PlaceOrder(ctx context.Context, userID uuid.UUID, selected []uuid.UUID) (*Placement, error) {
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	o := s.addOrder(userID, StatusAwaitingPayment)
	return &Placement{OrderID: o.ID, TotalAmount: o.TotalAmount}, nil
}

func (s *fakeStore) FindByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []*Order
	for _, o := range s.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (s *fakeStore) Transition(ctx context.Context, orderID uuid.UUID, from, to Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	o, ok := s.orders[orderID]
	if !ok {
		return false, nil
	}
	if s.beforeTransition != nil {
		s.beforeTransition(o)
	}
	if o.OrderStatus != from {
		return false, nil
	}
	s.transitions++
	o.OrderStatus = to
	o.UpdatedAt = s.clock.Now()
	return true, nil
}

func (s *fakeStore) AdvanceTracking(ctx context.Context, orderID uuid.UUID, step TrackingStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	o, ok := s.orders[orderID]
	if !ok || o.OrderStatus != StatusPaid || !slices.Contains(step.upTo(), o.TrackingStatus) {
		return false, nil
	}
	o.TrackingStatus = step
	return true, nil
}

func (s *fakeStore) CancelUnpaid(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var n int64
	for _, o := range s.orders {
		if o.OrderStatus == StatusAwaitingPayment && o.CreatedAt.Before(cutoff) {
			o.OrderStatus = StatusCancelled
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) PurgeCancelled(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var n int64
	for id, o := range s.orders {
		if o.OrderStatus == StatusCancelled {
			delete(s.orders, id)
			n++
		}
	}
	return n, nil
}
