package carts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepsoumya617/shoply/domain/products"
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

type fakeItem struct {
	id       uuid.UUID
	quantity int
	seq      int
}

// fakeStore is an in-memory Store whose timestamps come from clock.
type fakeStore struct {
	mu       sync.Mutex
	clock    *testClock
	carts    map[uuid.UUID]*Cart
	items    map[uuid.UUID]map[uuid.UUID]*fakeItem
	products map[uuid.UUID]*products.Product
	seq      int
	err      error
}

func newFakeStore(clock *testClock) *fakeStore {
	return &fakeStore{
		clock:    clock,
		carts:    make(map[uuid.UUID]*Cart),
		items:    make(map[uuid.UUID]map[uuid.UUID]*fakeItem),
		products: make(map[uuid.UUID]*products.Product),
	}
}

func (s *fakeStore) addProduct(name string, price int) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.products[id] = &products.Product{ID: id, Name: name, Price: price, StockQuantity: 10}
	return id
}

func (s *fakeStore) cart(cartID uuid.UUID) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.carts[cartID]
}

func (s *fakeStore) itemCount(cartID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items[cartID])
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*products.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id], s.err
}

func (s *fakeStore) FindByUser(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, c := range s.carts {
		if c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindByID(ctx context.Context, cartID uuid.UUID) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.carts[cartID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) GetOrCreate(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	now := s.clock.Now()
	for _, c := range s.carts {
		if c.UserID == userID {
			c.LastActivity = now
			cp := *c
			return &cp, nil
		}
	}
	c := &Cart{ID: uuid.New(), UserID: userID, LastActivity: now, CreatedAt: now}
	s.carts[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *fakeStore) AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.items[cartID] == nil {
		s.items[cartID] = make(map[uuid.UUID]*fakeItem)
	}
	if it, ok := s.items[cartID][productID]; ok {
		it.quantity += quantity
		return nil
	}
	s.seq++
	s.items[cartID][productID] = &fakeItem{id: uuid.New(), quantity: quantity, seq: s.seq}
	return nil
}

func (s *fakeStore) SetQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[cartID][productID]
	if !ok {
		return false, nil
	}
	it.quantity = quantity
	return true, nil
}

func (s *fakeStore) RemoveItem(ctx context.Context, cartID, productID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[cartID][productID]; !ok {
		return false, nil
	}
	delete(s.items[cartID], productID)
	return true, nil
}

func (s *fakeStore) Touch(ctx context.Context, cartID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok {
		return errors.New("no such cart")
	}
	c.LastActivity = s.clock.Now()
	return nil
}

func (s *fakeStore) Lines(ctx context.Context, cartID uuid.UUID) ([]Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var lines []Line
	seqs := make(map[uuid.UUID]int)
	for pid, it := range s.items[cartID] {
		p := s.products[pid]
		lines = append(lines, Line{ItemID: it.id, ProductID: pid, Name: p.Name, Price: p.Price, Quantity: it.quantity})
		seqs[it.id] = it.seq
	}
	sort.Slice(lines, func(i, k int) bool { return seqs[lines[i].ItemID] < seqs[lines[k].ItemID] })
	return lines, nil
}

func (s *fakeStore) DeleteItems(ctx context.Context, cartID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := int64(len(s.items[cartID]))
	delete(s.items, cartID)
	return n, nil
}
