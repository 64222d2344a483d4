package carts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/apperror"
)

type serviceFixture struct {
	svc    *Service
	store  *fakeStore
	broker *queue.MemoryBroker
	clock  *testClock
}

func newServiceFixture() *serviceFixture {
	clock := newTestClock()
	store := newFakeStore(clock)
	broker := queue.NewMemoryBroker(queue.DefaultRetryPolicy(), queue.WithClock(clock.Now))
	return &serviceFixture{
		svc:    NewService(store, store, broker, DefaultThresholds(), testLogger()),
		store:  store,
		broker: broker,
		clock:  clock,
	}
}

// failingProducer rejects every call.
type failingProducer struct{}

func (failingProducer) Enqueue(context.Context, string, queue.Kind, any, queue.EnqueueOptions) (bool, error) {
	return false, errors.New("broker unreachable")
}

func (failingProducer) Remove(context.Context, string, string) error {
	return errors.New("broker unreachable")
}

func (failingProducer) Reschedule(context.Context, string, string, []queue.Stage) error {
	return errors.New("broker unreachable")
}

func (failingProducer) Lookup(context.Context, string, string) (*queue.Job, error) {
	return nil, errors.New("broker unreachable")
}

func TestService_AddItemCreatesCartAndArmsEscalation(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	userID := uuid.New()
	lamp := f.store.addProduct("Lamp", 500)

	require.NoError(t, f.svc.AddItem(ctx, userID, "buyer@example.com", lamp, 2))

	cart, err := f.store.FindByUser(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, cart)

	jobs := f.broker.Jobs(queue.QueueCart)
	require.Len(t, jobs, 3)

	want := map[string]time.Duration{
		"reminder1:" + cart.ID.String(): 24 * time.Hour,
		"reminder2:" + cart.ID.String(): 72 * time.Hour,
		"delete:" + cart.ID.String():    7 * 24 * time.Hour,
	}
	for _, j := range jobs {
		delay, ok := want[j.ID]
		require.True(t, ok, "unexpected job %s", j.ID)
		assert.Equal(t, f.clock.Now().Add(delay), j.RunAt, j.ID)

		var p StagePayload
		require.NoError(t, j.Decode(&p))
		assert.Equal(t, cart.ID, p.CartID)
		assert.Equal(t, "buyer@example.com", p.Email)
	}
}

func TestService_AddItemAccumulatesQuantity(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	userID := uuid.New()
	lamp := f.store.addProduct("Lamp", 500)

	require.NoError(t, f.svc.AddItem(ctx, userID, "buyer@example.com", lamp, 2))
	require.NoError(t, f.svc.AddItem(ctx, userID, "buyer@example.com", lamp, 3))

	view, err := f.svc.GetCart(ctx, userID, "buyer@example.com")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 5, view.Items[0].Quantity)
	assert.Equal(t, 2500, view.TotalPrice)
}

func TestService_RepeatedMutationsKeepThreeJobs(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	userID := uuid.New()
	lamp := f.store.addProduct("Lamp", 500)

	require.NoError(t, f.svc.AddItem(ctx, userID, "buyer@example.com", lamp, 1))
	cart, err := f.store.FindByUser(ctx, userID)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.svc.UpdateItemQuantity(ctx, userID, "buyer@example.com", lamp, 4))
	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.svc.AddItem(ctx, userID, "buyer@example.com", lamp, 1))

	jobs := f.broker.Jobs(queue.QueueCart)
	require.Len(t, jobs, 3)
	first, ok := f.broker.Get(queue.QueueCart, queue.StageID(KindReminder1, cart.ID.String()))
	require.True(t, ok)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), first.RunAt, "latest activity governs the schedule")
	assert.Equal(t, f.clock.Now(), f.store.cart(cart.ID).LastActivity)
}

func TestService_AddItemValidation(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	lamp := f.store.addProduct("Lamp", 500)

	tests := []struct {
		name      string
		productID uuid.UUID
		quantity  int
		want      error
	}{
		{name: "zero quantity", productID: lamp, quantity: 0, want: apperror.ErrBadRequest},
		{name: "negative quantity", productID: lamp, quantity: -1, want: apperror.ErrBadRequest},
		{name: "unknown product", productID: uuid.New(), quantity: 1, want: apperror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.AddItem(ctx, uuid.New(), "buyer@example.com", tt.productID, tt.quantity)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.broker.Jobs(queue.QueueCart))
}

func TestService_MutationsWithoutCart(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, f.svc.UpdateItemQuantity(ctx, userID, "buyer@example.com", uuid.New(), 2))
	require.NoError(t, f.svc.RemoveItem(ctx, userID, "buyer@example.com", uuid.New()))

	view, err := f.svc.GetCart(ctx, userID, "buyer@example.com")
	require.NoError(t, err)
	assert.Nil(t, view.ID)
	assert.Empty(t, view.Items)
	assert.Zero(t, view.TotalPrice)

	assert.Empty(t, f.broker.Jobs(queue.QueueCart))
}

func TestService_ItemNotInCart(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	userID := uuid.New()
	lamp := f.store.addProduct("Lamp", 500)
	require.NoError(t, f.svc.AddItem(ctx, userID, "buyer@example.com", lamp, 1))

	err := f.svc.UpdateItemQuantity(ctx, userID, "buyer@example.com", uuid.New(), 2)
	assert.ErrorIs(t, err, ErrItemNotInCart)

	err = f.svc.RemoveItem(ctx, userID, "buyer@example.com", uuid.New())
	assert.ErrorIs(t, err, ErrItemNotInCart)
}

func TestService_RemoveItem(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	userID := uuid.New()
	lamp := f.store.addProduct("Lamp", 500)
	mug := f.store.addProduct("Mug", 300)
	require.NoError(t, f.svc.AddItem(ctx, userID, "buyer@example.com", lamp, 1))
	require.NoError(t, f.svc.AddItem(ctx, userID, "buyer@example.com", mug, 2))

	require.NoError(t, f.svc.RemoveItem(ctx, userID, "buyer@example.com", lamp))

	view, err := f.svc.GetCart(ctx, userID, "buyer@example.com")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Mug", view.Items[0].Name)
	assert.Equal(t, 600, view.TotalPrice)
}

func TestService_BrokerFailureDoesNotFailCartCall(t *testing.T) {
	clock := newTestClock()
	store := newFakeStore(clock)
	svc := NewService(store, store, failingProducer{}, DefaultThresholds(), testLogger())
	lamp := store.addProduct("Lamp", 500)

	err := svc.AddItem(context.Background(), uuid.New(), "buyer@example.com", lamp, 1)
	require.NoError(t, err)

	err = svc.OnCartMutated(context.Background(), uuid.New(), "buyer@example.com")
	assert.ErrorIs(t, err, apperror.ErrQueue)
}

func TestService_StoreFailureIsRetryable(t *testing.T) {
	f := newServiceFixture()
	f.store.err = apperror.ErrDatabase.WithInternal(errors.New("connection refused"))

	_, err := f.svc.GetCart(context.Background(), uuid.New(), "buyer@example.com")
	require.Error(t, err)
	assert.True(t, apperror.IsRetryable(err))
}
