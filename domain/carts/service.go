package carts

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/deepsoumya617/shoply/domain/products"
	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/apperror"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Store is the cart persistence the service and worker need.
type Store interface {
	FindByUser(ctx context.Context, userID uuid.UUID) (*Cart, error)
	FindByID(ctx context.Context, cartID uuid.UUID) (*Cart, error)
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*Cart, error)
	AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) error
	SetQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) (bool, error)
	RemoveItem(ctx context.Context, cartID, productID uuid.UUID) (bool, error)
	Touch(ctx context.Context, cartID uuid.UUID) error
	Lines(ctx context.Context, cartID uuid.UUID) ([]Line, error)
	DeleteItems(ctx context.Context, cartID uuid.UUID) (int64, error)
}

// ProductLookup resolves catalog products.
type ProductLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*products.Product, error)
}

// ErrItemNotInCart is returned when updating or removing a product the cart
// does not hold.
var ErrItemNotInCart = apperror.ErrNotFound.WithMessage("Item not found in cart.")

// Service implements the cart operations. Every call that finds a cart
// refreshes its last activity and re-arms the abandonment escalation.
type Service struct {
	store      Store
	products   ProductLookup
	producer   queue.Producer
	thresholds Thresholds
	log        *slog.Logger
}

// NewService creates a new cart service
func NewService(store Store, products ProductLookup, producer queue.Producer, thresholds Thresholds, log *slog.Logger) *Service {
	return &Service{
		store:      store,
		products:   products,
		producer:   producer,
		thresholds: thresholds,
		log:        log.With(logger.Scope("carts.svc")),
	}
}

// AddItem adds quantity of a product to the user's cart, creating the cart
// if needed.
func (s *Service) AddItem(ctx context.Context, userID uuid.UUID, email string, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return apperror.ErrBadRequest
	}
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return err
	}
	if product == nil {
		return apperror.NewNotFound("product", productID.String())
	}

	cart, err := s.store.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.AddItem(ctx, cart.ID, productID, quantity); err != nil {
		return err
	}
	s.rearm(ctx, cart.ID, email)
	return nil
}

// UpdateItemQuantity sets the quantity of a product already in the cart.
// A user without a cart is left alone.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID uuid.UUID, email string, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return apperror.ErrBadRequest
	}
	return s.mutate(ctx, userID, email, func(cartID uuid.UUID) (bool, error) {
		return s.store.SetQuantity(ctx, cartID, productID, quantity)
	})
}

// RemoveItem deletes a product from the user's cart.
func (s *Service) RemoveItem(ctx context.Context, userID uuid.UUID, email string, productID uuid.UUID) error {
	return s.mutate(ctx, userID, email, func(cartID uuid.UUID) (bool, error) {
		return s.store.RemoveItem(ctx, cartID, productID)
	})
}

func (s *Service) mutate(ctx context.Context, userID uuid.UUID, email string, fn func(cartID uuid.UUID) (bool, error)) error {
	cart, err := s.store.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	if cart == nil {
		return nil
	}
	found, err := fn(cart.ID)
	if err != nil {
		return err
	}
	if !found {
		return ErrItemNotInCart
	}
	if err := s.store.Touch(ctx, cart.ID); err != nil {
		return err
	}
	s.rearm(ctx, cart.ID, email)
	return nil
}

// GetCart returns the user's cart with product details and totals. Users
// without a cart get an empty view with a nil id.
func (s *Service) GetCart(ctx context.Context, userID uuid.UUID, email string) (*View, error) {
	cart, err := s.store.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return &View{Items: []Line{}}, nil
	}
	lines, err := s.store.Lines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Touch(ctx, cart.ID); err != nil {
		return nil, err
	}
	s.rearm(ctx, cart.ID, email)
	return newView(cart.ID, lines), nil
}

// OnCartMutated replaces the cart's scheduled reminders and cleanup with a
// fresh sequence measured from now.
func (s *Service) OnCartMutated(ctx context.Context, cartID uuid.UUID, email string) error {
	if err := s.producer.Reschedule(ctx, queue.QueueCart, cartID.String(), s.thresholds.Stages(cartID, email)); err != nil {
		return apperror.ErrQueue.WithInternal(err)
	}
	return nil
}

// rearm runs OnCartMutated for a cart call that already succeeded. The
// escalation is best effort, so a broker failure only gets logged.
func (s *Service) rearm(ctx context.Context, cartID uuid.UUID, email string) {
	if err := s.OnCartMutated(ctx, cartID, email); err != nil {
		s.log.Warn("failed to re-arm cart escalation",
			slog.String("cart_id", cartID.String()),
			logger.Error(err))
	}
}
