package orders

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/deepsoumya617/shoply/pkg/apperror"
	"github.com/deepsoumya617/shoply/pkg/logger"
	"github.com/deepsoumya617/shoply/pkg/tracing"
)

// Store is the order persistence the service and worker need.
type Store interface {
	PlaceOrder(ctx context.Context, userID uuid.UUID, selected []uuid.UUID) (*Placement, error)
	FindByID(ctx context.Context, orderID uuid.UUID) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Order, error)
	Transition(ctx context.Context, orderID uuid.UUID, from, to Status) (bool, error)
	AdvanceTracking(ctx context.Context, orderID uuid.UUID, step TrackingStatus) (bool, error)
	CancelUnpaid(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeCancelled(ctx context.Context) (int64, error)
}

// Service implements checkout and the order state machine.
type Service struct {
	store    Store
	notifier *Notifier
	timings  Timings
	now      func() time.Time
	log      *slog.Logger
}

// NewService creates a new order service
func NewService(store Store, notifier *Notifier, timings Timings, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		timings:  timings,
		now:      time.Now,
		log:      log.With(logger.Scope("orders.svc")),
	}
}

// PlaceOrder checks out the selected cart items, or the whole cart when
// selected is empty. Business rejections are 4xx apperror values; store
// failures are retryable database_error. The order email is scheduled after
// commit and a failure to schedule it does not fail the checkout.
func (s *Service) PlaceOrder(ctx context.Context, userID uuid.UUID, email string, selected []uuid.UUID) (*Placement, error) {
	ctx, span := tracing.Start(ctx, "orders.place",
		attribute.String("shoply.user.id", userID.String()),
		attribute.Int("shoply.order.selected_items", len(selected)),
	)
	defer span.End()

	placement, err := s.store.PlaceOrder(ctx, userID, selected)
	if err != nil {
		err = infraError(err)
		tracing.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("shoply.order.id", placement.OrderID.String()),
		attribute.Int("shoply.order.total", placement.TotalAmount),
	)

	s.log.Info("order placed",
		slog.String("order_id", placement.OrderID.String()),
		slog.String("user_id", userID.String()),
		slog.Int("total_amount", placement.TotalAmount))

	if err := s.notifier.OrderCreated(ctx, email, placement); err != nil {
		s.log.Warn("failed to schedule order email",
			slog.String("order_id", placement.OrderID.String()),
			logger.Error(err))
	}
	return placement, nil
}

// PayOrder marks an awaiting order as paid and schedules the payment
// confirmation and tracking updates. Orders in any other status are rejected
// with a status-specific message and left unchanged.
func (s *Service) PayOrder(ctx context.Context, userID uuid.UUID, email string, orderID uuid.UUID) error {
	if _, err := s.transition(ctx, userID, orderID, StatusPaid); err != nil {
		return err
	}
	if err := s.notifier.OrderPaid(ctx, email, orderID); err != nil {
		s.log.Warn("failed to schedule payment follow-ups",
			slog.String("order_id", orderID.String()),
			logger.Error(err))
	}
	return nil
}

// CancelOrder cancels an order that has not been paid.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) error {
	_, err := s.transition(ctx, userID, orderID, StatusCancelled)
	return err
}

// RefundOrder marks a paid order as refunded. Money movement happens
// elsewhere.
func (s *Service) RefundOrder(ctx context.Context, userID, orderID uuid.UUID) error {
	_, err := s.transition(ctx, userID, orderID, StatusRefunded)
	return err
}

func (s *Service) transition(ctx context.Context, userID, orderID uuid.UUID, to Status) (*Order, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	from := order.OrderStatus
	if !from.CanTransitionTo(to) {
		return nil, rejectTransition(from, to)
	}

	ok, err := s.store.Transition(ctx, orderID, from, to)
	if err != nil {
		return nil, infraError(err)
	}
	if !ok {
		// Lost a race, most likely with the cancel sweeper.
		current, err := s.store.FindByID(ctx, orderID)
		if err != nil {
			return nil, infraError(err)
		}
		if current == nil {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, rejectTransition(current.OrderStatus, to)
	}

	s.log.Info("order status changed",
		slog.String("order_id", orderID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	order.OrderStatus = to
	return order, nil
}

// GetOrder returns one of the user's orders. Orders of other users are
// reported as not found.
func (s *Service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*Order, error) {
	order, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, infraError(err)
	}
	if order == nil || order.UserID != userID {
		return nil, apperror.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID) ([]*Order, error) {
	orders, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, infraError(err)
	}
	if len(orders) == 0 {
		return nil, apperror.ErrNoOrders
	}
	return orders, nil
}

// TrackOrder returns the tracking status of a paid order.
func (s *Service) TrackOrder(ctx context.Context, userID, orderID uuid.UUID) (TrackingStatus, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return "", err
	}
	if order.OrderStatus != StatusPaid {
		return "", apperror.ErrOrderNotPaid.WithDetails(map[string]any{"status": string(order.OrderStatus)})
	}
	return order.TrackingStatus, nil
}

// CancelUnpaid cancels every order left unpaid past the payment window.
func (s *Service) CancelUnpaid(ctx context.Context) (int64, error) {
	n, err := s.store.CancelUnpaid(ctx, s.now().Add(-s.timings.PaymentWindow))
	if err != nil {
		return 0, infraError(err)
	}
	if n > 0 {
		s.log.Info("cancelled unpaid orders", slog.Int64("count", n))
	}
	return n, nil
}

// PurgeCancelled deletes cancelled orders.
func (s *Service) PurgeCancelled(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeCancelled(ctx)
	if err != nil {
		return 0, infraError(err)
	}
	if n > 0 {
		s.log.Info("purged cancelled orders", slog.Int64("count", n))
	}
	return n, nil
}

// infraError keeps application errors and wraps anything else as a
// retryable database error.
func infraError(err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.ErrDatabase.WithInternal(err)
}
