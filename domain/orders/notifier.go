package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Timings are the order lifecycle delays and sweep intervals.
type Timings struct {
	PaymentWindow            time.Duration
	CancelSweepInterval      time.Duration
	PurgeSweepInterval       time.Duration
	CreatedNotificationDelay time.Duration
	// TrackingOffsets are the delays after payment of each TrackingSequence step.
	TrackingOffsets []time.Duration
}

// NewTimings reads the order timings from config.
func NewTimings(cfg *config.Config) Timings {
	return Timings{
		PaymentWindow:            cfg.Order.PaymentWindow,
		CancelSweepInterval:      cfg.Order.CancelSweepInterval,
		PurgeSweepInterval:       cfg.Order.PurgeSweepInterval,
		CreatedNotificationDelay: cfg.Order.CreatedNotificationDelay,
		TrackingOffsets:          cfg.Order.TrackingOffsets,
	}
}

// DefaultTimings returns a 10 minute payment window, sweeps every 10 minutes
// and 6 hours, a 12 second order email delay and tracking at 10, 20, 40 and
// 60 seconds.
func DefaultTimings() Timings {
	return Timings{
		PaymentWindow:            10 * time.Minute,
		CancelSweepInterval:      10 * time.Minute,
		PurgeSweepInterval:       6 * time.Hour,
		CreatedNotificationDelay: 12 * time.Second,
		TrackingOffsets:          []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second},
	}
}

// Sweeper job ids. Fixed ids keep one repeating job per sweeper no matter
// how many processes register them.
const (
	cancelUnpaidJobID   = "cancel-unpaid-orders"
	purgeCancelledJobID = "purge-cancelled-orders"
)

// Notifier turns order events into jobs on the order queue. Job ids are
// derived from the order id, so a retried caller never schedules twice.
type Notifier struct {
	producer queue.Producer
	timings  Timings
	log      *slog.Logger
}

// NewNotifier creates the order job producer.
func NewNotifier(producer queue.Producer, timings Timings, log *slog.Logger) *Notifier {
	return &Notifier{
		producer: producer,
		timings:  timings,
		log:      log.With(logger.Scope("orders.notifier")),
	}
}

// OrderCreated schedules the order-placed email.
func (n *Notifier) OrderCreated(ctx context.Context, email string, p *Placement) error {
	_, err := n.producer.Enqueue(ctx, queue.QueueOrder, KindCreateOrder,
		CreateOrderPayload{Email: email, OrderID: p.OrderID, TotalAmount: p.TotalAmount},
		queue.EnqueueOptions{
			ID:    queue.StageID(KindCreateOrder, p.OrderID.String()),
			Delay: n.timings.CreatedNotificationDelay,
		})
	return err
}

// OrderPaid schedules the payment confirmation and the tracking steps.
func (n *Notifier) OrderPaid(ctx context.Context, email string, orderID uuid.UUID) error {
	if _, err := n.producer.Enqueue(ctx, queue.QueueOrder, KindPaymentConfirmation,
		PaymentPayload{Email: email, OrderID: orderID},
		queue.EnqueueOptions{ID: queue.StageID(KindPaymentConfirmation, orderID.String())},
	); err != nil {
		return err
	}

	for i, step := range TrackingSequence {
		if i >= len(n.timings.TrackingOffsets) {
			break
		}
		if _, err := n.producer.Enqueue(ctx, queue.QueueOrder, KindTrackingStep,
			TrackingPayload{Email: email, OrderID: orderID, Step: step},
			queue.EnqueueOptions{
				ID:    trackingJobID(orderID, step),
				Delay: n.timings.TrackingOffsets[i],
			},
		); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSweepers adds the repeating cancel-unpaid and purge-cancelled
// jobs. Both first run right away. An already registered sweeper is kept
// unless its interval differs from the configured one, in which case it is
// replaced.
func (n *Notifier) RegisterSweepers(ctx context.Context) error {
	sweepers := []struct {
		id    string
		kind  queue.Kind
		every time.Duration
	}{
		{cancelUnpaidJobID, KindCancelUnpaid, n.timings.CancelSweepInterval},
		{purgeCancelledJobID, KindPurgeCancelled, n.timings.PurgeSweepInterval},
	}
	for _, s := range sweepers {
		opts := queue.EnqueueOptions{ID: s.id, RepeatEvery: s.every}
		added, err := n.producer.Enqueue(ctx, queue.QueueOrder, s.kind, nil, opts)
		if err != nil {
			return err
		}
		if !added {
			replaced, err := n.replaceStaleSweeper(ctx, s.kind, opts)
			if err != nil {
				return err
			}
			added = replaced
		}
		n.log.Info("order sweeper registered",
			slog.String("kind", string(s.kind)),
			slog.Duration("every", s.every),
			slog.Bool("already_registered", !added))
	}
	return nil
}

func (n *Notifier) replaceStaleSweeper(ctx context.Context, kind queue.Kind, opts queue.EnqueueOptions) (bool, error) {
	current, err := n.producer.Lookup(ctx, queue.QueueOrder, opts.ID)
	if err != nil {
		return false, err
	}
	if current == nil || current.RepeatEvery == opts.RepeatEvery {
		return false, nil
	}
	n.log.Info("order sweeper interval changed",
		slog.String("kind", string(kind)),
		slog.Duration("was", current.RepeatEvery),
		slog.Duration("now", opts.RepeatEvery))
	if err := n.producer.Remove(ctx, queue.QueueOrder, opts.ID); err != nil {
		return false, err
	}
	return n.producer.Enqueue(ctx, queue.QueueOrder, kind, nil, opts)
}
