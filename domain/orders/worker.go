package orders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deepsoumya617/shoply/domain/email"
	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

const (
	orderCreatedSubject = "Order placed successfully!"
	paymentSubject      = "Payment has been completed successfully!"
)

// Mailer delivers templated email.
type Mailer interface {
	Deliver(ctx context.Context, to, subject, templateName string, data email.TemplateContext) error
}

// Worker runs the order queue: notification emails, tracking steps and the
// two sweepers.
type Worker struct {
	svc       *Service
	mailer    Mailer
	ordersURL string
	log       *slog.Logger
}

// NewWorker creates the order job handler. appURL is the public base URL
// used for links in emails.
func NewWorker(svc *Service, mailer Mailer, appURL string, log *slog.Logger) *Worker {
	return &Worker{
		svc:       svc,
		mailer:    mailer,
		ordersURL: appURL + "/api/orders",
		log:       log.With(logger.Scope("orders.worker")),
	}
}

// Handle is the queue.Handler for the order queue.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	oj, err := decodeOrderJob(job)
	if err != nil {
		return err
	}

	switch j := oj.(type) {
	case createOrderJob:
		return w.orderCreated(ctx, j.CreateOrderPayload)
	case paymentConfirmationJob:
		return w.paymentConfirmed(ctx, j.PaymentPayload)
	case trackingStepJob:
		return w.trackingStep(ctx, j.TrackingPayload)
	case cancelUnpaidJob:
		_, err := w.svc.CancelUnpaid(ctx)
		return err
	case purgeCancelledJob:
		_, err := w.svc.PurgeCancelled(ctx)
		return err
	}
	return queue.UnknownKind(job)
}

func (w *Worker) orderCreated(ctx context.Context, p CreateOrderPayload) error {
	order, err := w.svc.store.FindByID(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		w.log.Debug("order gone before confirmation email", slog.String("order_id", p.OrderID.String()))
		return nil
	}
	return w.deliver(ctx, p.Email, orderCreatedSubject, "order-created", email.TemplateContext{
		"orderId":       p.OrderID.String(),
		"totalAmount":   p.TotalAmount,
		"paymentWindow": w.svc.timings.PaymentWindow.String(),
	})
}

func (w *Worker) paymentConfirmed(ctx context.Context, p PaymentPayload) error {
	return w.deliver(ctx, p.Email, paymentSubject, "payment-confirmation", email.TemplateContext{
		"orderId": p.OrderID.String(),
	})
}

// trackingStep applies the step only while the order is paid and not past
// it; anything else completes without effect.
func (w *Worker) trackingStep(ctx context.Context, p TrackingPayload) error {
	advanced, err := w.svc.store.AdvanceTracking(ctx, p.OrderID, p.Step)
	if err != nil {
		return err
	}
	if !advanced {
		w.log.Debug("tracking step skipped",
			slog.String("order_id", p.OrderID.String()),
			slog.String("step", string(p.Step)))
		return nil
	}
	return w.deliver(ctx, p.Email, fmt.Sprintf("Your order is %s", p.Step.Label()), "tracking-update", email.TemplateContext{
		"orderId":   p.OrderID.String(),
		"stepLabel": p.Step.Label(),
	})
}

func (w *Worker) deliver(ctx context.Context, to, subject, template string, data email.TemplateContext) error {
	data["ctaUrl"] = w.ordersURL
	data["ctaLabel"] = "View your orders"
	if err := w.mailer.Deliver(ctx, to, subject, template, data); err != nil {
		return fmt.Errorf("send %s email: %w", template, err)
	}
	return nil
}
