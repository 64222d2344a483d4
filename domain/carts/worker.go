package carts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepsoumya617/shoply/domain/email"
	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

const (
	reminderSubject = "You left items in your cart!"
	deletedSubject  = "Your abandoned cart items has been deleted!"
)

// Mailer delivers templated email.
type Mailer interface {
	Deliver(ctx context.Context, to, subject, templateName string, data email.TemplateContext) error
}

// Worker runs the cart escalation stages. A stage only acts when the cart
// has been idle for at least the stage's threshold; otherwise it completes
// without doing anything, since a newer schedule is already armed.
type Worker struct {
	store      Store
	mailer     Mailer
	thresholds Thresholds
	cartURL    string
	now        func() time.Time
	log        *slog.Logger
}

// NewWorker creates the cart stage handler. appURL is the public base URL
// used for the return-to-cart link.
func NewWorker(store Store, mailer Mailer, thresholds Thresholds, appURL string, log *slog.Logger) *Worker {
	return &Worker{
		store:      store,
		mailer:     mailer,
		thresholds: thresholds,
		cartURL:    appURL + "/api/cart/items",
		now:        time.Now,
		log:        log.With(logger.Scope("carts.worker")),
	}
}

// Handle is the queue.Handler for the cart queue.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	sj, err := decodeStageJob(job)
	if err != nil {
		return err
	}
	p := sj.payload()

	cart, err := w.store.FindByID(ctx, p.CartID)
	if err != nil {
		return err
	}
	if cart == nil {
		w.log.Debug("cart no longer exists, skipping stage",
			slog.String("cart_id", p.CartID.String()),
			slog.String("kind", string(job.Kind)))
		return nil
	}

	idle := w.now().Sub(cart.LastActivity)
	if idle < sj.threshold(w.thresholds) {
		w.log.Debug("cart active since stage was scheduled, skipping",
			slog.String("cart_id", p.CartID.String()),
			slog.String("kind", string(job.Kind)),
			slog.Duration("idle", idle))
		return nil
	}

	switch sj.(type) {
	case firstReminder, secondReminder:
		return w.remind(ctx, p)
	case deleteItems:
		return w.deleteItems(ctx, p, job.Attempts == 1 && job.StalledCount == 0)
	}
	return queue.UnknownKind(job)
}

func (w *Worker) remind(ctx context.Context, p StagePayload) error {
	lines, err := w.store.Lines(ctx, p.CartID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	items := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		items = append(items, map[string]any{"name": l.Name, "quantity": l.Quantity})
	}
	if err := w.mailer.Deliver(ctx, p.Email, reminderSubject, "cart-reminder", email.TemplateContext{
		"items":    items,
		"ctaUrl":   w.cartURL,
		"ctaLabel": "Return to your cart",
	}); err != nil {
		return fmt.Errorf("send cart reminder: %w", err)
	}
	return nil
}

// deleteItems empties the cart before mailing, so a retry after a mail
// failure deletes nothing and only resends. On a first delivery an already
// empty cart gets no notice.
func (w *Worker) deleteItems(ctx context.Context, p StagePayload, firstDelivery bool) error {
	n, err := w.store.DeleteItems(ctx, p.CartID)
	if err != nil {
		return err
	}
	if n == 0 && firstDelivery {
		w.log.Debug("cart already empty, no deletion notice",
			slog.String("cart_id", p.CartID.String()))
		return nil
	}
	w.log.Info("deleted abandoned cart items",
		slog.String("cart_id", p.CartID.String()),
		slog.Int64("items", n))

	if err := w.mailer.Deliver(ctx, p.Email, deletedSubject, "cart-deleted", email.TemplateContext{
		"ctaUrl":   w.cartURL,
		"ctaLabel": "Return to your cart",
	}); err != nil {
		return fmt.Errorf("send cart deleted notice: %w", err)
	}
	return nil
}
