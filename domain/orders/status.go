package orders

import (
	"fmt"
	"slices"
	"strings"

	"github.com/deepsoumya617/shoply/pkg/apperror"
)

// Status is the payment lifecycle state of an order.
type Status string

const (
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusCancelled       Status = "CANCELLED"
	StatusRefunded        Status = "REFUNDED"
)

// transitions is the order status DAG. CANCELLED and REFUNDED are terminal.
var transitions = map[Status][]Status{
	StatusAwaitingPayment: {StatusPaid, StatusCancelled},
	StatusPaid:            {StatusRefunded},
}

// CanTransitionTo reports whether an order in s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

var paymentRejections = map[Status]string{
	StatusCancelled: "The order is cancelled. You can’t pay anymore.",
	StatusPaid:      "The payment has already been completed.",
	StatusRefunded:  "You can’t pay for an order that has been refunded.",
}

// rejectTransition builds the business error for moving an order in from to
// to. Payment rejections carry the state-specific message shown to buyers.
func rejectTransition(from, to Status) error {
	details := map[string]any{"status": string(from)}
	if to == StatusPaid {
		if msg, ok := paymentRejections[from]; ok {
			return apperror.ErrOrderNotPayable.WithMessage(msg).WithDetails(details)
		}
		return apperror.ErrOrderNotPayable.WithDetails(details)
	}
	return apperror.ErrInvalidTransition.
		WithMessage(fmt.Sprintf("An order in status %s cannot be moved to %s.", from, to)).
		WithDetails(details)
}

// TrackingStatus is the shipment progress of a paid order.
type TrackingStatus string

const (
	TrackingShipped        TrackingStatus = "SHIPPED"
	TrackingInTransit      TrackingStatus = "IN_TRANSIT"
	TrackingOutForDelivery TrackingStatus = "OUT_FOR_DELIVERY"
	TrackingDelivered      TrackingStatus = "DELIVERED"
)

// TrackingSequence lists the tracking steps in the order they happen.
var TrackingSequence = []TrackingStatus{
	TrackingShipped,
	TrackingInTransit,
	TrackingOutForDelivery,
	TrackingDelivered,
}

func (t TrackingStatus) index() int {
	return slices.Index(TrackingSequence, t)
}

// Valid reports whether t is a known step.
func (t TrackingStatus) Valid() bool {
	return t.index() >= 0
}

// upTo returns every step from the first through t. An order at one of
// them may be set to t without going backwards.
func (t TrackingStatus) upTo() []TrackingStatus {
	i := t.index()
	if i < 0 {
		return nil
	}
	return TrackingSequence[:i+1]
}

// Label is the lower-case phrase used in notifications.
func (t TrackingStatus) Label() string {
	return strings.ToLower(strings.ReplaceAll(string(t), "_", " "))
}
