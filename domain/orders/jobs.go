package orders

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/deepsoumya617/shoply/internal/queue"
)

// Kinds carried by the order queue.
const (
	KindCreateOrder         queue.Kind = "create-order"
	KindPaymentConfirmation queue.Kind = "send-payment-confirmation"
	KindTrackingStep        queue.Kind = "simulate-tracking-step"
	KindCancelUnpaid        queue.Kind = "cancel-unpaid-orders"
	KindPurgeCancelled      queue.Kind = "purge-cancelled-orders"
)

// CreateOrderPayload asks for the order-placed email.
type CreateOrderPayload struct {
	Email       string    `json:"email"`
	OrderID     uuid.UUID `json:"orderId"`
	TotalAmount int       `json:"totalAmount"`
}

// PaymentPayload asks for the payment confirmation email.
type PaymentPayload struct {
	Email   string    `json:"email"`
	OrderID uuid.UUID `json:"orderId"`
}

// TrackingPayload moves a paid order to Step. A fulfilment feed can enqueue
// the same payload instead of the fixed schedule set at payment time.
type TrackingPayload struct {
	Email   string         `json:"email"`
	OrderID uuid.UUID      `json:"orderId"`
	Step    TrackingStatus `json:"step"`
}

// orderJob is the closed set of jobs the order worker runs.
type orderJob interface {
	isOrderJob()
}

type createOrderJob struct{ CreateOrderPayload }

type paymentConfirmationJob struct{ PaymentPayload }

type trackingStepJob struct{ TrackingPayload }

type cancelUnpaidJob struct{}

type purgeCancelledJob struct{}

func (createOrderJob) isOrderJob()         {}
func (paymentConfirmationJob) isOrderJob() {}
func (trackingStepJob) isOrderJob()        {}
func (cancelUnpaidJob) isOrderJob()        {}
func (purgeCancelledJob) isOrderJob()      {}

func decodeOrderJob(job *queue.Job) (orderJob, error) {
	switch job.Kind {
	case KindCreateOrder:
		var j createOrderJob
		if err := job.Decode(&j.CreateOrderPayload); err != nil {
			return nil, err
		}
		return j, nil
	case KindPaymentConfirmation:
		var j paymentConfirmationJob
		if err := job.Decode(&j.PaymentPayload); err != nil {
			return nil, err
		}
		return j, nil
	case KindTrackingStep:
		var j trackingStepJob
		if err := job.Decode(&j.TrackingPayload); err != nil {
			return nil, err
		}
		if !j.Step.Valid() {
			return nil, fmt.Errorf("unknown tracking step %q", j.Step)
		}
		return j, nil
	case KindCancelUnpaid:
		return cancelUnpaidJob{}, nil
	case KindPurgeCancelled:
		return purgeCancelledJob{}, nil
	}
	return nil, queue.UnknownKind(job)
}

func trackingJobID(orderID uuid.UUID, step TrackingStatus) string {
	return queue.StageID(KindTrackingStep, orderID.String()+":"+string(step))
}
