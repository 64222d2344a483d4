package carts

import (
	"time"

	"github.com/google/uuid"

	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/internal/queue"
)

// Kinds carried by the cart queue. Each is also the stage prefix of the
// job id, so "reminder1:<cartId>" names the first reminder of a cart.
const (
	KindReminder1 queue.Kind = "reminder1"
	KindReminder2 queue.Kind = "reminder2"
	KindDelete    queue.Kind = "delete"
)

// StagePayload is the payload of every cart stage job.
type StagePayload struct {
	CartID uuid.UUID `json:"cartId"`
	Email  string    `json:"email"`
}

// Thresholds are how long a cart must have been idle before each stage acts.
type Thresholds struct {
	FirstReminder  time.Duration
	SecondReminder time.Duration
	Delete         time.Duration
}

// NewThresholds reads the escalation thresholds from config.
func NewThresholds(cfg *config.Config) Thresholds {
	return Thresholds{
		FirstReminder:  cfg.Cart.FirstReminderAfter,
		SecondReminder: cfg.Cart.SecondReminderAfter,
		Delete:         cfg.Cart.DeleteAfter,
	}
}

// DefaultThresholds returns 1, 3 and 7 days.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FirstReminder:  24 * time.Hour,
		SecondReminder: 72 * time.Hour,
		Delete:         7 * 24 * time.Hour,
	}
}

// Stages returns the escalation sequence for a cart.
func (t Thresholds) Stages(cartID uuid.UUID, email string) []queue.Stage {
	payload := StagePayload{CartID: cartID, Email: email}
	return []queue.Stage{
		{Kind: KindReminder1, Delay: t.FirstReminder, Payload: payload},
		{Kind: KindReminder2, Delay: t.SecondReminder, Payload: payload},
		{Kind: KindDelete, Delay: t.Delete, Payload: payload},
	}
}

// stageJob is the closed set of jobs the cart worker runs.
type stageJob interface {
	payload() StagePayload
	threshold(Thresholds) time.Duration
}

type firstReminder struct{ StagePayload }

type secondReminder struct{ StagePayload }

type deleteItems struct{ StagePayload }

func (j firstReminder) payload() StagePayload  { return j.StagePayload }
func (j secondReminder) payload() StagePayload { return j.StagePayload }
func (j deleteItems) payload() StagePayload    { return j.StagePayload }

func (firstReminder) threshold(t Thresholds) time.Duration  { return t.FirstReminder }
func (secondReminder) threshold(t Thresholds) time.Duration { return t.SecondReminder }
func (deleteItems) threshold(t Thresholds) time.Duration    { return t.Delete }

func decodeStageJob(job *queue.Job) (stageJob, error) {
	var p StagePayload
	switch job.Kind {
	case KindReminder1, KindReminder2, KindDelete:
		if err := job.Decode(&p); err != nil {
			return nil, err
		}
	default:
		return nil, queue.UnknownKind(job)
	}

	switch job.Kind {
	case KindReminder1:
		return firstReminder{p}, nil
	case KindReminder2:
		return secondReminder{p}, nil
	default:
		return deleteItems{p}, nil
	}
}
