// Package queue implements the shared delayed job queue used by the cart,
// order and auth workers.
//
// A job is identified within its queue by an id. Enqueueing an id that is
// still held by the broker is a no-op, which makes producers idempotent and
// lets them cancel a scheduled job by removing its id. Every reservation
// issues the job a fresh lease Token; consumer-side calls are matched on it,
// so a delivery whose job was removed, re-added, recovered as stalled or
// reserved again is stale and cannot extend, complete or fail the job.
//
// Three brokers implement the same semantics: PostgresBroker (default,
// SELECT ... FOR UPDATE SKIP LOCKED), RedisBroker (Lua scripts over sorted
// sets) and MemoryBroker (tests and single-process development).
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Queue names.
const (
	QueueCart  = "cart"
	QueueOrder = "order"
	QueueAuth  = "auth"
)

// Queues lists every queue the application consumes.
var Queues = []string{QueueCart, QueueOrder, QueueAuth}

// Kind names the action a job asks its worker to perform.
type Kind string

// State is where a job sits inside the broker. Completed jobs are deleted.
type State string

const (
	StateWaiting State = "waiting"
	StateActive  State = "active"
	StateFailed  State = "failed"
)

// stalledError is recorded on jobs failed by stalled-job recovery.
const stalledError = "job stalled more than allowable limit"

// maxErrorLength is the maximum length of an error message stored on a job.
const maxErrorLength = 500

// maxBackoff bounds a single retry delay.
const maxBackoff = time.Hour

var (
	// ErrUnknownKind is returned by handlers for a kind their queue does not carry.
	ErrUnknownKind = errors.New("unknown job kind")
	// ErrEmptyQueue is returned when a queue name is missing.
	ErrEmptyQueue = errors.New("queue name is required")
)

// UnknownKind builds the error a worker returns for a job it cannot dispatch.
func UnknownKind(job *Job) error {
	return fmt.Errorf("%w %q on queue %q", ErrUnknownKind, job.Kind, job.Queue)
}

// Job is one delivery of a stored job.
type Job struct {
	Token        string
	Queue        string
	ID           string
	Kind         Kind
	Payload      json.RawMessage
	State        State
	Attempts     int // deliveries so far, including the current one
	MaxAttempts  int
	Backoff      time.Duration
	RepeatEvery  time.Duration
	RunAt        time.Time
	LockedAt     time.Time
	StalledCount int
	LastError    string
	CreatedAt    time.Time
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s/%s has no payload", j.Queue, j.ID)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload of job %s/%s: %w", j.Kind, j.Queue, j.ID, err)
	}
	return nil
}

// Repeating reports whether the job is rescheduled after each run.
func (j *Job) Repeating() bool {
	return j.RepeatEvery > 0
}

// exhausted reports whether the current delivery was the last allowed one.
func (j *Job) exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// EnqueueOptions controls how a job is scheduled.
type EnqueueOptions struct {
	// ID deduplicates the job within its queue. Empty means a random id.
	ID string
	// Delay is the minimum time before the job may be delivered.
	Delay time.Duration
	// RepeatEvery re-runs the job at this interval after each run.
	RepeatEvery time.Duration
	// Attempts overrides the broker's default attempt cap.
	Attempts int
	// Backoff overrides the broker's default backoff base.
	Backoff time.Duration
}

// RetryPolicy is the broker-wide default for failed deliveries.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy returns 3 attempts with a 2s exponential backoff base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 2 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = d.Backoff
	}
	return p
}

// Delay returns the wait before redelivery after the given failed attempt
// (1-based): backoff * 2^(attempt-1), capped at one hour.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return backoffDelay(p.Backoff, attempt)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return min(d, maxBackoff)
}

// FailResult tells the worker what the broker did with a failed delivery.
type FailResult struct {
	// Final is true when no retry is left: the job is terminally failed, or,
	// for a repeating job, this occurrence was abandoned.
	Final bool
	// RetryAt is when the job is next due. Zero for terminally failed jobs.
	RetryAt time.Time
	// Stale is true when the delivery no longer held the job's lease and
	// nothing was changed.
	Stale bool
}

// StalledReport counts what stalled-job recovery did.
type StalledReport struct {
	Requeued int
	Failed   int
}

// Stats is a snapshot of one queue.
type Stats struct {
	Waiting int64 `json:"waiting"`
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
	Failed  int64 `json:"failed"`
}

// Stage is one job of a rescheduled sequence.
type Stage struct {
	Kind    Kind
	Delay   time.Duration
	Payload any
}

// StageID is the deterministic id of a stage for a key: "<kind>:<key>".
func StageID(kind Kind, key string) string {
	return string(kind) + ":" + key
}

func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return b, nil
}

// truncateError truncates an error message to maxErrorLength.
func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	return msg[:maxErrorLength]
}
