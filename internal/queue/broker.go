package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Producer is the side of the broker domain code schedules work through.
type Producer interface {
	// Enqueue stores a job. It returns false without error when opts.ID is
	// already held by the queue.
	Enqueue(ctx context.Context, queue string, kind Kind, payload any, opts EnqueueOptions) (bool, error)
	// Remove deletes the job with the given id. Removing an absent id is a no-op.
	Remove(ctx context.Context, queue, id string) error
	// Reschedule atomically removes every stage's "<kind>:<key>" job and
	// enqueues the stages afresh, so only the latest call's schedule survives.
	Reschedule(ctx context.Context, queue, key string, stages []Stage) error
	// Lookup returns the job held under id, or nil when there is none.
	Lookup(ctx context.Context, queue, id string) (*Job, error)
}

// Consumer is the side of the broker the worker harness drives.
type Consumer interface {
	// Reserve claims up to limit due jobs and marks them active.
	Reserve(ctx context.Context, queue string, limit int) ([]*Job, error)
	// Extend renews the lease of an active job.
	Extend(ctx context.Context, job *Job) error
	// Complete acknowledges a successful run. Non-repeating jobs are deleted.
	Complete(ctx context.Context, job *Job) error
	// Fail records a failed run and schedules the retry, if any is left.
	Fail(ctx context.Context, job *Job, cause error) (FailResult, error)
	// RecoverStalled requeues active jobs whose lease is older than window.
	// A job that stalls more than maxStalled times is failed instead.
	RecoverStalled(ctx context.Context, queue string, window time.Duration, maxStalled int) (StalledReport, error)
}

// Broker is the full queue contract.
type Broker interface {
	Producer
	Consumer
	Stats(ctx context.Context, queue string) (Stats, error)
	// PruneFailed deletes terminally failed jobs older than the given age.
	PruneFailed(ctx context.Context, queue string, olderThan time.Duration) (int64, error)
}

// Waker is implemented by brokers that can signal new work instead of
// waiting for the next poll.
type Waker interface {
	Wakeups(queue string) <-chan struct{}
}

// pendingJob is a job resolved from Enqueue arguments and broker defaults.
type pendingJob struct {
	token       string
	queue       string
	id          string
	kind        Kind
	payload     json.RawMessage
	maxAttempts int
	backoff     time.Duration
	repeatEvery time.Duration
	delay       time.Duration
}

func newPendingJob(policy RetryPolicy, queue string, kind Kind, payload any, opts EnqueueOptions) (*pendingJob, error) {
	if queue == "" {
		return nil, ErrEmptyQueue
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	p := &pendingJob{
		token:       uuid.NewString(),
		queue:       queue,
		id:          opts.ID,
		kind:        kind,
		payload:     raw,
		maxAttempts: policy.Attempts,
		backoff:     policy.Backoff,
		repeatEvery: opts.RepeatEvery,
		delay:       max(opts.Delay, 0),
	}
	if p.id == "" {
		p.id = uuid.NewString()
	}
	if opts.Attempts > 0 {
		p.maxAttempts = opts.Attempts
	}
	if opts.Backoff > 0 {
		p.backoff = opts.Backoff
	}
	return p, nil
}

func stagesToPending(policy RetryPolicy, queue, key string, stages []Stage) ([]*pendingJob, error) {
	out := make([]*pendingJob, 0, len(stages))
	for _, s := range stages {
		p, err := newPendingJob(policy, queue, s.Kind, s.Payload, EnqueueOptions{
			ID:    StageID(s.Kind, key),
			Delay: s.Delay,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
