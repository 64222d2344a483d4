package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker keeps jobs in process memory. Jobs do not survive a restart,
// so it only suits tests and single-process development.
type MemoryBroker struct {
	mu     sync.Mutex
	policy RetryPolicy
	now    func() time.Time
	queues map[string]map[string]*memJob
	seq    int64
	wake   map[string]chan struct{}
}

type memJob struct {
	Job
	seq      int64
	failedAt time.Time
}

// MemoryOption configures a MemoryBroker.
type MemoryOption func(*MemoryBroker)

// WithClock replaces time.Now, for tests that move time by hand.
func WithClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBroker) { b.now = now }
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker(policy RetryPolicy, opts ...MemoryOption) *MemoryBroker {
	b := &MemoryBroker{
		policy: policy.withDefaults(),
		now:    time.Now,
		queues: make(map[string]map[string]*memJob),
		wake:   make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBroker) jobs(queue string) map[string]*memJob {
	q, ok := b.queues[queue]
	if !ok {
		q = make(map[string]*memJob)
		b.queues[queue] = q
	}
	return q
}

func (b *MemoryBroker) insertLocked(p *pendingJob) bool {
	q := b.jobs(p.queue)
	if _, exists := q[p.id]; exists {
		return false
	}
	now := b.now()
	b.seq++
	q[p.id] = &memJob{
		seq: b.seq,
		Job: Job{
			Token:       p.token,
			Queue:       p.queue,
			ID:          p.id,
			Kind:        p.kind,
			Payload:     p.payload,
			State:       StateWaiting,
			MaxAttempts: p.maxAttempts,
			Backoff:     p.backoff,
			RepeatEvery: p.repeatEvery,
			RunAt:       now.Add(p.delay),
			CreatedAt:   now,
		},
	}
	if p.delay == 0 {
		b.signalLocked(p.queue)
	}
	return true
}

func (b *MemoryBroker) signalLocked(queue string) {
	ch, ok := b.wake[queue]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Enqueue implements Producer.
func (b *MemoryBroker) Enqueue(ctx context.Context, queue string, kind Kind, payload any, opts EnqueueOptions) (bool, error) {
	p, err := newPendingJob(b.policy, queue, kind, payload, opts)
	if err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertLocked(p), nil
}

// Remove implements Producer.
func (b *MemoryBroker) Remove(ctx context.Context, queue, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobs(queue), id)
	return nil
}

// Reschedule implements Producer.
func (b *MemoryBroker) Reschedule(ctx context.Context, queue, key string, stages []Stage) error {
	pending, err := stagesToPending(b.policy, queue, key, stages)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.jobs(queue)
	for _, p := range pending {
		delete(q, p.id)
	}
	for _, p := range pending {
		b.insertLocked(p)
	}
	return nil
}

// Reserve implements Consumer.
func (b *MemoryBroker) Reserve(ctx context.Context, queue string, limit int) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var due []*memJob
	for _, j := range b.jobs(queue) {
		if j.State == StateWaiting && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].RunAt.Equal(due[k].RunAt) {
			return due[i].RunAt.Before(due[k].RunAt)
		}
		return due[i].seq < due[k].seq
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Job, 0, len(due))
	for _, j := range due {
		j.State = StateActive
		j.Attempts++
		j.LockedAt = now
		j.Token = uuid.NewString()
		cp := j.Job
		out = append(out, &cp)
	}
	return out, nil
}

// current returns the stored job for a delivery, or nil when the delivery is
// stale: the job was removed, replaced, recovered or reserved again since.
func (b *MemoryBroker) current(job *Job) *memJob {
	j, ok := b.jobs(job.Queue)[job.ID]
	if !ok || j.Token != job.Token || j.State != StateActive {
		return nil
	}
	return j
}

// Extend implements Consumer.
func (b *MemoryBroker) Extend(ctx context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j := b.current(job); j != nil {
		j.LockedAt = b.now()
	}
	return nil
}

// Complete implements Consumer.
func (b *MemoryBroker) Complete(ctx context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.current(job)
	if j == nil {
		return nil
	}
	if j.Repeating() {
		b.rearmLocked(j, "")
		return nil
	}
	delete(b.jobs(job.Queue), job.ID)
	return nil
}

func (b *MemoryBroker) rearmLocked(j *memJob, lastErr string) time.Time {
	j.State = StateWaiting
	j.Attempts = 0
	j.StalledCount = 0
	j.LockedAt = time.Time{}
	j.LastError = lastErr
	j.RunAt = b.now().Add(j.RepeatEvery)
	return j.RunAt
}

// Fail implements Consumer.
func (b *MemoryBroker) Fail(ctx context.Context, job *Job, cause error) (FailResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = truncateError(cause.Error())
	}
	j := b.current(job)
	if j == nil {
		return FailResult{Stale: true}, nil
	}

	if !j.exhausted() {
		j.State = StateWaiting
		j.LockedAt = time.Time{}
		j.LastError = msg
		j.RunAt = b.now().Add(backoffDelay(j.Backoff, j.Attempts))
		return FailResult{RetryAt: j.RunAt}, nil
	}
	if j.Repeating() {
		return FailResult{Final: true, RetryAt: b.rearmLocked(j, msg)}, nil
	}
	j.State = StateFailed
	j.LockedAt = time.Time{}
	j.LastError = msg
	j.failedAt = b.now()
	return FailResult{Final: true}, nil
}

// RecoverStalled implements Consumer.
func (b *MemoryBroker) RecoverStalled(ctx context.Context, queue string, window time.Duration, maxStalled int) (StalledReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var report StalledReport
	now := b.now()
	cutoff := now.Add(-window)
	for _, j := range b.jobs(queue) {
		if j.State != StateActive || !j.LockedAt.Before(cutoff) {
			continue
		}
		j.StalledCount++
		j.LockedAt = time.Time{}
		if j.Attempts > 0 {
			j.Attempts--
		}
		if j.StalledCount > maxStalled {
			j.State = StateFailed
			j.LastError = stalledError
			j.failedAt = now
			report.Failed++
			continue
		}
		j.State = StateWaiting
		j.RunAt = now
		report.Requeued++
	}
	return report, nil
}

// Stats implements Broker.
func (b *MemoryBroker) Stats(ctx context.Context, queue string) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var s Stats
	now := b.now()
	for _, j := range b.jobs(queue) {
		switch j.State {
		case StateWaiting:
			if j.RunAt.After(now) {
				s.Delayed++
			} else {
				s.Waiting++
			}
		case StateActive:
			s.Active++
		case StateFailed:
			s.Failed++
		}
	}
	return s, nil
}

// PruneFailed implements Broker.
func (b *MemoryBroker) PruneFailed(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	cutoff := b.now().Add(-olderThan)
	q := b.jobs(queue)
	for id, j := range q {
		if j.State == StateFailed && j.failedAt.Before(cutoff) {
			delete(q, id)
			n++
		}
	}
	return n, nil
}

// Wakeups implements Waker.
func (b *MemoryBroker) Wakeups(queue string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.wake[queue]
	if !ok {
		ch = make(chan struct{}, 1)
		b.wake[queue] = ch
	}
	return ch
}

// Jobs returns a snapshot of every job held for queue, ordered by id.
func (b *MemoryBroker) Jobs(queue string) []Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Job, 0, len(b.queues[queue]))
	for _, j := range b.queues[queue] {
		out = append(out, j.Job)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Lookup implements Producer.
func (b *MemoryBroker) Lookup(ctx context.Context, queue, id string) (*Job, error) {
	j, ok := b.Get(queue, id)
	if !ok {
		return nil, nil
	}
	return &j, nil
}

// Get returns the job with the given id, if held.
func (b *MemoryBroker) Get(queue, id string) (Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.queues[queue][id]
	if !ok {
		return Job{}, false
	}
	return j.Job, true
}
