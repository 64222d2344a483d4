package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/deepsoumya617/shoply/pkg/logger"
)

// notifyChannel is the LISTEN/NOTIFY channel signalled when a job becomes due
// immediately. The payload is the queue name.
const notifyChannel = "queue_jobs"

// jobRow is the queue_jobs table.
type jobRow struct {
	bun.BaseModel `bun:"table:queue_jobs,alias:qj"`

	ID            string          `bun:"id,pk,type:uuid"`
	Queue         string          `bun:"queue"`
	JobID         string          `bun:"job_id"`
	Kind          string          `bun:"kind"`
	Payload       json.RawMessage `bun:"payload,type:jsonb"`
	State         string          `bun:"state"`
	Attempts      int             `bun:"attempts"`
	MaxAttempts   int             `bun:"max_attempts"`
	BackoffMs     int64           `bun:"backoff_ms"`
	RepeatEveryMs int64           `bun:"repeat_every_ms"`
	RunAt         time.Time       `bun:"run_at"`
	LockedAt      bun.NullTime    `bun:"locked_at"`
	LeaseToken    sql.NullString  `bun:"lease_token,type:uuid"`
	StalledCount  int             `bun:"stalled_count"`
	LastError     sql.NullString  `bun:"last_error"`
	FailedAt      bun.NullTime    `bun:"failed_at"`
	CreatedAt     time.Time       `bun:"created_at"`
	UpdatedAt     time.Time       `bun:"updated_at"`
}

func (r *jobRow) toJob() *Job {
	return &Job{
		Token:        r.LeaseToken.String,
		Queue:        r.Queue,
		ID:           r.JobID,
		Kind:         Kind(r.Kind),
		Payload:      r.Payload,
		State:        State(r.State),
		Attempts:     r.Attempts,
		MaxAttempts:  r.MaxAttempts,
		Backoff:      time.Duration(r.BackoffMs) * time.Millisecond,
		RepeatEvery:  time.Duration(r.RepeatEveryMs) * time.Millisecond,
		RunAt:        r.RunAt,
		LockedAt:     r.LockedAt.Time,
		StalledCount: r.StalledCount,
		LastError:    r.LastError.String,
		CreatedAt:    r.CreatedAt,
	}
}

// PostgresBroker stores jobs in the queue_jobs table. Workers claim due jobs
// with FOR UPDATE SKIP LOCKED, so any number of processes can consume the
// same queue. Each claim writes a new lease_token, which the row keeps until
// it is settled or recovered. All timestamps come from the database clock.
type PostgresBroker struct {
	db       bun.IDB
	policy   RetryPolicy
	listener *Listener
	log      *slog.Logger
}

// NewPostgresBroker creates a broker over db. listener may be nil, in which
// case workers rely on polling alone.
func NewPostgresBroker(db bun.IDB, policy RetryPolicy, listener *Listener, log *slog.Logger) *PostgresBroker {
	return &PostgresBroker{
		db:       db,
		policy:   policy.withDefaults(),
		listener: listener,
		log:      log.With(logger.Scope("queue.postgres")),
	}
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}

func (b *PostgresBroker) insert(ctx context.Context, db bun.IDB, p *pendingJob) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO queue_jobs (id, queue, job_id, kind, payload, max_attempts, backoff_ms, repeat_every_ms, run_at)
		VALUES (?, ?, ?, ?, ?::jsonb, ?, ?, ?, now() + ? * interval '1 millisecond')
		ON CONFLICT (queue, job_id) DO NOTHING`,
		p.token, p.queue, p.id, string(p.kind), string(p.payload),
		p.maxAttempts, millis(p.backoff), millis(p.repeatEvery), millis(p.delay),
	)
	if err != nil {
		return false, fmt.Errorf("insert job %s/%s: %w", p.queue, p.id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 && p.delay == 0 {
		if _, err := db.ExecContext(ctx, "SELECT pg_notify(?, ?)", notifyChannel, p.queue); err != nil {
			b.log.Warn("notify failed", slog.String("queue", p.queue), logger.Error(err))
		}
	}
	return n == 1, nil
}

// Enqueue implements Producer.
func (b *PostgresBroker) Enqueue(ctx context.Context, queue string, kind Kind, payload any, opts EnqueueOptions) (bool, error) {
	p, err := newPendingJob(b.policy, queue, kind, payload, opts)
	if err != nil {
		return false, err
	}
	return b.insert(ctx, b.db, p)
}

// Remove implements Producer.
func (b *PostgresBroker) Remove(ctx context.Context, queue, id string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM queue_jobs WHERE queue = ? AND job_id = ?", queue, id)
	if err != nil {
		return fmt.Errorf("remove job %s/%s: %w", queue, id, err)
	}
	return nil
}

// Reschedule implements Producer. The removal and the inserts share one
// transaction; a concurrent reschedule of the same key blocks on the unique
// index until this one commits and then inserts nothing.
func (b *PostgresBroker) Reschedule(ctx context.Context, queue, key string, stages []Stage) error {
	pending, err := stagesToPending(b.policy, queue, key, stages)
	if err != nil {
		return err
	}
	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.id
	}

	return b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM queue_jobs WHERE queue = ? AND job_id IN (?)", queue, bun.In(ids),
		); err != nil {
			return fmt.Errorf("remove stages of %s/%s: %w", queue, key, err)
		}
		for _, p := range pending {
			if _, err := b.insert(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reserve implements Consumer.
func (b *PostgresBroker) Reserve(ctx context.Context, queue string, limit int) ([]*Job, error) {
	var rows []jobRow
	err := b.db.NewRaw(`
		WITH due AS (
			SELECT id FROM queue_jobs
			WHERE queue = ? AND state = 'waiting' AND run_at <= now()
			ORDER BY run_at, created_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_jobs j
		SET state = 'active', attempts = j.attempts + 1, locked_at = now(),
		    lease_token = gen_random_uuid(), updated_at = now()
		FROM due
		WHERE j.id = due.id
		RETURNING j.*`, queue, limit).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("reserve jobs on %s: %w", queue, err)
	}

	jobs := make([]*Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toJob()
	}
	return jobs, nil
}

// Extend implements Consumer.
func (b *PostgresBroker) Extend(ctx context.Context, job *Job) error {
	_, err := b.db.ExecContext(ctx,
		"UPDATE queue_jobs SET locked_at = now() WHERE lease_token = ? AND state = 'active'", job.Token)
	return err
}

// Complete implements Consumer.
func (b *PostgresBroker) Complete(ctx context.Context, job *Job) error {
	var err error
	if job.Repeating() {
		_, err = b.db.ExecContext(ctx, `
			UPDATE queue_jobs
			SET state = 'waiting', attempts = 0, stalled_count = 0, locked_at = NULL, lease_token = NULL,
			    last_error = NULL, run_at = now() + repeat_every_ms * interval '1 millisecond', updated_at = now()
			WHERE lease_token = ? AND state = 'active'`, job.Token)
	} else {
		_, err = b.db.ExecContext(ctx,
			"DELETE FROM queue_jobs WHERE lease_token = ? AND state = 'active'", job.Token)
	}
	if err != nil {
		return fmt.Errorf("complete job %s/%s: %w", job.Queue, job.ID, err)
	}
	return nil
}

// Fail implements Consumer.
func (b *PostgresBroker) Fail(ctx context.Context, job *Job, cause error) (FailResult, error) {
	msg := ""
	if cause != nil {
		msg = truncateError(cause.Error())
	}

	var runAt []time.Time
	var err error
	result := FailResult{Final: job.exhausted()}
	switch {
	case !result.Final:
		err = b.db.NewRaw(`
			UPDATE queue_jobs
			SET state = 'waiting', locked_at = NULL, lease_token = NULL, last_error = ?,
			    run_at = now() + ? * interval '1 millisecond', updated_at = now()
			WHERE lease_token = ? AND state = 'active'
			RETURNING run_at`,
			msg, millis(backoffDelay(job.Backoff, job.Attempts)), job.Token).Scan(ctx, &runAt)
	case job.Repeating():
		err = b.db.NewRaw(`
			UPDATE queue_jobs
			SET state = 'waiting', attempts = 0, stalled_count = 0, locked_at = NULL, lease_token = NULL,
			    last_error = ?, run_at = now() + repeat_every_ms * interval '1 millisecond', updated_at = now()
			WHERE lease_token = ? AND state = 'active'
			RETURNING run_at`, msg, job.Token).Scan(ctx, &runAt)
	default:
		var res sql.Result
		res, err = b.db.ExecContext(ctx, `
			UPDATE queue_jobs
			SET state = 'failed', locked_at = NULL, lease_token = NULL, last_error = ?,
			    failed_at = now(), updated_at = now()
			WHERE lease_token = ? AND state = 'active'`, msg, job.Token)
		if err == nil {
			var n int64
			if n, err = res.RowsAffected(); err == nil && n == 0 {
				return FailResult{Stale: true}, nil
			}
		}
	}
	if err != nil {
		return result, fmt.Errorf("fail job %s/%s: %w", job.Queue, job.ID, err)
	}
	if len(runAt) > 0 {
		result.RetryAt = runAt[0]
	} else if !result.Final || job.Repeating() {
		return FailResult{Stale: true}, nil
	}
	return result, nil
}

// RecoverStalled implements Consumer.
func (b *PostgresBroker) RecoverStalled(ctx context.Context, queue string, window time.Duration, maxStalled int) (StalledReport, error) {
	var states []string
	err := b.db.NewRaw(`
		UPDATE queue_jobs
		SET stalled_count = stalled_count + 1,
		    attempts = GREATEST(attempts - 1, 0),
		    state = CASE WHEN stalled_count + 1 > ? THEN 'failed' ELSE 'waiting' END,
		    failed_at = CASE WHEN stalled_count + 1 > ? THEN now() ELSE NULL END,
		    last_error = CASE WHEN stalled_count + 1 > ? THEN ? ELSE last_error END,
		    run_at = now(),
		    locked_at = NULL,
		    lease_token = NULL,
		    updated_at = now()
		WHERE queue = ? AND state = 'active' AND locked_at < now() - ? * interval '1 millisecond'
		RETURNING state`,
		maxStalled, maxStalled, maxStalled, stalledError, queue, millis(window)).Scan(ctx, &states)
	if err != nil {
		return StalledReport{}, fmt.Errorf("recover stalled jobs on %s: %w", queue, err)
	}

	var report StalledReport
	for _, s := range states {
		if s == string(StateFailed) {
			report.Failed++
		} else {
			report.Requeued++
		}
	}
	return report, nil
}

// Stats implements Broker.
func (b *PostgresBroker) Stats(ctx context.Context, queue string) (Stats, error) {
	var s Stats
	err := b.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE state = 'waiting' AND run_at <= now()) AS waiting,
			COUNT(*) FILTER (WHERE state = 'waiting' AND run_at > now()) AS delayed,
			COUNT(*) FILTER (WHERE state = 'active') AS active,
			COUNT(*) FILTER (WHERE state = 'failed') AS failed
		FROM queue_jobs
		WHERE queue = ?`, queue).Scan(ctx, &s.Waiting, &s.Delayed, &s.Active, &s.Failed)
	if err != nil {
		return s, fmt.Errorf("queue stats for %s: %w", queue, err)
	}
	return s, nil
}

// PruneFailed implements Broker.
func (b *PostgresBroker) PruneFailed(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
		DELETE FROM queue_jobs
		WHERE queue = ? AND state = 'failed' AND failed_at < now() - ? * interval '1 millisecond'`,
		queue, millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune failed jobs on %s: %w", queue, err)
	}
	return res.RowsAffected()
}

// Wakeups implements Waker.
func (b *PostgresBroker) Wakeups(queue string) <-chan struct{} {
	if b.listener == nil {
		return nil
	}
	return b.listener.Subscribe(queue)
}

// Lookup implements Producer.
func (b *PostgresBroker) Lookup(ctx context.Context, queue, id string) (*Job, error) {
	row := new(jobRow)
	err := b.db.NewSelect().Model(row).
		Where("queue = ?", queue).
		Where("job_id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up job %s/%s: %w", queue, id, err)
	}
	return row.toJob(), nil
}
