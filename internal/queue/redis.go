package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deepsoumya617/shoply/pkg/logger"
)

// RedisBroker keeps each job in a hash and indexes it in three sorted sets
// per queue: waiting (scored by run time), active (scored by lease time) and
// failed (scored by failure time). Every state change is a Lua script, so
// each transition is atomic on the server.
//
// Keys: <prefix>:<queue>:job:<id>, <prefix>:<queue>:waiting,
// <prefix>:<queue>:active, <prefix>:<queue>:failed.
type RedisBroker struct {
	rdb    redis.UniversalClient
	prefix string
	policy RetryPolicy
	now    func() time.Time
	log    *slog.Logger
}

// NewRedisBroker creates a broker over rdb.
func NewRedisBroker(rdb redis.UniversalClient, prefix string, policy RetryPolicy, log *slog.Logger) *RedisBroker {
	return &RedisBroker{
		rdb:    rdb,
		prefix: prefix,
		policy: policy.withDefaults(),
		now:    time.Now,
		log:    log.With(logger.Scope("queue.redis")),
	}
}

func (b *RedisBroker) jobPrefix(queue string) string {
	return fmt.Sprintf("%s:%s:job:", b.prefix, queue)
}

func (b *RedisBroker) jobKey(queue, id string) string {
	return b.jobPrefix(queue) + id
}

func (b *RedisBroker) setKey(queue string, state State) string {
	return fmt.Sprintf("%s:%s:%s", b.prefix, queue, state)
}

func ms(t time.Time) int64 {
	return t.UnixMilli()
}

// enqueueScript: KEYS[1] job hash, KEYS[2] waiting set.
// ARGV: token, kind, payload, max_attempts, backoff_ms, repeat_every_ms, run_at, now, id.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'token', ARGV[1], 'kind', ARGV[2], 'payload', ARGV[3],
  'max_attempts', ARGV[4], 'backoff_ms', ARGV[5], 'repeat_every_ms', ARGV[6],
  'run_at', ARGV[7], 'created_at', ARGV[8],
  'attempts', 0, 'stalled_count', 0, 'state', 'waiting')
redis.call('ZADD', KEYS[2], ARGV[7], ARGV[9])
return 1
`)

// rescheduleScript: KEYS[1] waiting, KEYS[2] active, KEYS[3] failed.
// ARGV[1] job key prefix, ARGV[2] now, then 8 values per stage:
// id, token, kind, payload, max_attempts, backoff_ms, repeat_every_ms, run_at.
var rescheduleScript = redis.NewScript(`
local n = (#ARGV - 2) / 8
for i = 0, n - 1 do
  local id = ARGV[3 + i * 8]
  redis.call('DEL', ARGV[1] .. id)
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZREM', KEYS[3], id)
end
for i = 0, n - 1 do
  local base = 3 + i * 8
  local id = ARGV[base]
  redis.call('HSET', ARGV[1] .. id,
    'token', ARGV[base + 1], 'kind', ARGV[base + 2], 'payload', ARGV[base + 3],
    'max_attempts', ARGV[base + 4], 'backoff_ms', ARGV[base + 5], 'repeat_every_ms', ARGV[base + 6],
    'run_at', ARGV[base + 7], 'created_at', ARGV[2],
    'attempts', 0, 'stalled_count', 0, 'state', 'waiting')
  redis.call('ZADD', KEYS[1], ARGV[base + 7], id)
end
return n
`)

// removeScript: KEYS[1] job hash, KEYS[2..4] waiting/active/failed. ARGV[1] id.
var removeScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
return 1
`)

// reserveScript: KEYS[1] waiting, KEYS[2] active. ARGV: now, limit, job key
// prefix, lease nonce. Each reserved job gets the token "<nonce>:<id>".
// Returns a flat list of id, HGETALL pairs.
var reserveScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
  local key = ARGV[3] .. id
  redis.call('ZREM', KEYS[1], id)
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    redis.call('HINCRBY', key, 'attempts', 1)
    redis.call('HSET', key, 'state', 'active', 'locked_at', ARGV[1], 'token', ARGV[4] .. ':' .. id)
    table.insert(out, id)
    table.insert(out, redis.call('HGETALL', key))
  end
end
return out
`)

// extendScript: KEYS[1] job hash, KEYS[2] active. ARGV: token, id, now.
var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') ~= ARGV[1] then
  return 0
end
if redis.call('HGET', KEYS[1], 'state') ~= 'active' then
  return 0
end
redis.call('HSET', KEYS[1], 'locked_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
return 1
`)

// settleScript acknowledges a delivery. KEYS[1] job hash, KEYS[2] active,
// KEYS[3] waiting, KEYS[4] failed.
// ARGV: token, id, now, mode, retry_at, error.
// mode: "complete", "retry" or "fail". Returns 0 for a stale delivery,
// otherwise the run time the job was rescheduled to (or -1 when deleted or failed).
var settleScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') ~= ARGV[1] then
  return 0
end
if redis.call('HGET', KEYS[1], 'state') ~= 'active' then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('HDEL', KEYS[1], 'locked_at')
local mode = ARGV[4]
if mode == 'retry' then
  redis.call('HSET', KEYS[1], 'state', 'waiting', 'run_at', ARGV[5], 'last_error', ARGV[6])
  redis.call('ZADD', KEYS[3], ARGV[5], ARGV[2])
  return tonumber(ARGV[5])
end
local every = tonumber(redis.call('HGET', KEYS[1], 'repeat_every_ms') or '0')
if every > 0 then
  local runAt = tonumber(ARGV[3]) + every
  redis.call('HSET', KEYS[1], 'state', 'waiting', 'attempts', 0, 'stalled_count', 0,
    'run_at', runAt, 'last_error', ARGV[6])
  redis.call('ZADD', KEYS[3], runAt, ARGV[2])
  return runAt
end
if mode == 'complete' then
  redis.call('DEL', KEYS[1])
  return -1
end
redis.call('HSET', KEYS[1], 'state', 'failed', 'failed_at', ARGV[3], 'last_error', ARGV[6])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[2])
return -1
`)

// recoverScript: KEYS[1] active, KEYS[2] waiting, KEYS[3] failed.
// ARGV: cutoff, now, max stalled, job key prefix, stalled error.
var recoverScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local requeued, failed = 0, 0
for _, id in ipairs(ids) do
  local key = ARGV[4] .. id
  redis.call('ZREM', KEYS[1], id)
  if redis.call('EXISTS', key) == 1 then
    local stalled = redis.call('HINCRBY', key, 'stalled_count', 1)
    local attempts = tonumber(redis.call('HGET', key, 'attempts') or '0')
    if attempts > 0 then
      redis.call('HSET', key, 'attempts', attempts - 1)
    end
    redis.call('HDEL', key, 'locked_at')
    if stalled > tonumber(ARGV[3]) then
      redis.call('HSET', key, 'state', 'failed', 'failed_at', ARGV[2], 'last_error', ARGV[5])
      redis.call('ZADD', KEYS[3], ARGV[2], id)
      failed = failed + 1
    else
      redis.call('HSET', key, 'state', 'waiting', 'run_at', ARGV[2])
      redis.call('ZADD', KEYS[2], ARGV[2], id)
      requeued = requeued + 1
    end
  end
end
return {requeued, failed}
`)

// pruneScript: KEYS[1] failed set. ARGV: cutoff, job key prefix.
var pruneScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
  redis.call('DEL', ARGV[2] .. id)
  redis.call('ZREM', KEYS[1], id)
end
return #ids
`)

func (b *RedisBroker) pendingArgs(p *pendingJob, now time.Time) []any {
	return []any{
		p.token, string(p.kind), string(p.payload),
		p.maxAttempts, millis(p.backoff), millis(p.repeatEvery),
		ms(now.Add(p.delay)),
	}
}

// Enqueue implements Producer.
func (b *RedisBroker) Enqueue(ctx context.Context, queue string, kind Kind, payload any, opts EnqueueOptions) (bool, error) {
	p, err := newPendingJob(b.policy, queue, kind, payload, opts)
	if err != nil {
		return false, err
	}
	now := b.now()
	args := append(b.pendingArgs(p, now), ms(now), p.id)
	n, err := enqueueScript.Run(ctx, b.rdb,
		[]string{b.jobKey(queue, p.id), b.setKey(queue, StateWaiting)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue job %s/%s: %w", queue, p.id, err)
	}
	return n == 1, nil
}

// Remove implements Producer.
func (b *RedisBroker) Remove(ctx context.Context, queue, id string) error {
	err := removeScript.Run(ctx, b.rdb, []string{
		b.jobKey(queue, id),
		b.setKey(queue, StateWaiting), b.setKey(queue, StateActive), b.setKey(queue, StateFailed),
	}, id).Err()
	if err != nil {
		return fmt.Errorf("remove job %s/%s: %w", queue, id, err)
	}
	return nil
}

// Reschedule implements Producer.
func (b *RedisBroker) Reschedule(ctx context.Context, queue, key string, stages []Stage) error {
	pending, err := stagesToPending(b.policy, queue, key, stages)
	if err != nil {
		return err
	}
	now := b.now()
	args := []any{b.jobPrefix(queue), ms(now)}
	for _, p := range pending {
		args = append(args, p.id)
		args = append(args, b.pendingArgs(p, now)...)
	}
	err = rescheduleScript.Run(ctx, b.rdb, []string{
		b.setKey(queue, StateWaiting), b.setKey(queue, StateActive), b.setKey(queue, StateFailed),
	}, args...).Err()
	if err != nil {
		return fmt.Errorf("reschedule %s/%s: %w", queue, key, err)
	}
	return nil
}

// Lookup implements Producer.
func (b *RedisBroker) Lookup(ctx context.Context, queue, id string) (*Job, error) {
	h, err := b.rdb.HGetAll(ctx, b.jobKey(queue, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("look up job %s/%s: %w", queue, id, err)
	}
	if len(h) == 0 {
		return nil, nil
	}
	fields := make([]any, 0, len(h)*2)
	for k, v := range h {
		fields = append(fields, k, v)
	}
	return decodeRedisJob(queue, id, fields)
}

// Reserve implements Consumer.
func (b *RedisBroker) Reserve(ctx context.Context, queue string, limit int) ([]*Job, error) {
	res, err := reserveScript.Run(ctx, b.rdb,
		[]string{b.setKey(queue, StateWaiting), b.setKey(queue, StateActive)},
		ms(b.now()), limit, b.jobPrefix(queue), uuid.NewString()).Slice()
	if err != nil {
		return nil, fmt.Errorf("reserve jobs on %s: %w", queue, err)
	}

	jobs := make([]*Job, 0, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		id, _ := res[i].(string)
		fields, _ := res[i+1].([]any)
		job, err := decodeRedisJob(queue, id, fields)
		if err != nil {
			b.log.Error("skipping undecodable job", slog.String("queue", queue), slog.String("id", id), logger.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func decodeRedisJob(queue, id string, fields []any) (*Job, error) {
	h := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		k, _ := fields[i].(string)
		v, _ := fields[i+1].(string)
		h[k] = v
	}
	num := func(name string) (int64, error) {
		v, ok := h[name]
		if !ok || v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", name, err)
		}
		return n, nil
	}

	var vals [8]int64
	for i, name := range []string{"attempts", "max_attempts", "backoff_ms", "repeat_every_ms", "run_at", "locked_at", "stalled_count", "created_at"} {
		n, err := num(name)
		if err != nil {
			return nil, err
		}
		vals[i] = n
	}

	return &Job{
		Token:        h["token"],
		Queue:        queue,
		ID:           id,
		Kind:         Kind(h["kind"]),
		Payload:      []byte(h["payload"]),
		State:        State(h["state"]),
		Attempts:     int(vals[0]),
		MaxAttempts:  int(vals[1]),
		Backoff:      time.Duration(vals[2]) * time.Millisecond,
		RepeatEvery:  time.Duration(vals[3]) * time.Millisecond,
		RunAt:        time.UnixMilli(vals[4]),
		LockedAt:     time.UnixMilli(vals[5]),
		StalledCount: int(vals[6]),
		LastError:    h["last_error"],
		CreatedAt:    time.UnixMilli(vals[7]),
	}, nil
}

// Extend implements Consumer.
func (b *RedisBroker) Extend(ctx context.Context, job *Job) error {
	return extendScript.Run(ctx, b.rdb,
		[]string{b.jobKey(job.Queue, job.ID), b.setKey(job.Queue, StateActive)},
		job.Token, job.ID, ms(b.now())).Err()
}

func (b *RedisBroker) settle(ctx context.Context, job *Job, mode string, retryAt time.Time, msg string) (int64, error) {
	return settleScript.Run(ctx, b.rdb, []string{
		b.jobKey(job.Queue, job.ID),
		b.setKey(job.Queue, StateActive), b.setKey(job.Queue, StateWaiting), b.setKey(job.Queue, StateFailed),
	}, job.Token, job.ID, ms(b.now()), mode, ms(retryAt), msg).Int64()
}

// Complete implements Consumer.
func (b *RedisBroker) Complete(ctx context.Context, job *Job) error {
	if _, err := b.settle(ctx, job, "complete", time.Time{}, ""); err != nil {
		return fmt.Errorf("complete job %s/%s: %w", job.Queue, job.ID, err)
	}
	return nil
}

// Fail implements Consumer.
func (b *RedisBroker) Fail(ctx context.Context, job *Job, cause error) (FailResult, error) {
	msg := ""
	if cause != nil {
		msg = truncateError(cause.Error())
	}
	result := FailResult{Final: job.exhausted()}

	mode := "fail"
	var retryAt time.Time
	if !result.Final {
		mode = "retry"
		retryAt = b.now().Add(backoffDelay(job.Backoff, job.Attempts))
	}
	runAt, err := b.settle(ctx, job, mode, retryAt, msg)
	if err != nil {
		return result, fmt.Errorf("fail job %s/%s: %w", job.Queue, job.ID, err)
	}
	if runAt == 0 {
		return FailResult{Stale: true}, nil
	}
	if runAt > 0 {
		result.RetryAt = time.UnixMilli(runAt)
	}
	return result, nil
}

// RecoverStalled implements Consumer.
func (b *RedisBroker) RecoverStalled(ctx context.Context, queue string, window time.Duration, maxStalled int) (StalledReport, error) {
	now := b.now()
	res, err := recoverScript.Run(ctx, b.rdb, []string{
		b.setKey(queue, StateActive), b.setKey(queue, StateWaiting), b.setKey(queue, StateFailed),
	}, ms(now.Add(-window)), ms(now), maxStalled, b.jobPrefix(queue), stalledError).Int64Slice()
	if err != nil {
		return StalledReport{}, fmt.Errorf("recover stalled jobs on %s: %w", queue, err)
	}
	if len(res) != 2 {
		return StalledReport{}, fmt.Errorf("recover stalled jobs on %s: unexpected reply %v", queue, res)
	}
	return StalledReport{Requeued: int(res[0]), Failed: int(res[1])}, nil
}

// Stats implements Broker.
func (b *RedisBroker) Stats(ctx context.Context, queue string) (Stats, error) {
	now := strconv.FormatInt(ms(b.now()), 10)
	pipe := b.rdb.Pipeline()
	waiting := pipe.ZCount(ctx, b.setKey(queue, StateWaiting), "-inf", now)
	delayed := pipe.ZCount(ctx, b.setKey(queue, StateWaiting), "("+now, "+inf")
	active := pipe.ZCard(ctx, b.setKey(queue, StateActive))
	failed := pipe.ZCard(ctx, b.setKey(queue, StateFailed))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats for %s: %w", queue, err)
	}
	return Stats{
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Active:  active.Val(),
		Failed:  failed.Val(),
	}, nil
}

// PruneFailed implements Broker.
func (b *RedisBroker) PruneFailed(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	n, err := pruneScript.Run(ctx, b.rdb, []string{b.setKey(queue, StateFailed)},
		ms(b.now().Add(-olderThan)), b.jobPrefix(queue)).Int64()
	if err != nil {
		return 0, fmt.Errorf("prune failed jobs on %s: %w", queue, err)
	}
	return n, nil
}
