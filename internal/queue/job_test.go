package queue

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 2 * time.Second},
		{attempt: 1, want: 2 * time.Second},
		{attempt: 2, want: 4 * time.Second},
		{attempt: 3, want: 8 * time.Second},
		{attempt: 12, want: time.Hour},
		{attempt: 100, want: time.Hour},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_WithDefaults(t *testing.T) {
	assert.Equal(t, DefaultRetryPolicy(), RetryPolicy{}.withDefaults())
	assert.Equal(t, RetryPolicy{Attempts: 7, Backoff: 2 * time.Second}, RetryPolicy{Attempts: 7}.withDefaults())
}

func TestStageID(t *testing.T) {
	assert.Equal(t, "reminder1:42", StageID("reminder1", "42"))
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "short", truncateError("short"))
	long := strings.Repeat("x", maxErrorLength+20)
	assert.Len(t, truncateError(long), maxErrorLength)
}

func TestJob_Decode(t *testing.T) {
	job := &Job{Queue: QueueOrder, ID: "a", Kind: "create-order", Payload: json.RawMessage(`{"orderId":"o1","totalAmount":1300}`)}

	var p struct {
		OrderID     string  `json:"orderId"`
		TotalAmount float64 `json:"totalAmount"`
	}
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, "o1", p.OrderID)
	assert.Equal(t, 1300.0, p.TotalAmount)

	bad := &Job{Queue: QueueOrder, ID: "b", Kind: "create-order", Payload: json.RawMessage(`{`)}
	assert.Error(t, bad.Decode(&p))

	empty := &Job{Queue: QueueOrder, ID: "c"}
	assert.Error(t, empty.Decode(&p))
}

func TestUnknownKind(t *testing.T) {
	err := UnknownKind(&Job{Queue: QueueAuth, Kind: "send-fax"})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Contains(t, err.Error(), `"send-fax"`)
	assert.Contains(t, err.Error(), `"auth"`)
}

func TestNewPendingJob(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Backoff: 2 * time.Second}

	p, err := newPendingJob(policy, QueueCart, "k", nil, EnqueueOptions{Delay: -time.Second})
	require.NoError(t, err)
	assert.NotEmpty(t, p.id)
	assert.NotEmpty(t, p.token)
	assert.Zero(t, p.delay)
	assert.Equal(t, json.RawMessage("{}"), p.payload)
	assert.Equal(t, 3, p.maxAttempts)

	p, err = newPendingJob(policy, QueueCart, "k", nil, EnqueueOptions{ID: "x", Attempts: 5, Backoff: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "x", p.id)
	assert.Equal(t, 5, p.maxAttempts)
	assert.Equal(t, time.Second, p.backoff)

	_, err = newPendingJob(policy, QueueCart, "k", make(chan int), EnqueueOptions{})
	assert.Error(t, err)
}
