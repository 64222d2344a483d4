package authmail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsoumya617/shoply/domain/email"
	"github.com/deepsoumya617/shoply/domain/email/emailtest"
	"github.com/deepsoumya617/shoply/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	producer *Producer
	worker   *Worker
	broker   *queue.MemoryBroker
	recorder *emailtest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	broker := queue.NewMemoryBroker(queue.DefaultRetryPolicy())
	templates, err := email.NewTemplateService(testLogger())
	require.NoError(t, err)
	recorder := &emailtest.Recorder{}

	w := NewWorker(email.NewMailer(templates, recorder, testLogger()),
		"https://shop.example.com", "admin@shop.example.com", testLogger())
	w.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	return &fixture{
		producer: NewProducer(broker, testLogger()),
		worker:   w,
		broker:   broker,
		recorder: recorder,
	}
}

// runAll reserves every queued auth job and runs it.
func (f *fixture) runAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	jobs, err := f.broker.Reserve(ctx, queue.QueueAuth, 10)
	require.NoError(t, err)
	for _, j := range jobs {
		require.NoError(t, f.worker.Handle(ctx, j))
		require.NoError(t, f.broker.Complete(ctx, j))
	}
}

func TestAuthEmails(t *testing.T) {
	tests := []struct {
		name     string
		enqueue  func(ctx context.Context, p *Producer) error
		to       string
		subject  string
		contains []string
	}{
		{
			name: "verification",
			enqueue: func(ctx context.Context, p *Producer) error {
				return p.Verification(ctx, "new@example.com", "tok/en+1")
			},
			to:       "new@example.com",
			subject:  "Verify your email",
			contains: []string{"https://shop.example.com/api/auth/verify-email?token=tok%2Fen%2B1"},
		},
		{
			name: "login alert",
			enqueue: func(ctx context.Context, p *Producer) error {
				return p.Login(ctx, "user@example.com", "203.0.113.7", "Firefox on Linux")
			},
			to:      "user@example.com",
			subject: "Login Successful!",
			contains: []string{
				"Firefox on Linux",
				"203.0.113.7",
				"Sat, 01 Mar 2025 12:00:00 GMT",
				"https://shop.example.com/api/auth/reset-password",
			},
		},
		{
			name: "forgot password",
			enqueue: func(ctx context.Context, p *Producer) error {
				return p.ForgotPassword(ctx, "user@example.com", "reset-123")
			},
			to:       "user@example.com",
			subject:  "Reset Password",
			contains: []string{"https://shop.example.com/api/auth/reset-password?token=reset-123"},
		},
		{
			name: "role change goes to the administrator",
			enqueue: func(ctx context.Context, p *Producer) error {
				return p.UpdateRole(ctx, "user-42")
			},
			to:      "admin@shop.example.com",
			subject: "Update user role",
			contains: []string{
				`with id "user-42"`,
				"https://shop.example.com/api/users/admin/update-user-role?userId=user-42",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, tt.enqueue(context.Background(), f.producer))
			require.Len(t, f.broker.Jobs(queue.QueueAuth), 1)

			f.runAll(t)

			sent := f.recorder.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.to, sent[0].To)
			assert.Equal(t, tt.subject, sent[0].Subject)
			for _, want := range tt.contains {
				assert.Contains(t, sent[0].HTML, want)
			}
			assert.Empty(t, f.broker.Jobs(queue.QueueAuth))
		})
	}
}

func TestProducerAddsOneJobPerCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.producer.Login(ctx, "user@example.com", "203.0.113.7", "curl"))
	require.NoError(t, f.producer.Login(ctx, "user@example.com", "203.0.113.7", "curl"))
	assert.Len(t, f.broker.Jobs(queue.QueueAuth), 2)
}

func TestWorkerErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.worker.Handle(ctx, &queue.Job{Queue: queue.QueueAuth, Kind: "send-welcome-email", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, queue.ErrUnknownKind)

	err = f.worker.Handle(ctx, &queue.Job{Queue: queue.QueueAuth, Kind: KindVerification, Payload: []byte(`[`)})
	assert.ErrorContains(t, err, "decode")

	f.recorder.SetErr(errors.New("provider down"))
	err = f.worker.Handle(ctx, &queue.Job{Queue: queue.QueueAuth, Kind: KindUpdateRole, Payload: []byte(`{"userId":"u1"}`)})
	assert.ErrorContains(t, err, "provider down")
	assert.Empty(t, f.recorder.Sent())
}
