package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSender struct {
	mu    sync.Mutex
	calls int
	err   error
	last  Message
}

func (s *stubSender) Send(ctx context.Context, msg Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = msg
	if s.err != nil {
		return "", s.err
	}
	return "id-1", nil
}

func TestMailgunSenderValidate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *Config
		wantError string
	}{
		{
			name: "all fields valid",
			cfg: &Config{
				MailgunDomain: "mg.example.com",
				MailgunAPIKey: "key-abc123",
				FromEmail:     "noreply@example.com",
			},
		},
		{
			name:      "missing MailgunDomain",
			cfg:       &Config{MailgunAPIKey: "key-abc123", FromEmail: "noreply@example.com"},
			wantError: "MAILGUN_DOMAIN is required",
		},
		{
			name:      "missing MailgunAPIKey",
			cfg:       &Config{MailgunDomain: "mg.example.com", FromEmail: "noreply@example.com"},
			wantError: "MAILGUN_API_KEY is required",
		},
		{
			name:      "missing FromEmail",
			cfg:       &Config{MailgunDomain: "mg.example.com", MailgunAPIKey: "key-abc123"},
			wantError: "EMAIL_FROM is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &MailgunSender{cfg: tt.cfg}
			err := sender.validate()
			if tt.wantError == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantError)
		})
	}
}

func TestNewSender(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want string
	}{
		{name: "disabled", cfg: &Config{Enabled: false, MailgunDomain: "d", MailgunAPIKey: "k"}, want: "noop"},
		{name: "enabled without provider", cfg: &Config{Enabled: true}, want: "noop"},
		{name: "mailgun without rate cap", cfg: &Config{Enabled: true, MailgunDomain: "d", MailgunAPIKey: "k", FromEmail: "a@b.c"}, want: "breaker"},
		{name: "smtp with rate cap", cfg: &Config{Enabled: true, SMTPHost: "smtp.example.com", SMTPPort: 587, RatePerSecond: 5}, want: "rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSender(testLogger(), tt.cfg)
			switch tt.want {
			case "noop":
				assert.IsType(t, &noOpSender{}, s)
			case "breaker":
				assert.IsType(t, &BreakerSender{}, s)
			case "rate":
				assert.IsType(t, &RateLimitedSender{}, s)
			}
		})
	}
}

func TestNoOpSenderRequiresRecipient(t *testing.T) {
	s := &noOpSender{log: testLogger()}
	_, err := s.Send(context.Background(), Message{Subject: "x"})
	assert.ErrorIs(t, err, ErrNoRecipient)

	id, err := s.Send(context.Background(), Message{To: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "noop-a@example.com", id)
}

func TestBreakerSenderOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubSender{err: errors.New("503 from provider")}
	s := NewBreakerSender("test", stub, testLogger())
	ctx := context.Background()

	for i := 0; i < breakerConsecutiveFailures; i++ {
		_, err := s.Send(ctx, Message{To: "a@example.com"})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen.String(), s.State())

	_, err := s.Send(ctx, Message{To: "a@example.com"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, breakerConsecutiveFailures, stub.calls, "open breaker does not call the provider")
}

func TestBreakerSenderIgnoresMissingRecipient(t *testing.T) {
	stub := &stubSender{err: ErrNoRecipient}
	s := NewBreakerSender("test", stub, testLogger())

	for i := 0; i < breakerConsecutiveFailures+2; i++ {
		_, err := s.Send(context.Background(), Message{})
		assert.ErrorIs(t, err, ErrNoRecipient)
	}
	assert.Equal(t, gobreaker.StateClosed.String(), s.State())
}

func TestRateLimitedSenderHonoursContext(t *testing.T) {
	stub := &stubSender{}
	s := NewRateLimitedSender(stub, 0.001, 1)

	_, err := s.Send(context.Background(), Message{To: "a@example.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Send(ctx, Message{To: "a@example.com"})
	assert.Error(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestSMTPSender(t *testing.T) {
	cfg := &Config{
		SMTPHost:  "smtp.example.com",
		SMTPPort:  2525,
		SMTPUser:  "user",
		FromEmail: "noreply@example.com",
		FromName:  "Shoply",
	}
	s := NewSMTPSender(cfg, testLogger())
	require.NotNil(t, s)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		return nil
	}

	id, err := s.Send(context.Background(), Message{To: "buyer@example.com", Subject: "Hello", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "smtp-"))
	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, "noreply@example.com", gotFrom)
	assert.Equal(t, []string{"buyer@example.com"}, gotTo)
	assert.Contains(t, string(gotBody), "From: Shoply <noreply@example.com>\r\n")
	assert.Contains(t, string(gotBody), "Subject: Hello\r\n")
	assert.True(t, strings.HasSuffix(string(gotBody), "<p>hi</p>"))

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("550 mailbox unavailable") }
	_, err = s.Send(context.Background(), Message{To: "buyer@example.com"})
	assert.ErrorContains(t, err, "550 mailbox unavailable")

	assert.Nil(t, NewSMTPSender(&Config{}, testLogger()))
}

func TestTemplateServiceRendersEveryTemplate(t *testing.T) {
	ts, err := NewTemplateService(testLogger())
	require.NoError(t, err)

	for _, name := range []string{
		"order-created", "payment-confirmation", "tracking-update",
		"cart-reminder", "cart-deleted",
		"verify-email", "login-alert", "reset-password", "update-role",
	} {
		t.Run(name, func(t *testing.T) {
			require.True(t, ts.HasTemplate(name))
			res, err := ts.Render(name, TemplateContext{
				"title":    "Subject",
				"ctaUrl":   "http://localhost:8080/x",
				"ctaLabel": "Open",
			})
			require.NoError(t, err)
			assert.Contains(t, res.HTML, "<title>Subject</title>")
			assert.Contains(t, res.HTML, `href="http://localhost:8080/x"`)
			assert.Contains(t, res.Text, "Link: http://localhost:8080/x")
		})
	}
}

func TestTemplateServiceCartReminderListsItems(t *testing.T) {
	ts, err := NewTemplateService(testLogger())
	require.NoError(t, err)

	res, err := ts.Render("cart-reminder", TemplateContext{
		"items": []map[string]any{
			{"name": "Keyboard", "quantity": 2},
			{"name": "Mouse", "quantity": 1},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "<li>Keyboard (x2)</li>")
	assert.Contains(t, res.HTML, "<li>Mouse (x1)</li>")
}

func TestTemplateServiceUnknownTemplate(t *testing.T) {
	ts, err := NewTemplateService(testLogger())
	require.NoError(t, err)

	_, err = ts.Render("does-not-exist", nil)
	assert.ErrorContains(t, err, "template not found")
}

func TestTemplateServiceRejectsBrokenTemplate(t *testing.T) {
	fsys := fstest.MapFS{
		"t/layouts/base.hbs":    {Data: []byte("{{{content}}}")},
		"t/partials/footer.hbs": {Data: []byte("")},
		"t/broken.hbs":          {Data: []byte("{{#each items}}")},
	}
	_, err := newTemplateService(fsys, "t", testLogger())
	assert.ErrorContains(t, err, "broken")
}

func TestMailerDeliver(t *testing.T) {
	ts, err := NewTemplateService(testLogger())
	require.NoError(t, err)
	stub := &stubSender{}
	m := NewMailer(ts, stub, testLogger())

	err = m.Deliver(context.Background(), "buyer@example.com", "Verify your email", "verify-email", TemplateContext{
		"ctaUrl":   "http://localhost:8080/api/auth/verify-email?token=abc",
		"ctaLabel": "Verify email",
	})
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", stub.last.To)
	assert.Equal(t, "Verify your email", stub.last.Subject)
	assert.Contains(t, stub.last.HTML, "<title>Verify your email</title>")
	assert.Contains(t, stub.last.HTML, "verify-email?token=abc")

	stub.err = errors.New("provider down")
	err = m.Deliver(context.Background(), "buyer@example.com", "x", "verify-email", nil)
	assert.ErrorContains(t, err, "provider down")
}

func TestRateLimitedSenderReportsBreakerState(t *testing.T) {
	breaker := NewBreakerSender("test", &stubSender{}, testLogger())
	s := NewRateLimitedSender(breaker, 10, 1)
	assert.Equal(t, gobreaker.StateClosed.String(), s.State())

	assert.Empty(t, NewRateLimitedSender(&stubSender{}, 10, 1).State())
}
