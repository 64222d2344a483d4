package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// RateLimitedSender caps the send rate shared by every worker in the process.
// Send blocks until a token is available or ctx is done.
type RateLimitedSender struct {
	next    Sender
	limiter *rate.Limiter
}

// NewRateLimitedSender wraps next with a limiter of perSecond sends and the
// given burst.
func NewRateLimitedSender(next Sender, perSecond float64, burst int) *RateLimitedSender {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSender{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send waits for the limiter, then hands msg to the wrapped sender. It fails
// without sending when ctx ends first.
func (s *RateLimitedSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("email rate limit: %w", err)
	}
	return s.next.Send(ctx, msg)
}

// State reports the state of the wrapped breaker, if any.
func (s *RateLimitedSender) State() string {
	if r, ok := s.next.(StateReporter); ok {
		return r.State()
	}
	return ""
}

// StateReporter is implemented by senders that guard the provider with a
// circuit breaker.
type StateReporter interface {
	State() string
}

// Breaker settings for the mail provider.
const (
	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 30 * time.Second
	breakerCountInterval       = time.Minute
)

// BreakerSender stops calling a failing provider for a while. While open,
// sends fail fast with gobreaker.ErrOpenState and the queue retries them
// later instead of each job waiting on a provider timeout.
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[string]
}

// NewBreakerSender wraps next with a circuit breaker named name.
func NewBreakerSender(name string, next Sender, log *slog.Logger) *BreakerSender {
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    breakerCountInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// Bad input is not a provider outage.
			return err == nil || errors.Is(err, ErrNoRecipient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("email circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &BreakerSender{next: next, cb: cb}
}

// Send runs the wrapped sender through the breaker.
func (s *BreakerSender) Send(ctx context.Context, msg Message) (string, error) {
	return s.cb.Execute(func() (string, error) {
		return s.next.Send(ctx, msg)
	})
}

// State reports the breaker state, for health output.
func (s *BreakerSender) State() string {
	return s.cb.State().String()
}
