// Package emailtest provides an in-memory Sender for tests.
package emailtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/deepsoumya617/shoply/domain/email"
)

// Recorder is a Sender that keeps every message. Set Err to make sends fail.
type Recorder struct {
	mu   sync.Mutex
	sent []email.Message
	Err  error
}

// Send implements email.Sender.
func (r *Recorder) Send(ctx context.Context, msg email.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	r.sent = append(r.sent, msg)
	return fmt.Sprintf("rec-%d", len(r.sent)), nil
}

// Sent returns a copy of the messages sent so far.
func (r *Recorder) Sent() []email.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]email.Message, len(r.sent))
	copy(out, r.sent)
	return out
}

// SetErr changes the error returned by later sends.
func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	r.Err = err
	r.mu.Unlock()
}
