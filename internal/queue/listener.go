package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Listener turns NOTIFY messages on the queue channel into per-queue wakeups
// so idle workers pick up immediate jobs without waiting for their next poll.
// Lost notifications are harmless: polling still finds every due job.
type Listener struct {
	dsn string
	log *slog.Logger

	mu       sync.Mutex
	subs     map[string]chan struct{}
	listener *pq.Listener
	done     chan struct{}
}

// NewListener creates a listener for the given PostgreSQL DSN. It does not
// connect until Start.
func NewListener(dsn string, log *slog.Logger) *Listener {
	return &Listener{
		dsn:  dsn,
		log:  log.With(logger.Scope("queue.listener")),
		subs: make(map[string]chan struct{}),
	}
}

// Subscribe returns the wakeup channel for queue. The channel has a buffer of
// one, so bursts of notifications collapse into a single wakeup.
func (l *Listener) Subscribe(queue string) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.subs[queue]
	if !ok {
		ch = make(chan struct{}, 1)
		l.subs[queue] = ch
	}
	return ch
}

// Start connects and begins dispatching notifications.
func (l *Listener) Start() error {
	pl := pq.NewListener(l.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			l.log.Warn("listener connection problem", logger.Error(err))
		case pq.ListenerEventReconnected:
			l.log.Info("listener reconnected")
		}
	})
	if err := pl.Listen(notifyChannel); err != nil {
		_ = pl.Close()
		return err
	}

	l.mu.Lock()
	l.listener = pl
	l.done = make(chan struct{})
	l.mu.Unlock()

	go l.loop(pl, l.done)
	l.log.Info("listening for queue notifications", slog.String("channel", notifyChannel))
	return nil
}

func (l *Listener) loop(pl *pq.Listener, done chan struct{}) {
	defer close(done)
	for n := range pl.Notify {
		if n == nil {
			// Reconnected: notifications may have been missed, wake everyone.
			l.broadcast()
			continue
		}
		l.signal(n.Extra)
	}
}

func (l *Listener) signal(queue string) {
	l.mu.Lock()
	ch, ok := l.subs[queue]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (l *Listener) broadcast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Stop closes the connection and waits for the dispatch loop to exit.
func (l *Listener) Stop() error {
	l.mu.Lock()
	pl, done := l.listener, l.done
	l.listener = nil
	l.mu.Unlock()
	if pl == nil {
		return nil
	}
	err := pl.Close()
	<-done
	return err
}
