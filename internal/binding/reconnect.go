package binding

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/christopherjohns/quickroom/internal/session"
)

// ReconnectOption configures a Reconnector.
type ReconnectOption func(*Reconnector)

// WithBackOff replaces the default exponential backoff.
func WithBackOff(b backoff.BackOff) ReconnectOption {
	return func(r *Reconnector) {
		r.backoff = b
	}
}

// WithMaxAttempts stops retrying after n consecutive failed attempts.
// Zero means retry forever.
func WithMaxAttempts(n int) ReconnectOption {
	return func(r *Reconnector) {
		r.maxAttempts = n
	}
}

// WithReconnectLogger sets the logger. The default is slog.Default().
func WithReconnectLogger(l *slog.Logger) ReconnectOption {
	return func(r *Reconnector) {
		r.logger = l
	}
}

// Reconnector is an opt-in retry policy layered on top of a session, which
// never reconnects by itself. It reconnects a session that dropped to
// Disconnected while active reports true, waiting an exponentially growing
// delay between attempts.
type Reconnector struct {
	sess        Session
	active      func() bool
	backoff     backoff.BackOff
	maxAttempts int
	logger      *slog.Logger

	mu       sync.Mutex
	last     session.State
	attempts int
	timer    *time.Timer
	stopped  bool
}

// NewReconnector creates a Reconnector for sess. active tells whether the
// user still wants to be in the room; a deliberate leave must make it false.
func NewReconnector(sess Session, active func() bool, opts ...ReconnectOption) *Reconnector {
	r := &Reconnector{
		sess:    sess,
		active:  active,
		backoff: backoff.NewExponentialBackOff(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe feeds the latest snapshot to the policy. Call it after every
// session change.
func (r *Reconnector) Observe(snap session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.last
	r.last = snap.State
	if r.stopped || prev == snap.State {
		return
	}

	switch snap.State {
	case session.Connected:
		r.attempts = 0
		r.backoff.Reset()
	case session.Disconnected:
		if !r.active() {
			return
		}
		if r.maxAttempts > 0 && r.attempts >= r.maxAttempts {
			r.logger.Warn("reconnect: giving up", slog.Int("attempts", r.attempts))
			return
		}
		delay := r.backoff.NextBackOff()
		if delay == backoff.Stop {
			r.logger.Warn("reconnect: backoff exhausted")
			return
		}
		r.attempts++
		id := snap.Identity
		r.logger.Info("reconnect: scheduled", slog.Duration("delay", delay), slog.Int("attempt", r.attempts))
		if r.timer != nil {
			r.timer.Stop()
		}
		r.timer = time.AfterFunc(delay, func() { r.retry(id) })
	}
}

// Stop cancels any pending attempt. Observe has no effect afterwards.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reconnector) retry(id session.Identity) {
	if !r.active() || r.sess.Snapshot().State != session.Disconnected {
		return
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	// A fast failure may coalesce Connecting away before the next Observe.
	r.last = session.Connecting
	r.mu.Unlock()

	r.sess.Connect(id.RoomCode, id.Nickname)
}
