// Package binding adapts a session channel to a user-facing front end: it
// owns the composing buffer and the typing debounce, and turns user intents
// into session commands.
package binding

import (
	"strings"
	"sync"
	"time"

	"github.com/christopherjohns/quickroom/internal/session"
)

// DefaultTypingIdle is how long after the last keystroke typing is
// considered stopped.
const DefaultTypingIdle = 2 * time.Second

// Session is the part of a session channel a front end drives.
type Session interface {
	Connect(roomCode, nickname string)
	Send(body string)
	SetTyping(isTyping bool)
	Disconnect()
	Snapshot() session.Snapshot
	Changes() <-chan struct{}
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithTypingIdle overrides DefaultTypingIdle.
func WithTypingIdle(d time.Duration) ComposerOption {
	return func(c *Composer) {
		c.idle = d
	}
}

// Composer holds the text being composed and reports typing activity.
type Composer struct {
	sess Session
	idle time.Duration

	mu      sync.Mutex
	entered bool
	buffer  string
	typing  bool
	timer   *time.Timer
	// gen invalidates idle timers that fired after a newer keystroke.
	gen uint64
}

// NewComposer creates a Composer driving sess.
func NewComposer(sess Session, opts ...ComposerOption) *Composer {
	c := &Composer{
		sess: sess,
		idle: DefaultTypingIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enter validates the identity and connects the session.
func (c *Composer) Enter(roomCode, nickname string) error {
	id, err := session.NewIdentity(roomCode, nickname)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entered = true
	c.sess.Connect(id.RoomCode, id.Nickname)
	return nil
}

// Leave discards the draft and disconnects the session.
func (c *Composer) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entered = false
	c.buffer = ""
	c.cancelTyping()
	c.sess.Disconnect()
}

// Active reports whether the user is in a room, i.e. entered and not left.
func (c *Composer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entered
}

// Edit replaces the draft. The first edit of a burst reports typing; typing
// stops once no edit happens for the idle window.
func (c *Composer) Edit(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = text
	if !c.typing {
		c.typing = true
		c.sess.SetTyping(true)
	}
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.idle, func() { c.expire(gen) })
}

// Submit sends the trimmed draft if it is non-empty and the session is
// connected. On success the draft is cleared and typing stops.
func (c *Composer) Submit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	body := strings.TrimSpace(c.buffer)
	if body == "" || c.sess.Snapshot().State != session.Connected {
		return false
	}
	c.sess.Send(body)
	c.buffer = ""
	c.cancelTyping()
	return true
}

// Draft returns the text being composed.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

// Typing reports whether the local user is currently marked as typing.
func (c *Composer) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

func (c *Composer) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.typing {
		return
	}
	c.typing = false
	c.sess.SetTyping(false)
}

// cancelTyping must be called with mu held.
func (c *Composer) cancelTyping() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.typing {
		c.typing = false
		c.sess.SetTyping(false)
	}
}
