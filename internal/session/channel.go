// Package session maintains the live connection to one chat room and the
// view state derived from the room's event stream.
//
// A Channel is an actor: a single goroutine owns the transport handle and all
// view state. Public methods and transport callbacks are delivered to it as
// messages, so the state is never mutated concurrently. Failures are never
// returned to callers; they surface as the Disconnected state.
//
// A Channel does not reconnect on its own. Callers that want a retry policy
// watch Changes and call Connect again.
package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/christopherjohns/quickroom/internal/protocol"
)

const (
	// sendBufferSize is the number of outbound frames queued per transport.
	sendBufferSize = 16

	// inboxSize bounds queued commands and transport events.
	inboxSize = 64

	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Option configures a Channel.
type Option func(*Channel)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Channel) {
		c.dialer = d
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = l
	}
}

// WithClock sets the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		c.now = now
	}
}

// WithDialTimeout bounds the transport handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Channel) {
		c.dialTimeout = d
	}
}

// WithWriteTimeout bounds a single outbound write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Channel) {
		c.writeTimeout = d
	}
}

// WithStateHook registers fn to be called on every state transition. fn runs
// on the channel goroutine and must not call back into the Channel.
func WithStateHook(fn func(State)) Option {
	return func(c *Channel) {
		c.stateHook = fn
	}
}

// attempt is one transport lifetime, from dial to close.
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc

	// Set once the transport is open.
	tr  Transport
	out chan []byte
}

// Channel is the session channel for one room membership.
type Channel struct {
	endpoint     string
	dialer       Dialer
	logger       *slog.Logger
	now          func() time.Time
	dialTimeout  time.Duration
	writeTimeout time.Duration
	stateHook    func(State)

	inbox     chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	snapshot atomic.Pointer[Snapshot]
	changes  chan struct{}

	// Owned by the run goroutine.
	state       State
	identity    Identity
	current     *attempt
	entries     []Entry
	roster      []Participant
	typing      typingSet
	localTyping bool
	nextID      uint64
	shutdown    bool
}

// New creates a Channel that dials rooms under endpoint, e.g.
// "ws://localhost:8000". The Channel starts Disconnected.
func New(endpoint string, opts ...Option) *Channel {
	c := &Channel{
		endpoint:     endpoint,
		dialer:       WebSocketDialer{},
		logger:       slog.Default(),
		now:          time.Now,
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		inbox:        make(chan func(), inboxSize),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
		changes:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.publish()
	go c.run()
	return c
}

// Connect opens a transport to the room and joins it with nickname once the
// transport is open. It returns as soon as the attempt has started. It does
// nothing if the identity is incomplete or a transport is already open or
// opening.
func (c *Channel) Connect(roomCode, nickname string) {
	c.do(func() { c.connect(roomCode, nickname) })
}

// Send transmits a chat message. Surrounding whitespace is trimmed and empty
// messages are dropped. It does nothing unless Connected. The message is not
// added to the local history; it arrives back through the event stream.
func (c *Channel) Send(body string) {
	c.do(func() { c.send(body) })
}

// SetTyping transmits a typing indicator when the local typing state changes.
func (c *Channel) SetTyping(isTyping bool) {
	c.do(func() { c.setTyping(isTyping) })
}

// Disconnect closes the transport and clears entries, roster and typing set.
// It is safe to call in any state, including while a Connect is in flight.
func (c *Channel) Disconnect() {
	c.do(c.disconnect)
}

// Snapshot returns the current view state.
func (c *Channel) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

// Changes returns a channel that receives a value after the view state
// changes. Notifications coalesce; read Snapshot for the latest state.
func (c *Channel) Changes() <-chan struct{} {
	return c.changes
}

// Close disconnects and stops the channel goroutine. Later calls to the
// Channel have no effect.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	<-c.stopped
}

func (c *Channel) run() {
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.quit:
			c.shutdown = true
			c.disconnect()
			close(c.stopped)
			// Late transport events may still hold an open transport.
			for {
				select {
				case fn := <-c.inbox:
					fn()
				default:
					return
				}
			}
		}
	}
}

// do runs fn on the channel goroutine and waits for it to finish.
func (c *Channel) do(fn func()) {
	done := make(chan struct{})
	if !c.post(func() {
		fn()
		close(done)
	}) {
		return
	}
	select {
	case <-done:
	case <-c.stopped:
	}
}

// post queues fn without waiting. It reports false once the channel is closed.
func (c *Channel) post(fn func()) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}
	select {
	case c.inbox <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Channel) connect(roomCode, nickname string) {
	if c.state != Disconnected || c.shutdown {
		return
	}
	id, err := NewIdentity(roomCode, nickname)
	if err != nil {
		c.logger.Debug("session: connect refused", slog.Any("error", err))
		return
	}
	c.identity = id
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{ctx: ctx, cancel: cancel}
	c.current = a
	c.setState(Connecting)
	c.publish()

	u := RoomURL(c.endpoint, id.RoomCode)
	c.logger.Info("session: connecting", slog.String("room", id.RoomCode), slog.String("url", u))
	go func() {
		dialCtx, dialCancel := context.WithTimeout(ctx, c.dialTimeout)
		tr, err := c.dialer.Dial(dialCtx, u)
		dialCancel()
		if !c.post(func() { c.opened(a, tr, err) }) && tr != nil {
			tr.Close()
		}
	}()
}

func (c *Channel) opened(a *attempt, tr Transport, err error) {
	if a != c.current {
		// Disconnected while dialing.
		if tr != nil {
			tr.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn("session: connect failed", slog.String("room", c.identity.RoomCode), slog.Any("error", err))
		a.cancel()
		c.current = nil
		c.setState(Disconnected)
		c.publish()
		return
	}

	a.tr = tr
	a.out = make(chan []byte, sendBufferSize)
	c.localTyping = false
	c.setState(Connected)
	c.publish()
	c.logger.Info("session: connected", slog.String("room", c.identity.RoomCode))

	go c.writePump(a)
	go c.readPump(a)
	c.transmit(protocol.Join(c.identity.Nickname, c.identity.RoomCode))
}

// readPump forwards inbound frames to the channel goroutine in arrival order.
func (c *Channel) readPump(a *attempt) {
	for {
		data, err := a.tr.Read(a.ctx)
		if err != nil {
			c.post(func() { c.closed(a, err) })
			return
		}
		if !c.post(func() { c.receive(a, data) }) {
			return
		}
	}
}

// writePump drains the outbound queue. It owns closing the transport, which
// happens once the queue is closed or a write fails.
func (c *Channel) writePump(a *attempt) {
	defer func() {
		a.tr.Close()
		a.cancel()
	}()
	for data := range a.out {
		ctx, cancel := context.WithTimeout(a.ctx, c.writeTimeout)
		err := a.tr.Write(ctx, data)
		cancel()
		if err != nil {
			c.logger.Warn("session: write failed", slog.Any("error", err))
			return
		}
	}
}

func (c *Channel) closed(a *attempt, err error) {
	if a != c.current {
		return
	}
	c.logger.Info("session: transport closed", slog.String("room", c.identity.RoomCode), slog.Any("error", err))
	c.release()
	// Typing state is only meaningful while the transport is open.
	c.typing.reset()
	c.setState(Disconnected)
	c.publish()
}

// release drops the current attempt and makes sure its transport is closed.
func (c *Channel) release() {
	a := c.current
	if a == nil {
		return
	}
	c.current = nil
	if a.out != nil {
		close(a.out)
	} else {
		a.cancel()
	}
}

func (c *Channel) disconnect() {
	c.release()
	c.localTyping = false
	c.entries = nil
	c.roster = nil
	c.typing.reset()
	c.setState(Disconnected)
	c.publish()
}

func (c *Channel) send(body string) {
	if c.state != Connected {
		return
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	c.transmit(protocol.ChatMessage(body))
}

func (c *Channel) setTyping(isTyping bool) {
	if c.state != Connected || c.localTyping == isTyping {
		return
	}
	c.localTyping = isTyping
	c.transmit(protocol.Typing(isTyping))
}

// transmit queues an intent on the open transport, dropping it when the
// queue is full.
func (c *Channel) transmit(in protocol.Intent) {
	a := c.current
	if a == nil || a.out == nil {
		return
	}
	data, err := protocol.EncodeIntent(in)
	if err != nil {
		c.logger.Error("session: encode intent", slog.Any("error", err))
		return
	}
	select {
	case a.out <- data:
	default:
		c.logger.Warn("session: send buffer full, dropping intent", slog.String("type", string(in.Type)))
	}
}

func (c *Channel) receive(a *attempt, data []byte) {
	if a != c.current {
		return
	}
	ev, err := protocol.DecodeEvent(data)
	if err != nil {
		c.logger.Debug("session: dropping frame", slog.Any("error", err))
		return
	}

	switch ev.Type {
	case protocol.TypeChatMessage:
		c.append(EntryChat, ev.Nickname, ev.Message)
	case protocol.TypeSystemMessage:
		c.append(EntrySystem, "", ev.Message)
	case protocol.TypeUserList:
		roster := make([]Participant, 0, len(ev.Users))
		for _, u := range ev.Users {
			roster = append(roster, Participant{ID: u.ID, Nickname: u.Nickname})
		}
		c.roster = roster
	case protocol.TypeTypingIndicator:
		if ev.Nickname == "" {
			return
		}
		if ev.IsTyping {
			c.typing.add(ev.Nickname)
		} else if !c.typing.remove(ev.Nickname) {
			return
		}
	default:
		return
	}
	c.publish()
}

func (c *Channel) append(kind EntryKind, nickname, body string) {
	c.nextID++
	c.entries = append(c.entries, Entry{
		ID:        c.nextID,
		Kind:      kind,
		Nickname:  nickname,
		Body:      body,
		Timestamp: c.now(),
	})
}

func (c *Channel) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.stateHook != nil {
		c.stateHook(s)
	}
}

// publish stores a fresh snapshot and signals Changes.
func (c *Channel) publish() {
	c.snapshot.Store(&Snapshot{
		State:    c.state,
		Identity: c.identity,
		Entries:  slices.Clone(c.entries),
		Roster:   slices.Clone(c.roster),
		Typing:   c.typing.list(),
	})
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
