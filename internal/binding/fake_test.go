package binding

import (
	"sync"

	"github.com/christopherjohns/quickroom/internal/session"
)

// fakeSession records the commands a front end issues.
type fakeSession struct {
	mu       sync.Mutex
	state    session.State
	identity session.Identity
	connects int
	sent     []string
	typing   []bool
	leaves   int
	changes  chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{changes: make(chan struct{}, 1)}
}

func (f *fakeSession) Connect(roomCode, nickname string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.identity = session.Identity{RoomCode: roomCode, Nickname: nickname}
	f.state = session.Connecting
}

func (f *fakeSession) Send(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
}

func (f *fakeSession) SetTyping(isTyping bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, isTyping)
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	f.state = session.Disconnected
}

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Snapshot{State: f.state, Identity: f.identity}
}

func (f *fakeSession) Changes() <-chan struct{} {
	return f.changes
}

func (f *fakeSession) setState(s session.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeSession) typingCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.typing...)
}

func (f *fakeSession) sentBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSession) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}
