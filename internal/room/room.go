// Package room is the room directory: it hands out short room codes and
// admits a bounded number of nicknames into each room.
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

// Capacity is the number of joins a room accepts.
const Capacity = 5

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6

	// maxCodeAttempts bounds collision retries when creating a room.
	maxCodeAttempts = 16
)

var (
	ErrNotFound      = errors.New("room not found")
	ErrFull          = errors.New("room full")
	ErrMissingData   = errors.New("missing data")
	ErrCodeExhausted = errors.New("could not allocate a unique room code")
)

// Room is a chat room known to the directory.
type Room struct {
	Code         string    `json:"room_code"`
	CreatedAt    time.Time `json:"created_at"`
	Participants []string  `json:"participants"`
}

// IsFull returns true if the room has reached Capacity.
func (r *Room) IsFull() bool {
	return len(r.Participants) >= Capacity
}

// Registry stores rooms.
type Registry interface {
	// Create allocates a room with a fresh code.
	Create(ctx context.Context) (*Room, error)
	// Get returns the room with code, or ErrNotFound.
	Get(ctx context.Context, code string) (*Room, error)
	// Join records nickname as a participant. It returns ErrNotFound,
	// ErrFull or ErrMissingData.
	Join(ctx context.Context, code, nickname string) error
}

// NormalizeCode trims and uppercases a user-supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CodeGenerator returns a new random room code.
type CodeGenerator func() string

// NewCodeGenerator returns a generator of 6-character codes over A-Z0-9.
func NewCodeGenerator() (CodeGenerator, error) {
	gen, err := nanoid.CustomASCII(codeAlphabet, codeLength)
	if err != nil {
		return nil, fmt.Errorf("room: code generator: %w", err)
	}
	return gen, nil
}

func mustCodeGenerator() CodeGenerator {
	gen, err := NewCodeGenerator()
	if err != nil {
		panic(err)
	}
	return gen
}

// Manager is an in-memory Registry.
type Manager struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	newCode CodeGenerator
	now     func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCodeGenerator replaces the room code generator.
func WithCodeGenerator(gen CodeGenerator) ManagerOption {
	return func(m *Manager) {
		m.newCode = gen
	}
}

// NewManager creates a new room Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.newCode == nil {
		m.newCode = mustCodeGenerator()
	}
	return m
}

// Create adds a new room and returns a copy of it.
func (m *Manager) Create(_ context.Context) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < maxCodeAttempts; i++ {
		code := m.newCode()
		if _, taken := m.rooms[code]; taken {
			continue
		}
		r := &Room{Code: code, CreatedAt: m.now()}
		m.rooms[code] = r
		return r.clone(), nil
	}
	return nil, ErrCodeExhausted
}

// Get returns a copy of the room with the given code.
func (m *Manager) Get(_ context.Context, code string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[NormalizeCode(code)]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

// Join records nickname in the room.
func (m *Manager) Join(_ context.Context, code, nickname string) error {
	code = NormalizeCode(code)
	nickname = strings.TrimSpace(nickname)
	if code == "" || nickname == "" {
		return ErrMissingData
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok {
		return ErrNotFound
	}
	if r.IsFull() {
		return ErrFull
	}
	r.Participants = append(r.Participants, nickname)
	return nil
}

// size returns the number of rooms.
func (m *Manager) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (r *Room) clone() *Room {
	c := *r
	c.Participants = append([]string(nil), r.Participants...)
	return &c
}
