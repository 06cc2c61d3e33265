// Package ws is the room relay: it accepts WebSocket connections on
// /ws/chat/{room_code}/ and fans chat, typing and presence events out to
// every connection in the same room.
package ws

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/christopherjohns/quickroom/internal/protocol"
	"nhooyr.io/websocket"
)

// Client is one relay connection.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	id       string
	roomCode string
	logger   *slog.Logger

	// Written by the connection's read loop under Hub.mu.
	nickname string
	joinSeq  uint64
}

// joined reports whether the client has sent a join intent.
func (c *Client) joined() bool {
	return c.joinSeq != 0
}

// Hub groups clients by room code.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	seq     uint64
	conns   *ConnManager
	logger  *slog.Logger
	onCount func(roomCode string, n int)
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithConnManager replaces the default connection manager.
func WithConnManager(cm *ConnManager) HubOption {
	return func(h *Hub) {
		h.conns = cm
	}
}

// WithHubLogger sets the logger. The default is slog.Default().
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithCountHook registers fn to be called with a room's connection count
// after a client is added or removed.
func WithCountHook(fn func(roomCode string, n int)) HubOption {
	return func(h *Hub) {
		h.onCount = fn
	}
}

// NewHub creates a Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.conns == nil {
		h.conns = NewConnManager(WithConnLogger(h.logger))
	}
	return h
}

// ConnMgr returns the connection manager for this hub.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// addClient registers c in its room and starts its write pump. The returned
// context is cancelled when c is removed or was refused.
func (h *Hub) addClient(c *Client) context.Context {
	ctx := h.conns.Add(c)
	if ctx.Err() != nil {
		return ctx
	}

	h.mu.Lock()
	if h.rooms[c.roomCode] == nil {
		h.rooms[c.roomCode] = make(map[*Client]struct{})
	}
	h.rooms[c.roomCode][c] = struct{}{}
	n := len(h.rooms[c.roomCode])
	h.mu.Unlock()

	if h.onCount != nil {
		h.onCount(c.roomCode, n)
	}
	return ctx
}

// removeClient unregisters c and stops its write pump.
func (h *Hub) removeClient(c *Client) {
	h.conns.Remove(c)

	h.mu.Lock()
	clients, ok := h.rooms[c.roomCode]
	if ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.roomCode)
		}
	}
	n := len(clients)
	h.mu.Unlock()

	if ok && h.onCount != nil {
		h.onCount(c.roomCode, n)
	}
}

// join records the nickname c chose. It reports false if c already joined.
func (h *Hub) join(c *Client, nickname string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.joined() {
		return false
	}
	h.seq++
	c.nickname = nickname
	c.joinSeq = h.seq
	return true
}

// Roster returns the joined participants of a room in join order.
func (h *Hub) Roster(roomCode string) []protocol.User {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomCode]))
	for c := range h.rooms[roomCode] {
		if c.joined() {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	slices.SortFunc(members, func(a, b *Client) int {
		return int(a.joinSeq) - int(b.joinSeq)
	})
	users := make([]protocol.User, len(members))
	for i, c := range members {
		users[i] = protocol.User{ID: c.id, Nickname: c.nickname}
	}
	return users
}

// Broadcast sends ev to every connection in the room.
func (h *Hub) Broadcast(roomCode string, ev protocol.Event) {
	h.broadcast(roomCode, ev, nil)
}

// BroadcastUserList sends the room's current roster to every connection.
func (h *Hub) BroadcastUserList(roomCode string) {
	h.Broadcast(roomCode, protocol.Event{Type: protocol.TypeUserList, Users: h.Roster(roomCode)})
}

func (h *Hub) broadcast(roomCode string, ev protocol.Event, except *Client) {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		h.logger.Error("ws: encode event", slog.String("type", string(ev.Type)), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[roomCode]))
	for c := range h.rooms[roomCode] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.conns.Send(c, data)
	}
}

// clientCount returns the number of connections in a room.
func (h *Hub) clientCount(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}

// RoomCount returns the number of rooms with at least one connection.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
