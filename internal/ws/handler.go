package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/christopherjohns/quickroom/internal/protocol"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	// maxMessageLength is the longest chat message relayed, in runes.
	maxMessageLength = 2000

	// maxNicknameLength is the longest nickname accepted in a join.
	maxNicknameLength = 20

	// readLimit caps a single inbound frame.
	readLimit = 16 << 10

	roomPathPrefix = "/ws/chat/"
)

// ErrUnknownRoom is returned by a RoomValidator for codes the directory has
// never issued.
var ErrUnknownRoom = errors.New("unknown room")

// RoomValidator checks that a room code exists before the upgrade.
type RoomValidator func(ctx context.Context, roomCode string) error

// Handler upgrades room requests to WebSocket and relays intents.
type Handler struct {
	hub          *Hub
	validateRoom RoomValidator
	logger       *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRoomValidator rejects upgrades for rooms validate refuses.
func WithRoomValidator(validate RoomValidator) HandlerOption {
	return func(h *Handler) {
		h.validateRoom = validate
	}
}

// WithHandlerLogger sets the logger. The default is slog.Default().
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler creates a relay Handler on hub.
func NewHandler(hub *Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:    hub,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// roomCode extracts the room code from the route, falling back to the raw
// path when the handler is mounted without a pattern.
func roomCode(r *http.Request) string {
	code := r.PathValue("room_code")
	if code == "" {
		code = strings.Trim(strings.TrimPrefix(r.URL.Path, roomPathPrefix), "/")
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// ServeHTTP validates the room, upgrades the connection and runs the read
// loop until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := roomCode(r)
	if code == "" || strings.Contains(code, "/") {
		http.Error(w, "room code is required", http.StatusBadRequest)
		return
	}
	if h.validateRoom != nil {
		if err := h.validateRoom(r.Context(), code); err != nil {
			if errors.Is(err, ErrUnknownRoom) {
				http.Error(w, "room not found", http.StatusNotFound)
				return
			}
			h.logger.Error("ws: validate room", slog.String("room", code), slog.Any("error", err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("ws: accept failed", slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(readLimit)

	id := uuid.NewString()
	client := &Client{
		conn:     conn,
		id:       id,
		roomCode: code,
		logger:   h.logger.With(slog.String("client", id), slog.String("room", code)),
	}

	connCtx := h.hub.addClient(client)
	if connCtx.Err() != nil {
		return
	}
	client.logger.Info("ws: connected")

	h.readLoop(r.Context(), connCtx, client)

	h.hub.removeClient(client)
	if client.joined() {
		h.hub.Broadcast(code, protocol.Event{
			Type:     protocol.TypeTypingIndicator,
			Nickname: client.nickname,
			IsTyping: false,
		})
		h.hub.Broadcast(code, protocol.Event{
			Type:    protocol.TypeSystemMessage,
			Message: client.nickname + " left the chat.",
		})
	}
	h.hub.BroadcastUserList(code)
	client.logger.Info("ws: disconnected")
}

// readLoop handles intents until the connection closes or connCtx is
// cancelled by the connection manager.
func (h *Handler) readLoop(ctx, connCtx context.Context, c *Client) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-connCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		h.hub.ConnMgr().TouchActivity(c)

		in, err := protocol.DecodeIntent(data)
		if err != nil {
			c.logger.Debug("ws: dropping frame", slog.Any("error", err))
			continue
		}
		h.handleIntent(c, in)
	}
}

func (h *Handler) handleIntent(c *Client, in protocol.Intent) {
	switch in.Type {
	case protocol.TypeJoin:
		nickname := strings.TrimSpace(in.Nickname)
		if nickname == "" || utf8.RuneCountInString(nickname) > maxNicknameLength {
			c.logger.Debug("ws: invalid nickname", slog.String("nickname", nickname))
			return
		}
		if !h.hub.join(c, nickname) {
			return
		}
		c.logger.Info("ws: joined", slog.String("nickname", nickname))
		h.hub.Broadcast(c.roomCode, protocol.Event{
			Type:    protocol.TypeSystemMessage,
			Message: nickname + " joined the chat.",
		})
		h.hub.BroadcastUserList(c.roomCode)

	case protocol.TypeChatMessage:
		if !c.joined() {
			return
		}
		body := strings.TrimSpace(in.Message)
		if body == "" || utf8.RuneCountInString(body) > maxMessageLength {
			return
		}
		h.hub.Broadcast(c.roomCode, protocol.Event{
			Type:     protocol.TypeChatMessage,
			Nickname: c.nickname,
			Message:  body,
		})

	case protocol.TypeTypingIndicator:
		if !c.joined() {
			return
		}
		h.hub.broadcast(c.roomCode, protocol.Event{
			Type:     protocol.TypeTypingIndicator,
			Nickname: c.nickname,
			IsTyping: in.IsTyping,
		}, c)
	}
}
