package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

// Transport is a bidirectional message stream to one room.
type Transport interface {
	// Read blocks until the next frame arrives. Any error ends the stream.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// RoomURL returns the realtime endpoint for a room, e.g.
// ws://localhost:8000/ws/chat/ABC123/.
func RoomURL(endpoint, roomCode string) string {
	return strings.TrimRight(endpoint, "/") + "/ws/chat/" + url.PathEscape(roomCode) + "/"
}

// WebSocketDialer dials rooms over WebSocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	// ReadLimit caps the size of a single inbound frame. Zero keeps the
	// library default.
	ReadLimit int64
}

// Dial performs the WebSocket handshake. ctx bounds only the handshake.
func (d WebSocketDialer) Dial(ctx context.Context, u string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "leaving room")
}
