// Package directory is a client for the room directory HTTP API, which
// creates rooms and registers nicknames before a session joins.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Errors returned by JoinRoom.
var (
	ErrRoomNotFound   = errors.New("directory: room not found")
	ErrRoomFull       = errors.New("directory: room full")
	ErrInvalidRequest = errors.New("directory: invalid request")
	ErrRejected       = errors.New("directory: join rejected")
)

// maxBodySize caps how much of a response is read.
const maxBodySize = 64 << 10

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("directory: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("directory: unexpected status %d: %s", e.Code, e.Message)
}

// Client talks to the room directory at a base URL such as
// "http://localhost:8000".
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a Client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRoom asks the directory for a new room and returns its code.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	status, body, err := c.post(ctx, "/api/create-room/", struct{}{})
	if err != nil {
		return "", err
	}
	if status/100 != 2 {
		return "", &StatusError{Code: status, Message: errorMessage(body)}
	}
	code := gjson.GetBytes(body, "room_code").String()
	if code == "" {
		return "", fmt.Errorf("directory: create room: response has no room_code")
	}
	c.logger.Info("directory: room created", slog.String("room", code))
	return code, nil
}

// JoinRoom registers nickname in the room. The room code is trimmed and
// uppercased before it is sent.
func (c *Client) JoinRoom(ctx context.Context, roomCode, nickname string) error {
	req := struct {
		RoomCode string `json:"room_code"`
		Nickname string `json:"nickname"`
	}{
		RoomCode: strings.ToUpper(strings.TrimSpace(roomCode)),
		Nickname: strings.TrimSpace(nickname),
	}
	status, body, err := c.post(ctx, "/api/join-room/", req)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusNotFound:
		return ErrRoomNotFound
	case http.StatusForbidden:
		return ErrRoomFull
	case http.StatusBadRequest:
		return ErrInvalidRequest
	}
	if status/100 != 2 {
		return &StatusError{Code: status, Message: errorMessage(body)}
	}
	if !gjson.GetBytes(body, "success").Bool() {
		return ErrRejected
	}
	c.logger.Info("directory: joined", slog.String("room", req.RoomCode), slog.String("nickname", req.Nickname))
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("directory: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("directory: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("directory: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("directory: read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func errorMessage(body []byte) string {
	return gjson.GetBytes(body, "error").String()
}
