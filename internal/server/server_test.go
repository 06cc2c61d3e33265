package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/christopherjohns/quickroom/internal/directory"
	"github.com/christopherjohns/quickroom/internal/room"
	"github.com/christopherjohns/quickroom/internal/session"
	"github.com/redis/go-redis/v9"
)

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func createRoom(t *testing.T, srv *Server) string {
	t.Helper()
	w := do(srv, http.MethodPost, "/api/create-room/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("create room: expected 200, got %d", w.Code)
	}
	code, _ := decode(t, w)["room_code"].(string)
	if len(code) != 6 {
		t.Fatalf("expected 6-char room code, got %q", code)
	}
	return code
}

func TestHealthEndpoint(t *testing.T) {
	srv := New(":0")

	w := do(srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", body["status"])
	}
	if body["rooms"] != float64(0) {
		t.Errorf("expected 0 active rooms, got %v", body["rooms"])
	}
}

func TestCreateRoom(t *testing.T) {
	srv := New(":0")
	code := createRoom(t, srv)

	if _, err := srv.rooms.Get(context.Background(), code); err != nil {
		t.Fatalf("expected room %s to be registered: %v", code, err)
	}
}

func TestCreateRoomRateLimited(t *testing.T) {
	srv := New(":0", WithCreateLimit(2, time.Hour))
	createRoom(t, srv)
	createRoom(t, srv)

	w := do(srv, http.MethodPost, "/api/create-room/", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if body := decode(t, w); body["error"] == "" {
		t.Error("expected error message")
	}
}

func TestCreateLimitForgetsIdleIPs(t *testing.T) {
	srv := New(":0", WithCreateLimit(5, 10*time.Millisecond))
	defer srv.Shutdown(context.Background())

	for i := 0; i < 200; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/create-room/", nil)
		req.RemoteAddr = fmt.Sprintf("10.0.%d.%d:4000", i/256, i%256)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("create room from %s: expected 200, got %d", req.RemoteAddr, w.Code)
		}
	}

	waitUntil(t, func() bool { return srv.limiter.Len() == 0 })
}

func TestShutdownStopsSweeper(t *testing.T) {
	srv := New(":0", WithCreateLimit(1, 10*time.Millisecond))
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	createRoom(t, srv)
	time.Sleep(50 * time.Millisecond)
	if srv.limiter.Len() != 1 {
		t.Fatalf("expected entry to stay after shutdown, got %d tracked IPs", srv.limiter.Len())
	}
}

func TestJoinRoom(t *testing.T) {
	srv := New(":0")
	code := createRoom(t, srv)

	w := do(srv, http.MethodPost, "/api/join-room/", `{"room_code":"`+strings.ToLower(code)+`","nickname":"alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if body := decode(t, w); body["success"] != true {
		t.Errorf("expected success true, got %v", body)
	}
}

func TestJoinRoomErrors(t *testing.T) {
	srv := New(":0")
	code := createRoom(t, srv)
	for i := 0; i < room.Capacity; i++ {
		do(srv, http.MethodPost, "/api/join-room/", `{"room_code":"`+code+`","nickname":"user"}`)
	}

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"missing nickname", `{"room_code":"` + code + `"}`, http.StatusBadRequest, "Missing data"},
		{"missing code", `{"nickname":"alice"}`, http.StatusBadRequest, "Missing data"},
		{"invalid json", `{`, http.StatusBadRequest, "Invalid JSON"},
		{"long nickname", `{"room_code":"` + code + `","nickname":"` + strings.Repeat("n", 21) + `"}`, http.StatusBadRequest, "Nickname too long"},
		{"unknown room", `{"room_code":"ZZZZZZ","nickname":"alice"}`, http.StatusNotFound, "Room not found"},
		{"full room", `{"room_code":"` + code + `","nickname":"alice"}`, http.StatusForbidden, "Room full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(srv, http.MethodPost, "/api/join-room/", tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
			if body := decode(t, w); body["error"] != tt.msg {
				t.Errorf("expected error %q, got %v", tt.msg, body["error"])
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := New(":0")

	w := do(srv, http.MethodOptions, "/api/join-room/", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected permissive Access-Control-Allow-Origin")
	}

	w = do(srv, http.MethodGet, "/health", "")
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS headers on regular responses")
	}
}

func TestRelayRejectsUnknownRoom(t *testing.T) {
	srv := New(":0")

	w := do(srv, http.MethodGet, "/ws/chat/NOPE12/", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// TestEndToEnd drives two session channels through the directory client
// and the relay.
func TestEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	srv := New(":0", WithRegistry(room.NewRedisRegistry(rdb)))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx := context.Background()
	dir := directory.NewClient(ts.URL)
	code, err := dir.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := dir.JoinRoom(ctx, code, "alice"); err != nil {
		t.Fatalf("JoinRoom alice: %v", err)
	}
	if err := dir.JoinRoom(ctx, code, "bob"); err != nil {
		t.Fatalf("JoinRoom bob: %v", err)
	}
	if err := dir.JoinRoom(ctx, "ZZZZZZ", "bob"); !errors.Is(err, directory.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	endpoint := "ws" + strings.TrimPrefix(ts.URL, "http")
	alice := session.New(endpoint)
	defer alice.Close()
	bob := session.New(endpoint)
	defer bob.Close()

	alice.Connect(code, "alice")
	waitUntil(t, func() bool { return len(alice.Snapshot().Roster) == 1 })
	bob.Connect(code, "bob")
	waitUntil(t, func() bool { return len(alice.Snapshot().Roster) == 2 })

	bob.SetTyping(true)
	waitUntil(t, func() bool {
		typing := alice.Snapshot().Typing
		return len(typing) == 1 && typing[0] == "bob"
	})

	alice.Send("hi bob")
	waitUntil(t, func() bool {
		for _, e := range bob.Snapshot().Entries {
			if e.Kind == session.EntryChat && e.Nickname == "alice" && e.Body == "hi bob" {
				return true
			}
		}
		return false
	})

	bob.Disconnect()
	waitUntil(t, func() bool {
		snap := alice.Snapshot()
		last := snap.Entries[len(snap.Entries)-1]
		return len(snap.Roster) == 1 && last.Body == "bob left the chat."
	})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before deadline")
	}
}
