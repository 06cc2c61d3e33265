// Package server wires the room directory API and the room relay into one
// HTTP server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/christopherjohns/quickroom/internal/ratelimit"
	"github.com/christopherjohns/quickroom/internal/room"
	"github.com/christopherjohns/quickroom/internal/ws"
)

const (
	defaultCreateLimit  = 10
	defaultCreateWindow = time.Minute

	// maxNicknameLength matches the limit enforced by the relay.
	maxNicknameLength = 20

	maxRequestBody = 4 << 10
)

// Server is the quickroom HTTP server.
type Server struct {
	addr    string
	mux     *http.ServeMux
	rooms   room.Registry
	hub     *ws.Hub
	limiter *ratelimit.IPLimiter
	window  time.Duration
	logger  *slog.Logger
	http    *http.Server

	stopSweep context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry replaces the in-memory room registry.
func WithRegistry(r room.Registry) Option {
	return func(s *Server) {
		s.rooms = r
	}
}

// WithHub replaces the relay hub.
func WithHub(h *ws.Hub) Option {
	return func(s *Server) {
		s.hub = h
	}
}

// WithCreateLimit allows max room creations per client IP per window.
func WithCreateLimit(max int, window time.Duration) Option {
	return func(s *Server) {
		s.limiter = ratelimit.NewIPLimiter(max, window)
		s.window = window
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server listening on addr.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		mux:    http.NewServeMux(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rooms == nil {
		s.rooms = room.NewManager()
	}
	if s.hub == nil {
		s.hub = ws.NewHub(ws.WithHubLogger(s.logger))
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewIPLimiter(defaultCreateLimit, defaultCreateWindow)
		s.window = defaultCreateWindow
	}
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopSweep = cancel
	go s.sweepLoop(ctx, s.window)
	return s
}

// sweepLoop drops rate limit entries for idle IPs once per interval.
func (s *Server) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Sweep()
		}
	}
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("server: listening", slog.String("addr", s.addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and closes every relay connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopSweep()
	s.hub.ConnMgr().Shutdown()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/create-room/{$}", s.handleCreateRoom)
	s.mux.HandleFunc("POST /api/join-room/{$}", s.handleJoinRoom)
	s.mux.Handle("GET /ws/chat/{room_code}/{$}", ws.NewHandler(s.hub,
		ws.WithRoomValidator(s.validateRoom),
		ws.WithHandlerLogger(s.logger),
	))
}

func (s *Server) validateRoom(ctx context.Context, code string) error {
	_, err := s.rooms.Get(ctx, code)
	if errors.Is(err, room.ErrNotFound) {
		return ws.ErrUnknownRoom
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rooms":       s.hub.RoomCount(),
		"connections": s.hub.ConnMgr().Stats(),
	})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ClientIP(r)
	if !s.limiter.Allow(ip) {
		retry := s.limiter.RetryAfter(ip)
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)))
		writeError(w, http.StatusTooManyRequests, "Too many rooms created, try again later")
		return
	}

	rm, err := s.rooms.Create(r.Context())
	if err != nil {
		s.logger.Error("server: create room", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Could not create room")
		return
	}
	s.logger.Info("server: room created", slog.String("room", rm.Code), slog.String("ip", ip))
	writeJSON(w, http.StatusOK, map[string]string{"room_code": rm.Code})
}

type joinRequest struct {
	RoomCode string `json:"room_code"`
	Nickname string `json:"nickname"`
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	nickname := strings.TrimSpace(req.Nickname)
	if utf8.RuneCountInString(nickname) > maxNicknameLength {
		writeError(w, http.StatusBadRequest, "Nickname too long")
		return
	}

	err := s.rooms.Join(r.Context(), req.RoomCode, nickname)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, room.ErrMissingData):
		writeError(w, http.StatusBadRequest, "Missing data")
	case errors.Is(err, room.ErrNotFound):
		writeError(w, http.StatusNotFound, "Room not found")
	case errors.Is(err, room.ErrFull):
		writeError(w, http.StatusForbidden, "Room full")
	default:
		s.logger.Error("server: join room", slog.String("room", req.RoomCode), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Could not join room")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// withCORS allows any origin and answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
