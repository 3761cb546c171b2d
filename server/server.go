// Package server implements the boardroom HTTP server: REST API, auth, and
// the SSE board-room stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/boardroom/agent"
	"github.com/GoCodeAlone/boardroom/comms"
	"github.com/GoCodeAlone/boardroom/config"
	"github.com/GoCodeAlone/boardroom/server/api"
	"github.com/GoCodeAlone/boardroom/server/ws"
	"github.com/GoCodeAlone/boardroom/task"
)

// Server is the boardroom HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	agents    *agent.Registry
	tasks     task.Store
	board     comms.Board
	heartbeat api.HeartbeatSource
	workers   api.WorkerSource
	handlers  *api.Handlers

	hub         *ws.Hub
	unsubscribe func()
	routesOnce  sync.Once

	srvMu   sync.Mutex
	stopped bool

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		hub:       ws.NewHub(logger),
		startTime: time.Now(),
		version:   ver,
	}
}

// SetRegistry attaches the agent registry to the server.
func (s *Server) SetRegistry(reg *agent.Registry) {
	s.agents = reg
}

// SetTaskStore attaches a task store to the server.
func (s *Server) SetTaskStore(store task.Store) {
	s.tasks = store
}

// SetBoard attaches the board room. Posts are streamed to SSE clients.
func (s *Server) SetBoard(board comms.Board) {
	s.board = board
}

// SetHeartbeat attaches the orchestration tick for introspection.
func (s *Server) SetHeartbeat(hb api.HeartbeatSource) {
	s.heartbeat = hb
}

// SetWorkers attaches the in-process pollers for introspection.
func (s *Server) SetWorkers(w api.WorkerSource) {
	s.workers = w
}

// Handler registers routes on first use and returns the root handler.
// Call after the Set* methods.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	return s.mux
}

// Start registers routes and begins listening. It returns nil after Stop.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.srvMu.Lock()
	if s.stopped {
		s.srvMu.Unlock()
		return ln.Close()
	}
	s.httpSrv = srv
	s.srvMu.Unlock()

	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server. A server stopped before it
// starts never serves.
func (s *Server) Stop(ctx context.Context) error {
	s.srvMu.Lock()
	s.stopped = true
	srv := s.httpSrv
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.srvMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Agents:     s.agents,
		Tasks:      s.tasks,
		Board:      s.board,
		Heartbeat:  s.heartbeat,
		Workers:    s.workers,
		Logger:     s.logger,
		Version:    s.version,
		StartAt:    s.startTime,
		StaleAfter: s.cfg.Heartbeat.StaleAfter,
		Subject:    Subject,
	}
	s.handlers = h

	if s.board != nil {
		unsubscribe := s.hub.Relay(s.board)
		s.srvMu.Lock()
		s.unsubscribe = unsubscribe
		s.srvMu.Unlock()
	}

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())

	// SSE: auth via query param because EventSource can't set headers
	s.mux.HandleFunc("GET /events", s.handleSSE)

	// Protected API, wrapped in auth middleware
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSSE streams board-room posts to an authenticated client.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, err := verifyToken(s.jwtSecret(), r.URL.Query().Get("token")); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.hub.ServeSSE(w, r)
}
