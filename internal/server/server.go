package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jpalmerr/stormguard/guard"
	"github.com/jpalmerr/stormguard/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	defaultTitle = "StormGuard"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"

	maxRequestBody = 64 << 10
)

// Config holds the dependencies of a [Server].
type Config struct {
	// Store provides source records. Required.
	Store store.Store

	// Port is the TCP port to listen on. Zero picks a free port.
	Port int

	// Assets contains assets/index.html. Nil disables the dashboard route.
	Assets fs.FS

	// Title replaces the dashboard's title placeholder.
	Title string

	// Router drives /api/navigate and the guard part of /api/session.
	// Nil disables those routes.
	Router *guard.Router

	// Tokens backs the session routes. Nil disables /api/session writes.
	Tokens guard.TokenStore

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server handles HTTP requests for the dashboard and its API.
//
// Routes:
//   - GET /: dashboard HTML
//   - GET /api/sources: all source records as JSON
//   - GET /api/sse: Server-Sent Events stream of record updates
//   - POST /api/navigate: run a navigation through the guard
//   - GET|POST|DELETE /api/session: inspect, set or clear the session token
//   - GET /metrics: Prometheus exposition
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new HTTP [Server]. It is not listening until
// [Server.Start] is called.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("server: port %d out of range", cfg.Port)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}, nil
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/sources", s.handleSources)
	mux.HandleFunc("/api/sse", s.handleSSE)
	mux.HandleFunc("/api/navigate", s.handleNavigate)
	mux.HandleFunc("/api/session", s.handleSession)
	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", s.cfg.Metrics)
	}
	if s.cfg.Assets != nil {
		mux.HandleFunc("/", s.handleDashboard)
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns once the listener is bound. The server
// runs until ctx is cancelled, then shuts down with a 5-second timeout.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts derive from ctx so SSE handlers exit on shutdown.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	content, err := fs.ReadFile(s.cfg.Assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	title := s.cfg.Title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg.Store.GetAll())
}

// handleSSE streams record updates via Server-Sent Events. Every write
// carries a deadline so a stalled client cannot pin the handler.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Debug("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.cfg.Store.Subscribe()
	defer s.cfg.Store.Unsubscribe(ch)

	for _, rec := range s.cfg.Store.GetAll() {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

type navigateRequest struct {
	Path string `json:"path"`
}

type navigateResponse struct {
	Action  string `json:"action"`
	Target  string `json:"target"`
	Reason  string `json:"reason"`
	Current string `json:"current"`
}

// handleNavigate runs one navigation through the guard and reports the
// decision together with where the navigator ended up.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Router == nil {
		http.Error(w, "Navigation not configured", http.StatusNotFound)
		return
	}

	var req navigateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(req.Path, "/") {
		http.Error(w, "path must start with /", http.StatusBadRequest)
		return
	}

	d := s.cfg.Router.Navigate(r.Context(), req.Path)
	s.writeJSON(w, http.StatusOK, navigateResponse{
		Action:  d.Action.String(),
		Target:  d.Target,
		Reason:  d.Reason,
		Current: s.cfg.Router.CurrentPath(),
	})
}

type sessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Authenticated bool          `json:"authenticated"`
	Current       string        `json:"current,omitempty"`
	Guard         *guard.Status `json:"guard,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		if s.cfg.Tokens == nil {
			http.Error(w, "Session not configured", http.StatusNotFound)
			return
		}
		var req sessionRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			http.Error(w, "token required", http.StatusBadRequest)
			return
		}
		s.cfg.Tokens.SetToken(req.Token)
		s.logger.Info("session token set")
	case http.MethodDelete:
		if s.cfg.Tokens == nil {
			http.Error(w, "Session not configured", http.StatusNotFound)
			return
		}
		s.cfg.Tokens.Clear()
		s.logger.Info("session token cleared")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := sessionResponse{}
	if s.cfg.Tokens != nil {
		resp.Authenticated = s.cfg.Tokens.Token() != ""
	}
	if s.cfg.Router != nil {
		st := s.cfg.Router.Guard().Status()
		resp.Guard = &st
		resp.Current = s.cfg.Router.CurrentPath()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
