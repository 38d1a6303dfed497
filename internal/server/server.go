// Package server exposes a running session over HTTP: status and latest
// frame as JSON, a websocket frame stream for other processes, and a
// shutdown endpoint for the daemon's stop command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lovetrack/lovetrack/internal/session"
)

// Server timeouts.
const (
	ReadTimeout  = 10 * time.Second
	WriteTimeout = 10 * time.Second
	IdleTimeout  = 120 * time.Second
)

// Config holds server parameters.
type Config struct {
	Addr string
	// CORS enables permissive cross-origin headers.
	CORS bool
	// Token, when non-empty, is required as a Bearer token on every
	// /api and /ws request.
	Token string
}

// SessionProvider returns the currently-running session, or nil while the
// daemon is between sessions (device wait, wake restart).
type SessionProvider func() *session.Session

// Server serves the daemon's current session.
type Server struct {
	cfg     Config
	current SessionProvider
	log     *logrus.Entry

	httpServer *http.Server
	startedAt  time.Time

	// onShutdown is invoked when /api/shutdown is accepted.
	onShutdown func()
}

// New creates a server. current is consulted on every request; onShutdown is
// called when a client requests daemon shutdown and may be nil to disable
// the endpoint.
func New(cfg Config, current SessionProvider, onShutdown func()) *Server {
	return &Server{
		cfg:        cfg,
		current:    current,
		log:        logrus.WithField("component", "server"),
		onShutdown: onShutdown,
	}
}

// session returns the current session or nil.
func (s *Server) session() *session.Session {
	if s.current == nil {
		return nil
	}
	return s.current()
}

// Handler builds the route table, including CORS when configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleBanner)
	mux.HandleFunc("/api/status", s.auth(s.handleStatus))
	mux.HandleFunc("/api/frame", s.auth(s.handleFrame))
	mux.HandleFunc("/api/history", s.auth(s.handleHistory))
	mux.HandleFunc("/api/shutdown", s.auth(s.handleShutdown))
	mux.HandleFunc("/ws", s.auth(s.handleWS))

	if s.cfg.CORS {
		return corsMiddleware(mux)
	}
	return mux
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Addr
	// A bare port is accepted for convenience.
	if !strings.Contains(addr, ":") {
		if _, err := strconv.Atoi(addr); err != nil {
			return fmt.Errorf("invalid listen address %q", addr)
		}
		addr = ":" + addr
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}
	s.startedAt = time.Now()

	s.log.WithField("addr", addr).Info("listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware handles CORS preflight requests and adds CORS headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// auth enforces the Bearer token when one is configured. Websocket clients
// may pass the token as a query parameter since browsers cannot set headers
// on websocket upgrades.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got == "" {
				got = r.URL.Query().Get("token")
			}
			if got != s.cfg.Token {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "lovetrack frame server")
	fmt.Fprintln(w, "endpoints: /api/status /api/frame /api/history /ws")
}

type statusResponse struct {
	Source  string        `json:"source"`
	Uptime  string        `json:"uptime"`
	Stats   session.Stats `json:"stats"`
	Error   string        `json:"error,omitempty"`
	Clients int           `json:"wsClients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	resp := statusResponse{
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		Clients: s.wsClients(),
	}
	if sess := s.session(); sess != nil {
		resp.Source = sess.SourceName()
		resp.Stats = sess.Stats()
		if err := sess.Err(); err != nil {
			resp.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	sess := s.session()
	if sess == nil {
		writeError(w, http.StatusServiceUnavailable, "no session running")
		return
	}
	frame, ok := sess.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no frames yet")
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	n := 32
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}
	sess := s.session()
	if sess == nil {
		writeError(w, http.StatusServiceUnavailable, "no session running")
		return
	}
	writeJSON(w, http.StatusOK, sess.History(n))
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if s.onShutdown == nil {
		writeError(w, http.StatusForbidden, "shutdown not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	s.log.Info("shutdown requested over HTTP")
	go s.onShutdown()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
