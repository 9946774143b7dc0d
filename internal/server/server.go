// Package server exposes the live ingest WebSocket and a small JSON API over
// persisted results.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ttiwatch/internal/eventbus"
	"ttiwatch/internal/session"
	"ttiwatch/internal/storage"
	logx "ttiwatch/pkg/logx"
)

// Config for the HTTP/WebSocket server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	cfg      Config
	log      logx.Logger
	sessions *session.Service
	store    storage.Store
	bus      eventbus.Bus

	mux        *http.ServeMux
	httpServer *http.Server
}

func New(cfg Config, log logx.Logger, sessions *session.Service, store storage.Store, bus eventbus.Bus) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8787"
	}

	mux := http.NewServeMux()
	s := &Server{
		cfg:      cfg,
		log:      log,
		sessions: sessions,
		store:    store,
		bus:      bus,
		mux:      mux,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.registerRoutes(mux)
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/ingest", s.handleIngest)
}

// Handler exposes the route table (used by tests).
func (s *Server) Handler() http.Handler { return s.mux }

// Run blocks and serves HTTP traffic until the listener fails or Shutdown is
// called.
func (s *Server) Run() error {
	s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []storage.ResultEntry{})
		return
	}
	limit := parseLimit(r, 50)
	entries, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		s.log.Warn("results query failed", logx.Any("err", err))
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []storage.ResultEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseLimit(r *http.Request, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > 1000 {
		return 1000
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
