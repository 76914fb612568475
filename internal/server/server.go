// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OscarGarciaF/AetherFlow/internal/config"
	"github.com/OscarGarciaF/AetherFlow/internal/logging"
	"github.com/OscarGarciaF/AetherFlow/internal/orchestrator"
	"github.com/OscarGarciaF/AetherFlow/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds POST bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// APIPrefix is the alias every route is also served under.
	APIPrefix = "/api"

	// Version is the server version.
	Version = "0.3.0"
)

// Client-facing error messages.
const (
	msgFetchFailed   = "Failed to fetch messages"
	msgClearFailed   = "Failed to clear messages"
	msgInvalidFormat = "Invalid message format"
	msgNotFound      = "Message not found"
)

// ============================================================================
// SERVER
// ============================================================================

// Server exposes the message store and the streaming exchange over HTTP.
type Server struct {
	router *http.ServeMux
	server *http.Server

	store        storage.Store
	orchestrator *orchestrator.Orchestrator
	config       *config.Holder
	cors         *CORSConfig
	logger       *zap.Logger

	mu sync.RWMutex
}

// New creates a Server. The orchestrator must share store.
func New(store storage.Store, orch *orchestrator.Orchestrator, holder *config.Holder) *Server {
	cfg := holder.Load()
	s := &Server{
		router:       http.NewServeMux(),
		store:        store,
		orchestrator: orch,
		config:       holder,
		cors:         CORSConfigFrom(cfg.Server.AllowedOrigins),
		logger:       zap.NewNop(),
	}
	s.setupRoutes()
	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l *zap.Logger) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logging.OrNop(l).Named("server")
	return s
}

// WithCORS replaces the CORS configuration.
func (s *Server) WithCORS(c *CORSConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cors = c
	return s
}

func (s *Server) log() *zap.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	for _, prefix := range []string{"", APIPrefix} {
		s.router.HandleFunc("GET "+prefix+"/messages", s.handleList)
		s.router.HandleFunc("GET "+prefix+"/messages/{id}", s.handleGet)
		s.router.HandleFunc("POST "+prefix+"/messages/stream", s.handleStream)
		s.router.HandleFunc("DELETE "+prefix+"/messages", s.handleClear)
		s.router.HandleFunc("GET "+prefix+"/health", s.handleHealth)
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	cors := s.cors
	logger := s.logger
	s.mu.RUnlock()

	return Chain(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cors),
	)(s.router)
}

// ============================================================================
// MESSAGE HANDLERS
// ============================================================================

// handleList handles GET /messages.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.List(r.Context())
	if err != nil {
		s.log().Error("LIST_FAILED", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, msgFetchFailed)
		return
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

// handleGet handles GET /messages/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	msg, err := s.store.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, msgNotFound)
	case err != nil:
		s.log().Error("GET_FAILED", zap.String("id", r.PathValue("id")), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, msgFetchFailed)
	default:
		s.writeJSON(w, http.StatusOK, msg)
	}
}

// handleClear handles DELETE /messages.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.log().Error("CLEAR_FAILED", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, msgClearFailed)
		return
	}
	s.log().Info("HISTORY_CLEARED")
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleStream handles POST /messages/stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log().Info("REQUEST_REJECTED", zap.Error(err))
		s.writeError(w, http.StatusBadRequest, msgInvalidFormat)
		return
	}

	sink := newSSESink(w)
	_, err := s.orchestrator.Run(r.Context(), req, sink)
	if err == nil {
		return
	}

	f, ok := orchestrator.AsFault(err)
	if !ok {
		s.log().Error("EXCHANGE_FAILED", zap.Error(err))
		if !sink.started {
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	// A streamed fault was already reported as a frame; a canceled client
	// has nobody left to read a status.
	if f.Streamed || f.Kind == orchestrator.Canceled || sink.started {
		return
	}
	s.writeError(w, f.HTTPStatus(), f.Message())
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Store      string `json:"store"`
	Retrieval  string `json:"retrieval"`
	Completion string `json:"completion"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Load()
	health := HealthResponse{
		Status:     "ok",
		Version:    Version,
		Store:      "ok",
		Retrieval:  "not_configured",
		Completion: "not_configured",
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.store.List(ctx); err != nil {
		health.Store = "unavailable"
		health.Status = "degraded"
	}

	if cfg.Retrieval.Configured() {
		health.Retrieval = "configured"
	}
	if cfg.Completion.Configured() {
		health.Completion = "configured"
	} else {
		health.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	cfg := s.config.Load()

	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout(),
		IdleTimeout:       120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.log().Info("SERVER_START",
		zap.String("addr", ln.Addr().String()),
		zap.String("version", Version),
		zap.Bool("retrieval", cfg.Retrieval.Configured()),
		zap.Bool("completion", cfg.Completion.Configured()),
	)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Load().Server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	s.log().Info("SERVER_SHUTDOWN")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log().Debug("RESPONSE_WRITE_FAILED", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
