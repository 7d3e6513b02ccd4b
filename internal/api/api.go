// Package api provides the HTTP surface for mantrakit.
//
// It exposes endpoints for submitting dialogue turns (text or voice), polling
// the replies queued for a user, and reading a user's accumulated mantras.
// Turns are queued onto the in-process messaging channel; the response handler
// drives the dialogue asynchronously and its replies are drained per user via
// the outbox endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mantrakit/mantrakit/internal/messaging"
	"github.com/mantrakit/mantrakit/internal/models"
	"github.com/mantrakit/mantrakit/internal/store"
)

// maxIntakeBodySize bounds a turn submission; voice payloads dominate.
const maxIntakeBodySize = 10 << 20 // 10MB

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server exposes the intake and read API over an in-process channel and store.
type Server struct {
	addr       string
	channel    *messaging.ChannelService
	store      store.Store
	httpServer *http.Server
}

// NewServer creates an API server bound to the given address.
func NewServer(addr string, channel *messaging.ChannelService, st store.Store) *Server {
	s := &Server{addr: addr, channel: channel, store: st}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the chi router for the API surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/v1/messages", s.handleIntake)
	r.Get("/v1/outbox/{userID}", s.handleOutbox)
	r.Get("/v1/mantras/{userID}", s.handleMantras)

	return r
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown failed: %w", err)
		}
		slog.Info("API server stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "mantrakit"}))
}

// handleIntake accepts one dialogue turn. Audio is carried base64-encoded in
// the JSON body and decoded by the standard []byte unmarshaling.
func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIntakeBodySize)

	var msg models.IncomingMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Debug("API intake decode failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid request body"))
		return
	}
	if err := msg.Validate(); err != nil {
		slog.Debug("API intake validation failed", "error", err, "user_id", msg.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.channel.Enqueue(r.Context(), msg); err != nil {
		slog.Error("API intake enqueue failed", "error", err, "user_id", msg.UserID)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Message intake unavailable"))
		return
	}

	slog.Debug("API turn accepted", "user_id", msg.UserID, "has_audio", msg.HasAudio())
	writeJSONResponse(w, http.StatusAccepted, models.Recorded())
}

// handleOutbox drains the user's queued replies. Each poll returns the
// messages accumulated since the previous one, in send order.
func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	userID, err := messaging.CanonicalizeUserID(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid user ID"))
		return
	}

	out := s.channel.CollectOutbox(userID)
	if out == nil {
		out = []messaging.OutgoingMessage{}
	}
	slog.Debug("API outbox drained", "user_id", userID, "count", len(out))
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

func (s *Server) handleMantras(w http.ResponseWriter, r *http.Request) {
	userID, err := messaging.CanonicalizeUserID(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid user ID"))
		return
	}

	mantras, err := s.store.GetMantras(userID)
	if err != nil {
		slog.Error("API mantra lookup failed", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load mantras"))
		return
	}
	if mantras == nil {
		mantras = []models.Mantra{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(mantras))
}
