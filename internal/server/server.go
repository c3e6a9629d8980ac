// Package server exposes the HTTP surface: inbound message notifications,
// an authenticated sweep trigger, health and metrics.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/mailflow/internal/engine"
	"github.com/Veraticus/mailflow/internal/scheduler"
)

// processTimeout bounds the handling of one inbound notification.
const processTimeout = 2 * time.Minute

// Config holds server settings.
type Config struct {
	Addr        string
	SweepSecret string
}

// Server wires the engine and scheduler to HTTP handlers.
type Server struct {
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	http      *http.Server
	cfg       Config
}

// New creates a server listening on cfg.Addr.
func New(cfg Config, eng *engine.Engine, sched *scheduler.Scheduler) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	s := &Server{engine: eng, scheduler: sched, cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /sweep", s.handleSweep)
	mux.HandleFunc("POST /webhooks/inbound/{account}", s.handleInbound)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      processTimeout + 10*time.Second,
		IdleTimeout:       time.Minute,
	}
	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSweep triggers one scheduler sweep. Guarded by a shared secret so
// external cron services can drive it.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SweepSecret == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "sweep endpoint disabled"})
		return
	}
	provided := r.Header.Get("X-Sweep-Secret")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.SweepSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid sweep secret"})
		return
	}

	counts, err := s.scheduler.SweepOnce(r.Context())
	if err != nil {
		slog.Error("Sweep via HTTP failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"processed": counts.Processed,
		"failed":    counts.Failed,
		"pending":   counts.Pending,
	})
}

// inboundNotification is the minimal push payload a mail provider or relay
// posts when a new message arrives.
type inboundNotification struct {
	MessageID string `json:"messageId"`
}

// handleInbound accepts a new-message notification and processes the
// message in the background. The response acknowledges receipt only; the
// outcome lands in the audit trail.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")

	var notification inboundNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed notification"})
		return
	}
	if notification.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messageId is required"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if _, err := s.engine.ProcessMessage(ctx, accountID, notification.MessageID); err != nil {
			slog.Error("Failed to process inbound message",
				"account", accountID,
				"message", notification.MessageID,
				"error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
