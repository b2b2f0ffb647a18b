// Package web serves the health and readiness endpoints used by
// container orchestrators.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// HealthChecker reports whether the notification feed is connected.
type HealthChecker interface {
	Alive() bool
}

// ReadyChecker reports whether startup initialization has completed.
type ReadyChecker interface {
	Ready() bool
}

// Server exposes health endpoints on a dedicated port.
type Server struct {
	port   int
	health HealthChecker
	ready  ReadyChecker
	router chi.Router
}

// NewServer creates the health server.
func NewServer(port int, health HealthChecker, ready ReadyChecker) *Server {
	s := &Server{
		port:   port,
		health: health,
		ready:  ready,
		router: chi.NewRouter(),
	}

	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Get("/", s.handleHealth)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.health.Alive()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"healthy": healthy})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.ready.Ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": ready})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Run blocks serving HTTP until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting health server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down health server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
