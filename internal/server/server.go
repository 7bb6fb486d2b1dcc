// Package server is the HTTP ingress. GitHub webhook deliveries and
// direct API calls become governed requests here: verify the caller,
// classify trust, route to a role, hand off to the invoker. Webhook
// sessions run in the background behind an immediate 202; API sessions
// run synchronously on the request.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wardenhq/warden/internal/config"
	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/idempotency"
	"github.com/wardenhq/warden/internal/invoker"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/trust"
)

// Invoker runs one governed session for a routed request.
type Invoker interface {
	Invoke(ctx context.Context, proj *project.Project, role *project.Role, req *request.Request) (*invoker.Outcome, error)
}

// Deps are the collaborators every ingress path needs. Deliveries may be
// nil, which turns webhook replay suppression off.
type Deps struct {
	Projects   *project.Loader
	Trust      *trust.Classifier
	Invoker    Invoker
	Deliveries *idempotency.Ledger
}

type Server struct {
	cfg  config.ServerConfig
	deps Deps
	http *http.Server

	// background counts webhook sessions still running after their 202.
	background sync.WaitGroup
}

func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	readTimeout, err := config.DurationOrDefault(cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse server write timeout: %w", err)
	}

	s := &Server{cfg: cfg, deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhooks/github", s.handleWebhook)
	r.Route("/api", func(api chi.Router) {
		api.Use(s.requireAPIKey)
		api.Post("/invoke", s.handleInvoke)
	})

	// A zero write timeout leaves the connection deadline off: a
	// synchronous invoke runs for as long as its model turns do.
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s, nil
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins serving in a goroutine and returns immediately.
func (s *Server) Start() {
	go func() {
		slog.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
}

// Stop shuts the listener down and waits for background webhook
// sessions, both bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook sessions still running: %w", ctx.Err())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger records one line per request. Probes stay out of the log.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Response encode failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}

// statusFor maps the error taxonomy onto HTTP statuses. Configuration
// errors surface as 422: the request was well formed but no project
// setup can serve it.
func statusFor(err error) int {
	switch {
	case wardenErrors.IsNotFound(err):
		return http.StatusNotFound
	case wardenErrors.IsInvalidInput(err):
		return http.StatusBadRequest
	case errors.Is(err, wardenErrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case wardenErrors.IsPermissionDenied(err):
		return http.StatusForbidden
	case wardenErrors.IsConfiguration(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wardenErrors.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
