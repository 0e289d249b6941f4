package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/dingtalk-gw/internal/config"
)

// Server represents the webhook HTTP server.
type Server struct {
	config     Config
	codec      CallbackCodec
	verifier   RobotAuthenticator
	dispatcher Dispatcher
	events     EventSource
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
	handler    http.Handler

	// closed on shutdown so event streams end instead of holding it open
	stopping     chan struct{}
	stoppingOnce sync.Once
}

// New creates a new webhook server instance. codec, verifier and dispatcher
// are required; events may be nil when the admin endpoints are unused.
func New(cfg Config, codec CallbackCodec, verifier RobotAuthenticator, dispatcher Dispatcher, events EventSource, logger *slog.Logger) (*Server, error) {
	if codec == nil {
		return nil, errors.New("webhook: callback codec is required")
	}
	if verifier == nil {
		return nil, errors.New("webhook: robot verifier is required")
	}
	if dispatcher == nil {
		return nil, errors.New("webhook: dispatcher is required")
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = config.DefaultMaxBodySize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		config:     cfg,
		codec:      codec,
		verifier:   verifier,
		dispatcher: dispatcher,
		events:     events,
		logger:     logger,
		startedAt:  time.Now(),
		stopping:   make(chan struct{}),
	}
	s.handler = s.setupRoutes()
	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	s.server.RegisterOnShutdown(s.stopStreams)

	s.logger.Info("webhook server starting",
		"listen", s.config.Listen,
		"admin_api", s.adminEnabled(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

func (s *Server) stopStreams() {
	s.stoppingOnce.Do(func() { close(s.stopping) })
}

func (s *Server) adminEnabled() bool {
	return s.config.APIToken != "" && s.events != nil
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowCredentials: s.config.AllowCredentials,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	}).Handler)

	r.Get("/v1/health", s.handleHealth)
	r.Post("/v1/callback", s.handleCallback)
	r.Post("/", s.handleRobot)

	if s.adminEnabled() {
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/v1/events", s.handleEvents)
			r.Get("/v1/events/stream", s.handleEventStream)
		})
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes query strings and payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// readBody reads at most MaxBodySize bytes. It writes a 413 or 500 and
// returns ok=false when the body cannot be used.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return nil, false
	}
	return body, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
