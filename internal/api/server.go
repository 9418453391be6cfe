// Package api provides the optional HTTP status surface of the language
// server: diagnostics, adapter health and a workspace trigger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/events"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/logging"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/service"
)

// Engine is the part of service.Engine the API reads from.
type Engine interface {
	Root() string
	Registry() *cli.Registry
	Store() *diagnostics.Store
	Coordinator() *service.Coordinator
	Events() *events.EventBus
	Warnings() []string
	HandleTrigger(ctx context.Context, trig core.Trigger) error
}

var _ Engine = (*service.Engine)(nil)

// Server provides the HTTP status endpoints.
type Server struct {
	router chi.Router
	engine Engine
	logger *logging.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new API server.
func NewServer(engine Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine: engine,
		logger: logging.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// The event stream is long-lived, everything else is bounded.
		r.Get("/events", s.handleSSE)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/diagnostics", func(r chi.Router) {
				r.Get("/", s.handleListDiagnostics)
				r.Get("/file", s.handleFileDiagnostics)
			})
			r.Route("/adapters", func(r chi.Router) {
				r.Get("/", s.handleListAdapters)
				r.Get("/{name}", s.handleGetAdapter)
			})
			r.Post("/workspace/diagnostics", s.handleWorkspaceDiagnostics)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	failing := s.engine.Coordinator().Status().Failing()
	status := "healthy"
	if len(failing) > 0 {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"root":           s.engine.Root(),
		"adapters":       len(s.engine.Registry().Definitions()),
		"failing":        len(failing),
		"dropped_events": s.engine.Events().DroppedCount(),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting status server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
