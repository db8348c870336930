// Package server exposes the control API: document CRUD and import, the
// workflow start/stop/status/rollback surface, citation utilities, the
// health endpoint, Prometheus metrics, and the WebSocket event channel.
//
// The caller identity comes from the X-User-ID header and defaults to
// "local". Documents owned by someone else answer 404, never 403, so the
// API does not confirm their existence.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/c360studio/draftloop/cache"
	"github.com/c360studio/draftloop/citation"
	"github.com/c360studio/draftloop/config"
	"github.com/c360studio/draftloop/events"
	"github.com/c360studio/draftloop/ingest"
	"github.com/c360studio/draftloop/workflow"
)

// defaultUserID is the caller identity when X-User-ID is absent.
const defaultUserID = "local"

// Deps collects the components the server fronts.
type Deps struct {
	Engine    *workflow.Engine
	Store     workflow.Store
	Bus       *events.Bus
	Citations *citation.Client
	Importer  *ingest.Importer
	Cache     *cache.Cache

	// MetricsHandler serves /metrics. Optional.
	MetricsHandler http.Handler

	// Health descriptors surfaced by GET /health.
	LLMConfigured bool
	QueueBackend  string
	StoreBackend  string
}

// Server is the HTTP and WebSocket front end.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	logger *slog.Logger
	http   *http.Server
}

// New creates the server and its route tree.
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	if s.deps.MetricsHandler != nil {
		r.Handle("/metrics", s.deps.MetricsHandler)
	}
	r.Get("/ws", s.handleWebSocket)

	r.Route("/workflow", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.handleCreateDocument)
			r.Get("/", s.handleListDocuments)
			r.Post("/import", s.handleImportDocument)
			r.Get("/{documentID}", s.handleGetDocument)
		})
		r.Route("/citations", func(r chi.Router) {
			r.Get("/search", s.handleCitationSearch)
			r.Post("/format", s.handleCitationFormat)
		})
		r.Post("/start", s.handleStart)
		r.Route("/{documentID}", func(r chi.Router) {
			r.Post("/stop", s.handleStop)
			r.Get("/status", s.handleStatus)
			r.Get("/nodes", s.handleListNodes)
			r.Post("/rollback/{nodeID}", s.handleRollback)
		})
	})

	return r
}

// requestLogger logs one line per request after it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// ListenAndServe blocks serving requests until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains connections within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// userID extracts the caller identity.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return defaultUserID
}
