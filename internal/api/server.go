package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/rendergw/internal/events"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/stream"
	"github.com/mattjoyce/rendergw/internal/tools"
)

// RPCHandler answers one raw JSON-RPC message. A nil reply means the message
// was a notification.
type RPCHandler interface {
	HandleMessage(ctx context.Context, data []byte) []byte
}

// Toolset is the tool router as seen by the REST surface.
type Toolset interface {
	Tools() []tools.Tool
	Call(ctx context.Context, name string, args map[string]any) (*tools.Result, error)
}

// JobCounter reports job counts by status.
type JobCounter interface {
	Counts() map[render.Status]int
}

// StreamCounter reports stream counts by status.
type StreamCounter interface {
	Counts() map[stream.Status]int
}

// Config holds API server configuration
type Config struct {
	Listen string
	// FilesDir is served read-only under /files/. Empty disables file serving.
	FilesDir string
	// MaxBodyBytes bounds RPC and tool request bodies.
	MaxBodyBytes int64
	// Version is reported by /healthz and the OpenAPI document.
	Version string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	rpc       RPCHandler
	tools     Toolset
	jobs      JobCounter
	streams   StreamCounter
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, rpc RPCHandler, ts Toolset, jobs JobCounter, streams StreamCounter, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		rpc:       rpc,
		tools:     ts,
		jobs:      jobs,
		streams:   streams,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /events and large /files downloads are long-lived.
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "files_dir", s.config.FilesDir)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Post("/rpc", s.handleRPC)
	r.Get("/tools", s.handleListTools)
	r.Post("/tools/{tool}", s.handleCallTool)
	r.Get("/events", s.handleEvents)
	if s.config.FilesDir != "" {
		r.Get("/files/{name}", s.handleFile)
		r.Head("/files/{name}", s.handleFile)
	}

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
