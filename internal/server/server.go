// Package server provides the HTTP API for passage.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/passage/internal/config"
	"github.com/hyperjump/passage/internal/models"
	"github.com/hyperjump/passage/internal/telemetry"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies; every request is a small JSON object.
const maxBodyBytes = 1 << 20

// Pipeline is the retrieval pipeline the API serves.
type Pipeline interface {
	Ingest(ctx context.Context, forceRebuild bool) (*models.IngestReport, error)
	Search(ctx context.Context, query string, k int, minSimilarity float64) ([]*models.SearchResult, error)
	ContextForQuery(ctx context.Context, query string, k int) (string, error)
	Stats() models.PipelineStats
	Clear(ctx context.Context, persist bool) error
}

// Server is the HTTP server for the passage API.
type Server struct {
	pipeline Pipeline
	config   *config.ServerConfig
	search   config.SearchConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(p Pipeline, cfg *config.ServerConfig, search config.SearchConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pipeline: p,
		config:   cfg,
		search:   search,
		logger:   logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(middleware.Compress(5))
	r.Use(limitBody)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/search", s.handleSearch)
			r.Post("/context", s.handleContext)
			r.Get("/stats", s.handleStats)
			r.Post("/clear", s.handleClear)
		})
		// ingest embeds every document and may run for minutes
		r.Post("/ingest", s.handleIngest)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog logs one structured line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
