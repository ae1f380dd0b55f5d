// Package server provides the HTTP API for newsrag.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/newsrag/internal/config"
	"github.com/hyperjump/newsrag/internal/search"
	"github.com/hyperjump/newsrag/internal/storage"
	"github.com/hyperjump/newsrag/pkg/utils"
	"go.uber.org/zap"
)

// RequestTimeout bounds the JSON endpoints. Chat streams are bounded by the model timeout.
const RequestTimeout = 60 * time.Second

// Server is the HTTP server for the newsrag API.
type Server struct {
	engine *search.Engine
	runs   storage.RunStore
	files  storage.DataFiles
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRunStore enables last-run reporting in /api/v1/status.
func WithRunStore(rs storage.RunStore) Option {
	return func(s *Server) { s.runs = rs }
}

// WithDataFiles sets the snapshot, marker and database paths reported by /api/v1/status.
func WithDataFiles(f storage.DataFiles) Option {
	return func(s *Server) { s.files = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = utils.OrNop(l) }
}

// NewServer creates a server with the given dependencies.
func NewServer(engine *search.Engine, cfg *config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		r.Use(middleware.Compress(5))
		r.Get("/health", s.handleHealth)
		r.Get("/api/v1/status", s.handleStatus)
		r.Post("/api/v1/search", s.handleSearch)
	})
	r.Post("/api/v1/chat", s.handleChat)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
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
