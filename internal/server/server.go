// Package server provides the local HTTP API: search, topic listing, and
// status over the registry.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/agent"
	"github.com/tana-search/tana/internal/config"
	"github.com/tana-search/tana/internal/embedding"
	"github.com/tana-search/tana/internal/progress"
	"github.com/tana-search/tana/internal/registry"
	"github.com/tana-search/tana/internal/watchsvc"
)

// Version is the API version reported by /health.
const Version = "0.3.0"

// Server is the HTTP server for the tana API. It binds to loopback by
// default; CORS is open so local tooling on any origin can call it.
type Server struct {
	registry   *registry.Manager
	progress   *progress.Coordinator
	embeddings *embedding.Manager
	agents     *agent.Cache
	watch      *watchsvc.Coordinator // nil when watching is disabled
	cfg        *config.Config
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	reg *registry.Manager,
	prog *progress.Coordinator,
	embeddings *embedding.Manager,
	agents *agent.Cache,
	watch *watchsvc.Coordinator,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry:   reg,
		progress:   prog,
		embeddings: embeddings,
		agents:     agents,
		watch:      watch,
		cfg:        cfg,
		logger:     logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeoutSeconds) * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/search", s.handleSearch)
	r.Get("/topics", s.handleTopics)
	r.Get("/topics/{name}", s.handleTopicByName)
	r.Get("/status", s.handleStatus)
	r.Post("/pause", s.handlePause)
	r.Post("/resume", s.handleResume)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
