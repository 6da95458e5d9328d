// Package server provides the HTTP API for ragbase.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ragbase/ragbase/internal/config"
	"github.com/ragbase/ragbase/internal/ingest"
	"github.com/ragbase/ragbase/internal/loader"
	"github.com/ragbase/ragbase/internal/rag"
	"github.com/ragbase/ragbase/internal/storage"
	"github.com/ragbase/ragbase/internal/vector"
)

// Server is the HTTP server for the ragbase API.
type Server struct {
	pipeline     *ingest.Pipeline
	orchestrator *rag.Orchestrator
	store        storage.Storage
	index        vector.Index
	loader       *loader.Loader
	config       *config.Config
	logger       *zap.Logger
	server       *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	pipeline *ingest.Pipeline,
	orchestrator *rag.Orchestrator,
	store storage.Storage,
	index vector.Index,
	ld *loader.Loader,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		pipeline:     pipeline,
		orchestrator: orchestrator,
		store:        store,
		index:        index,
		loader:       ld,
		config:       cfg,
		logger:       logger,
	}
}

// routes builds the API router.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/data/upload/{projectID}", s.handleUpload)
	r.Post("/api/v1/data/process/{projectID}", s.handleProcess)
	r.Delete("/api/v1/data/{projectID}/{fileID}", s.handleDeleteFile)
	r.Post("/api/v1/index/search/{projectID}", s.handleSearch)
	r.Post("/api/v1/index/answer/{projectID}", s.handleAnswer)
	r.Get("/api/v1/index/info/{projectID}", s.handleProjectInfo)
	r.Get("/api/v1/projects", s.handleListProjects)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := s.routes()
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
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
