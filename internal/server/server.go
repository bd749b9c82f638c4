// Package server provides the HTTP API over the similarity index and retrieval engine.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stritefax/heelixchat/internal/config"
	"github.com/stritefax/heelixchat/internal/search"
	"github.com/stritefax/heelixchat/internal/similarity"
	"github.com/stritefax/heelixchat/internal/storage"
	"github.com/stritefax/heelixchat/pkg/utils"
)

// WatchService manages the inbox directories at runtime. It may be nil when watching is off.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the heelix API.
type Server struct {
	engine     *search.Engine
	storage    storage.Storage
	handle     *similarity.Handle
	config     *config.Config
	configPath string
	configMu   sync.Mutex
	watch      WatchService
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server with the given dependencies. configPath, when set, is where
// watch directory changes are persisted.
func NewServer(
	engine *search.Engine,
	storage storage.Storage,
	handle *similarity.Handle,
	cfg *config.Config,
	configPath string,
	watch WatchService,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:     engine,
		storage:    storage,
		handle:     handle,
		config:     cfg,
		configPath: configPath,
		watch:      watch,
		logger:     utils.OrNop(logger),
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if s.config.Debug {
		r.Use(middleware.Logger)
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleIndexDocument)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Post("/search", s.handleSearch)
		r.Post("/context", s.handleContext)
		r.Post("/sync", s.handleSync)
		r.Get("/status", s.handleStatus)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
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
