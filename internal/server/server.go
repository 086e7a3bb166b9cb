// Package server provides the HTTP API for Hantei.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/hantei/internal/config"
	"github.com/hyperjump/hantei/internal/corpus"
	"github.com/hyperjump/hantei/internal/engine"
	"github.com/hyperjump/hantei/internal/history"
)

// Server is the HTTP server for the Hantei API.
type Server struct {
	engine  *engine.Engine
	holder  *corpus.Holder
	store   *corpus.Store
	history *history.Store
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	eng *engine.Engine,
	holder *corpus.Holder,
	store *corpus.Store,
	hist *history.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:  eng,
		holder:  holder,
		store:   store,
		history: hist,
		config:  cfg,
		logger:  logger,
	}
}

// router builds the chi router with middleware and all routes.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/api/v1/queries", s.handleQuery)
	r.Get("/api/v1/queries", s.handleListQueries)
	r.Get("/api/v1/queries/{id}", s.handleGetQuery)
	r.Post("/api/v1/queries/{id}/feedback", s.handleAddFeedback)
	r.Get("/api/v1/queries/{id}/feedback", s.handleListFeedback)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router(),
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
