// Package server implements the Conveyor HTTP API server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/armugharaj/full-stack-devops-automation/internal/catalog"
	"github.com/armugharaj/full-stack-devops-automation/internal/coordinator"
	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// defaultMaxBody caps request bodies when server.maxRequestBody is unset.
const defaultMaxBody int64 = 1 << 20

// Server is the Conveyor HTTP API server.
type Server struct {
	coord   *coordinator.Coordinator
	catalog *catalog.Catalog
	store   ledger.Store
	router  chi.Router
	addr    string
	srv     *http.Server
}

// New creates a new HTTP server.
func New(cfg types.ServerConfig, coord *coordinator.Coordinator, cat *catalog.Catalog, store ledger.Store, logger *slog.Logger) *Server {
	s := &Server{
		coord:   coord,
		catalog: cat,
		store:   store,
		addr:    cfg.Addr,
	}

	maxBody := cfg.MaxRequestBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))
	r.Use(APIKeyMiddleware(cfg.APIKey))
	r.Use(MaxBodyMiddleware(maxBody))

	s.router = r
	s.registerRoutes(r, logger)
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	fmt.Printf("Conveyor server listening on %s\n", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
