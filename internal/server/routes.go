package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/armugharaj/full-stack-devops-automation/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router, logger *slog.Logger) {
	h := handlers.New(s.coord, s.catalog, s.store)
	h.SetLogger(logger)

	r.Route("/api", func(r chi.Router) {
		// Health
		r.Get("/health", h.Health)

		// Pipelines
		r.Get("/pipelines", h.ListPipelines)
		r.Get("/pipelines/{pipeline}", h.GetPipeline)
		r.Post("/pipelines/{pipeline}/run", h.StartRun)
		r.Get("/pipelines/{pipeline}/runs", h.ListPipelineRuns)

		// Runs
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/active", h.ActiveRuns)
		r.Get("/runs/{runID}", h.GetRun)
		r.Post("/runs/{runID}/cancel", h.CancelRun)
	})
}
