// Package handlers implements HTTP request handlers for the Conveyor API.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/armugharaj/full-stack-devops-automation/internal/catalog"
	"github.com/armugharaj/full-stack-devops-automation/internal/coordinator"
	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	coord   *coordinator.Coordinator
	catalog *catalog.Catalog
	store   ledger.Store
	logger  *slog.Logger
}

// New creates a new Handlers instance.
func New(coord *coordinator.Coordinator, cat *catalog.Catalog, store ledger.Store) *Handlers {
	return &Handlers{
		coord:   coord,
		catalog: cat,
		store:   store,
		logger:  slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
