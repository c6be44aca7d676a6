package handlers

import (
	"encoding/json"
	"net/http"
)

// Health returns the server health status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
	}

	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":     status,
		"activeRuns": len(h.coord.ActiveRuns()),
	}); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
}
