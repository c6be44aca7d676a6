package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// ListPipelines returns all registered pipeline definitions.
func (h *Handlers) ListPipelines(w http.ResponseWriter, r *http.Request) {
	defs := h.catalog.List()
	if defs == nil {
		defs = []types.PipelineDefinition{}
	}
	_ = json.NewEncoder(w).Encode(defs)
}

// GetPipeline returns a single pipeline definition.
func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "pipeline")
	def, ok := h.catalog.Get(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "pipeline not found", nil)
		return
	}
	_ = json.NewEncoder(w).Encode(def)
}
