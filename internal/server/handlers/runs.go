package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/armugharaj/full-stack-devops-automation/internal/coordinator"
	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// defaultListLimit bounds run listings when no limit query param is given.
const defaultListLimit = 20

// StartRun launches a run of the named pipeline. The optional JSON body
// supplies the run context (commit, triggeredBy, artifact).
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "pipeline")
	def, ok := h.catalog.Get(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "pipeline not found", nil)
		return
	}

	var rc types.RunContext
	if err := json.NewDecoder(r.Body).Decode(&rc); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if rc.TriggeredBy == "" {
		rc.TriggeredBy = "api"
	}

	handle, err := h.coord.Start(r.Context(), def, rc)
	if err != nil {
		if errors.Is(err, coordinator.ErrDefinitionInvalid) {
			h.writeError(w, http.StatusUnprocessableEntity, "pipeline definition invalid", err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to start run", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	if snap, ok := h.coord.ActiveRun(handle.RunID); ok {
		_ = json.NewEncoder(w).Encode(snap)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"id": handle.RunID, "pipeline": name})
}

// GetRun returns a single run, live if still executing, from the ledger
// otherwise.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if snap, ok := h.coord.ActiveRun(runID); ok {
		_ = json.NewEncoder(w).Encode(snap)
		return
	}

	entry, err := h.store.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	_ = json.NewEncoder(w).Encode(types.RunFromEntry(entry))
}

// CancelRun requests cancellation of an active run.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := h.coord.CancelRun(runID); err != nil {
		if errors.Is(err, coordinator.ErrUnknownRun) {
			h.writeError(w, http.StatusNotFound, "run not active", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to cancel run", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": runID, "status": "cancelling"})
}

// ActiveRuns returns all currently executing runs.
func (h *Handlers) ActiveRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.coord.ActiveRuns()
	if runs == nil {
		runs = []types.Run{}
	}
	_ = json.NewEncoder(w).Encode(runs)
}

// ListPipelineRuns returns recorded runs for one pipeline.
func (h *Handlers) ListPipelineRuns(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	q.Pipeline = chi.URLParam(r, "pipeline")
	h.listRuns(w, r, q)
}

// ListRuns returns recorded runs across all pipelines.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	h.listRuns(w, r, q)
}

func (h *Handlers) listRuns(w http.ResponseWriter, r *http.Request, q ledger.Query) {
	entries, err := h.store.List(r.Context(), q)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if entries == nil {
		entries = []types.LedgerEntry{}
	}
	_ = json.NewEncoder(w).Encode(entries)
}

// parseListQuery reads since, until, and limit query params. Times are
// RFC 3339.
func parseListQuery(r *http.Request) (ledger.Query, error) {
	q := ledger.Query{Limit: defaultListLimit}

	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, errors.New("invalid since: must be RFC 3339")
		}
		q.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, errors.New("invalid until: must be RFC 3339")
		}
		q.Until = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, errors.New("invalid limit: must be a non-negative integer")
		}
		q.Limit = n
	}
	return q, nil
}
