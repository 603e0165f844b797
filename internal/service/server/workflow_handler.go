package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/nolabel/model-localizer/internal/shotpath"
	"github.com/nolabel/model-localizer/internal/workflow"
)

// WorkflowHandler serves the shot-path builder and the workflow context
// store.
type WorkflowHandler struct {
	store  *workflow.Store
	logger *zap.Logger
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(store *workflow.Store, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{store: store, logger: logger}
}

// HandleShotPath builds versioned output paths for a shot.
func (h *WorkflowHandler) HandleShotPath(w http.ResponseWriter, r *http.Request) {
	var params shotpath.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, shotpath.Build(params))
}

// HandleGetContext returns a cached workflow context; without a
// workflow_id query parameter the most recent one is returned.
func (h *WorkflowHandler) HandleGetContext(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.store.Get(r.URL.Query().Get("workflow_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no workflow context")
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

// HandlePopulateContext builds and caches a context from the request,
// falling back to environment defaults for empty fields.
func (h *WorkflowHandler) HandlePopulateContext(w http.ResponseWriter, r *http.Request) {
	var in workflow.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, h.store.BuildContext(in))
}

// HandleGetDefaults returns the persisted workflow defaults.
func (h *WorkflowHandler) HandleGetDefaults(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Defaults()
	if err != nil {
		h.logger.Error("failed to read workflow defaults", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// HandleSetDefaults replaces the persisted workflow defaults.
func (h *WorkflowHandler) HandleSetDefaults(w http.ResponseWriter, r *http.Request) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.SetDefaults(doc); err != nil {
		h.logger.Error("failed to write workflow defaults", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// HandleResetDefaults removes the persisted workflow defaults.
func (h *WorkflowHandler) HandleResetDefaults(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ResetDefaults(); err != nil {
		h.logger.Error("failed to reset workflow defaults", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// HandleHistory returns the workflow history, newest first.
func (h *WorkflowHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.History()
	if err != nil {
		h.logger.Error("failed to read workflow history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// HandleCommitHistory commits a cached context to the history. The body
// may name a workflow_id; without one the most recent context is used.
func (h *WorkflowHandler) HandleCommitHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID string `json:"workflow_id"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	ctx, ok := h.store.Get(req.WorkflowID)
	if !ok {
		writeError(w, http.StatusNotFound, "no workflow context to commit")
		return
	}
	entry, err := h.store.Commit(ctx)
	if err != nil {
		h.logger.Error("failed to commit workflow history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleDeleteHistory removes one history entry by id.
func (h *WorkflowHandler) HandleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteHistory(r.PathValue("id")); err != nil {
		h.logger.Error("failed to delete workflow history entry", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleClearHistory empties the workflow history.
func (h *WorkflowHandler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearHistory(); err != nil {
		h.logger.Error("failed to clear workflow history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
