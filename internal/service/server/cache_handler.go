package server

import (
	"encoding/json"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/nolabel/model-localizer/internal/audit"
	"github.com/nolabel/model-localizer/internal/domain"
	"github.com/nolabel/model-localizer/internal/layout"
	"github.com/nolabel/model-localizer/internal/service/jobs"
	"github.com/nolabel/model-localizer/internal/service/pruner"
	"github.com/nolabel/model-localizer/internal/service/scanner"
	"github.com/nolabel/model-localizer/internal/usage"
)

// CacheHandler serves the cache synchronization API.
type CacheHandler struct {
	loadLayout LayoutLoader
	usage      *usage.Store
	audit      *audit.Log
	scanner    *scanner.Scanner
	jobs       *jobs.Manager
	pruner     *pruner.Pruner
	logger     *zap.Logger
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(deps Deps, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{
		loadLayout: deps.LoadLayout,
		usage:      deps.Usage,
		audit:      deps.Audit,
		scanner:    deps.Scanner,
		jobs:       deps.Jobs,
		pruner:     deps.Pruner,
		logger:     logger,
	}
}

// HandleScan resolves candidate model names against both storage sides.
func (h *CacheHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidates []string `json:"candidates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.scanner.Scan(req.Candidates)
	if err != nil {
		h.logger.Error("scan failed", zap.Error(err))
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleCacheList returns the local cache listing sorted by usage.
func (h *CacheHandler) HandleCacheList(w http.ResponseWriter, r *http.Request) {
	result, err := h.scanner.ListLocal()
	if err != nil {
		h.logger.Error("cache list failed", zap.Error(err))
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// copyRequest is the body for localize and upload submissions.
type copyRequest struct {
	Items     []domain.ItemRef `json:"items"`
	Overwrite bool             `json:"overwrite"`
}

// HandleLocalize enqueues a network -> local copy job.
func (h *CacheHandler) HandleLocalize(w http.ResponseWriter, r *http.Request) {
	h.submitCopy(w, r, domain.DirectionLocalize)
}

// HandleUpload enqueues a local -> network copy job.
func (h *CacheHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	h.submitCopy(w, r, domain.DirectionUpload)
}

func (h *CacheHandler) submitCopy(w http.ResponseWriter, r *http.Request, direction domain.Direction) {
	var req copyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}
	for i := range req.Items {
		if req.Items[i].Category == "" || req.Items[i].Relpath == "" {
			writeError(w, http.StatusBadRequest, "every item needs a category and relpath")
			return
		}
	}

	jobID := h.jobs.Create(req.Items, req.Overwrite, direction)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// jobView is the wire shape of a job status response.
type jobView struct {
	*domain.Job
	Percent float64 `json:"percent"`
}

// HandleJobStatus returns a snapshot of one job.
func (h *CacheHandler) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, jobView{Job: job, Percent: job.Percent()})
}

// HandleActiveJob returns the most recent queued or running job, if any.
func (h *CacheHandler) HandleActiveJob(w http.ResponseWriter, r *http.Request) {
	id := h.jobs.ActiveJobID()
	if id == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"job": nil})
		return
	}
	job, ok := h.jobs.Get(id)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"job": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job": jobView{Job: job, Percent: job.Percent()},
	})
}

// HandleJobCancel requests cooperative cancellation of a job.
func (h *CacheHandler) HandleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.jobs.Cancel(id) {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "cancel_requested"})
}

// deleteResult is the per-item outcome of a delete request.
type deleteResult struct {
	domain.ItemRef
	Deleted bool   `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// HandleDelete removes one or more local cache files. Each item is
// handled independently; a failure on one does not stop the rest.
func (h *CacheHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []domain.ItemRef `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	lay, err := h.loadLayout()
	if err != nil {
		h.logger.Error("failed to load layout", zap.Error(err))
		writeError(w, errorStatus(err), err.Error())
		return
	}

	results := make([]deleteResult, 0, len(req.Items))
	for _, item := range req.Items {
		results = append(results, h.deleteItem(lay, item))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// deleteItem removes one local file, its usage record, and records the
// deletion in the audit log.
func (h *CacheHandler) deleteItem(lay *layout.Layout, item domain.ItemRef) deleteResult {
	result := deleteResult{ItemRef: item}

	relpath, err := layout.NormalizeRelpath(item.Relpath)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	item.Relpath = relpath
	result.ItemRef = item

	localPath, err := lay.LocalPath(item.Category, item.Relpath)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if err := os.Remove(localPath); err != nil {
		if os.IsNotExist(err) {
			result.Error = "not cached locally"
		} else {
			result.Error = err.Error()
		}
		return result
	}

	result.Deleted = true
	if err := h.usage.Remove(item.Category, item.Relpath); err != nil {
		h.logger.Warn("failed to remove usage record",
			zap.String("category", item.Category),
			zap.String("relpath", item.Relpath),
			zap.Error(err))
	}
	if err := h.audit.DeleteLocal("manual", item); err != nil {
		h.logger.Warn("failed to append delete audit entry", zap.Error(err))
	}
	h.logger.Info("deleted local file",
		zap.String("category", item.Category),
		zap.String("relpath", item.Relpath))
	return result
}

// HandlePrune runs a manual eviction pass. The persisted cache budget is
// used unless the request overrides it.
func (h *CacheHandler) HandlePrune(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxCacheBytes *int64 `json:"max_cache_bytes"`
	}
	if r.Body != nil {
		// An empty body means "use the persisted budget".
		json.NewDecoder(r.Body).Decode(&req)
	}

	maxBytes := h.usage.Settings().MaxCacheBytes
	if req.MaxCacheBytes != nil {
		maxBytes = *req.MaxCacheBytes
	}

	result, err := h.pruner.PlanAndExecute(maxBytes, "manual")
	if err != nil {
		h.logger.Error("prune failed", zap.Error(err))
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGetSettings returns the persisted cache settings.
func (h *CacheHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.usage.Settings())
}

// HandleSetSettings updates the persisted cache settings. Absent fields
// are left unchanged.
func (h *CacheHandler) HandleSetSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AutoDeleteEnabled *bool  `json:"auto_delete_enabled"`
		MaxCacheBytes     *int64 `json:"max_cache_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings, err := h.usage.UpdateSettings(req.AutoDeleteEnabled, req.MaxCacheBytes)
	if err != nil {
		h.logger.Error("failed to update settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// HandleLog renders the audit log as plain text.
func (h *CacheHandler) HandleLog(w http.ResponseWriter, r *http.Request) {
	text, err := h.audit.RenderText()
	if err != nil {
		h.logger.Error("failed to render audit log", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}
