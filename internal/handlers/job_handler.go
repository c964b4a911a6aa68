// -----------------------------------------------------------------------
// Job handlers - reprocessing, result diffs, conflict reports and
// operator finalization.
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/models"
)

// JobHandler serves the /api/jobs routes
type JobHandler struct {
	manager *jobs.Manager
	runner  *jobs.Runner
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// NewJobHandler creates a job handler
func NewJobHandler(manager *jobs.Manager, runner *jobs.Runner, storage interfaces.StorageManager, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		manager: manager,
		runner:  runner,
		storage: storage,
		logger:  logger,
	}
}

// ListJobsHandler handles GET /api/jobs with optional project_id, status and
// limit query parameters.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	opts := &interfaces.JobListOptions{
		ProjectID: r.URL.Query().Get("project_id"),
		Status:    r.URL.Query().Get("status"),
		Limit:     QueryInt(r, "limit", 50),
	}

	list, err := h.storage.JobStorage().ListJobs(r.Context(), opts)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := PathID(r.URL.Path, "/api/jobs/")
	job, err := h.manager.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

type reprocessRequest struct {
	ReferenceIDs    []string `json:"reference_ids"`
	ReprocessReason string   `json:"reprocess_reason,omitempty"`
}

// ReprocessHandler handles POST /api/jobs/{id}/reprocess. A reprocess run
// replays the parent's input snapshot with fresh references and a forced
// context refresh; the new job carries the parent's id and the next lineage
// version.
func (h *JobHandler) ReprocessHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	parentID := PathID(r.URL.Path, "/api/jobs/")
	parent, err := h.manager.GetJob(r.Context(), parentID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found: "+parentID)
		return
	}
	if parent.InitialState == nil {
		WriteError(w, http.StatusConflict, "job "+parentID+" has no stored input to reprocess")
		return
	}

	var req reprocessRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	initial := *parent.InitialState
	initial.ReferenceIDs = req.ReferenceIDs
	initial.ForceRefreshContext = len(req.ReferenceIDs) > 0
	initial.ReprocessReason = req.ReprocessReason
	initial.IdempotencyKey = "" // every reprocess is a distinct run

	job, err := h.manager.CreateJob(r.Context(), &initial, parentID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.runner.Dispatch(r.Context(), job)

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":        job.ID,
		"parent_job_id": parentID,
		"job_version":   job.JobVersion,
		"status":        string(job.Status),
	})
}

// DiffHandler handles GET /api/jobs/{id}/diff?against={id2}
func (h *JobHandler) DiffHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := PathID(r.URL.Path, "/api/jobs/")
	againstID := r.URL.Query().Get("against")
	if againstID == "" {
		WriteError(w, http.StatusBadRequest, "against query parameter is required")
		return
	}

	if _, err := h.manager.GetJob(r.Context(), jobID); err != nil {
		WriteError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}
	if _, err := h.manager.GetJob(r.Context(), againstID); err != nil {
		WriteError(w, http.StatusNotFound, "job not found: "+againstID)
		return
	}

	diff, err := h.manager.Diff(r.Context(), jobID, againstID)
	if err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, diff)
}

// ConflictReportHandler handles GET /api/jobs/{id}/conflict-report
func (h *JobHandler) ConflictReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := PathID(r.URL.Path, "/api/jobs/")
	job, err := h.manager.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}

	var report *models.ConflictReport
	if job.ConflictReportID != "" {
		report, err = h.storage.ConflictStorage().GetReport(r.Context(), job.ConflictReportID)
	} else {
		report, err = h.storage.ConflictStorage().GetReportByJob(r.Context(), jobID)
	}
	if err != nil || report == nil {
		WriteError(w, http.StatusNotFound, "no conflict report for job "+jobID)
		return
	}

	WriteJSON(w, http.StatusOK, report)
}

// FinalizeHandler handles POST /api/jobs/{id}/finalize, the operator-driven
// SUCCEEDED -> FINALIZED transition.
func (h *JobHandler) FinalizeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	jobID := PathID(r.URL.Path, "/api/jobs/")
	if _, err := h.manager.GetJob(r.Context(), jobID); err != nil {
		WriteError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}

	job, err := h.manager.FinalizeJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, job)
}
