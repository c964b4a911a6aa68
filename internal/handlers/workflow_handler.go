// -----------------------------------------------------------------------
// Workflow handlers - submission, status, result and signoff resume.
// Submission ingests the raw text, persists a QUEUED job and tries to
// admit it immediately; the sweeper picks up anything left queued.
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/ingestion"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/workflow"
)

// WorkflowHandler serves the /workflow/* routes
type WorkflowHandler struct {
	manager  *jobs.Manager
	runner   *jobs.Runner
	storage  interfaces.StorageManager
	ingest   *ingestion.Service
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewWorkflowHandler creates a workflow handler
func NewWorkflowHandler(manager *jobs.Manager, runner *jobs.Runner, storage interfaces.StorageManager, ingest *ingestion.Service, logger arbor.ILogger) *WorkflowHandler {
	return &WorkflowHandler{
		manager:  manager,
		runner:   runner,
		storage:  storage,
		ingest:   ingest,
		validate: validator.New(),
		logger:   logger,
	}
}

type submitRequest struct {
	RawText             string   `json:"raw_text" validate:"required"`
	ProjectID           string   `json:"project_id" validate:"required"`
	ReferenceIDs        []string `json:"reference_ids,omitempty"`
	ForceRefreshContext bool     `json:"force_refresh_context,omitempty"`
	IdempotencyKey      string   `json:"idempotency_key,omitempty"`
	RigorLevel          string   `json:"rigor_level,omitempty" validate:"omitempty,oneof=exploratory conservative"`
	ImagePaths          []string `json:"image_paths,omitempty"`
}

// SubmitHandler handles POST /workflow/submit
func (h *WorkflowHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req submitRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RawText) == "" {
		WriteError(w, http.StatusBadRequest, "raw_text is required")
		return
	}
	if req.ProjectID == "" {
		WriteError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.storage.ProjectStorage().GetProject(r.Context(), req.ProjectID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "project not found: "+req.ProjectID)
		return
	}

	rigor := project.RigorLevel
	if req.RigorLevel != "" {
		rigor = models.RigorLevel(req.RigorLevel)
	}

	ingested, err := h.ingest.IngestText(r.Context(), project.ID, req.RawText, rigor)
	if err != nil {
		h.logger.Error().Err(err).Str("project_id", project.ID).Msg("Text ingestion failed")
		WriteError(w, http.StatusInternalServerError, "ingestion failed: "+err.Error())
		return
	}

	initial := &models.JobInitialState{
		RawText:             req.RawText,
		ProjectID:           project.ID,
		ImagePaths:          req.ImagePaths,
		DocHash:             ingested.DocHash,
		IngestionID:         ingested.IngestionID,
		RigorLevel:          req.RigorLevel,
		IdempotencyKey:      req.IdempotencyKey,
		ReferenceIDs:        req.ReferenceIDs,
		ForceRefreshContext: req.ForceRefreshContext,
	}

	job, err := h.manager.CreateJob(r.Context(), initial, "")
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if job.Status == models.JobStatusQueued {
		h.runner.Dispatch(r.Context(), job)
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": string(models.JobStatusQueued),
	})
}

// StatusHandler handles GET /workflow/status/{id}
func (h *WorkflowHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := PathID(r.URL.Path, "/workflow/status/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	job, err := h.manager.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}

	resp := map[string]interface{}{
		"job_id":       job.ID,
		"status":       string(job.Status),
		"progress_pct": job.Progress * 100,
		"current_step": job.CurrentStep,
		"created_at":   job.CreatedAt,
	}
	if job.StartedAt != nil {
		resp["started_at"] = job.StartedAt
	}
	if job.CompletedAt != nil {
		resp["completed_at"] = job.CompletedAt
	}
	if job.Status.IsTerminal() && job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}

	WriteJSON(w, http.StatusOK, resp)
}

// ResultHandler handles GET /workflow/result/{id}. The response code follows
// the job status: 202 while the job is in flight, 500 for failures, 200 with
// the extraction for successes.
func (h *WorkflowHandler) ResultHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := PathID(r.URL.Path, "/workflow/result/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	job, err := h.manager.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}

	switch job.Status {
	case models.JobStatusQueued, models.JobStatusRunning, models.JobStatusNeedsSignoff:
		WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id":       job.ID,
			"status":       string(job.Status),
			"progress_pct": job.Progress * 100,
			"current_step": job.CurrentStep,
		})

	case models.JobStatusFailed:
		WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"job_id": job.ID,
			"status": string(job.Status),
			"error":  job.Error,
		})

	default: // SUCCEEDED, FINALIZED
		result := job.Result
		if result == nil {
			result = &models.WorkflowState{JobID: job.ID}
		}
		if result.ExtractedJSON.Triples == nil {
			result.ExtractedJSON.Triples = []models.Claim{}
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": job.ID,
			"status": string(job.Status),
			"result": result,
		})
	}
}

type resumeRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve approve_reframing reject"`
}

// ResumeHandler handles POST /workflow/resume/{id}. Records a signoff
// decision for a NEEDS_SIGNOFF job and re-enters the workflow from its
// checkpoint.
func (h *WorkflowHandler) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	jobID := PathID(r.URL.Path, "/workflow/resume/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	var req resumeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "decision must be \"approve\", \"approve_reframing\" or \"reject\"")
		return
	}
	decision := req.Decision
	if decision == "approve_reframing" {
		decision = workflow.SignoffApprove
	}

	job, err := h.manager.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}
	if job.Status != models.JobStatusNeedsSignoff {
		WriteError(w, http.StatusConflict, "job is "+string(job.Status)+", only NEEDS_SIGNOFF jobs can be resumed")
		return
	}

	if err := h.runner.Resume(r.Context(), jobID, decision); err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   jobID,
		"status":   string(models.JobStatusRunning),
		"decision": req.Decision,
	})
}
