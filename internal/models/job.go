// -----------------------------------------------------------------------
// Job - Durable job record for one end-to-end processing run
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusQueued       JobStatus = "QUEUED"
	JobStatusRunning      JobStatus = "RUNNING"
	JobStatusSucceeded    JobStatus = "SUCCEEDED"
	JobStatusFailed       JobStatus = "FAILED"
	JobStatusFinalized    JobStatus = "FINALIZED"
	JobStatusNeedsSignoff JobStatus = "NEEDS_SIGNOFF"
)

// IsTerminal returns true for states that set completed_at
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusFinalized
}

// Valid returns true when s is a known status value
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded,
		JobStatusFailed, JobStatusFinalized, JobStatusNeedsSignoff:
		return true
	}
	return false
}

// CanTransitionTo enforces the status machine:
// QUEUED -> RUNNING -> {SUCCEEDED, FAILED, NEEDS_SIGNOFF};
// NEEDS_SIGNOFF -> RUNNING -> terminal; SUCCEEDED -> FINALIZED exactly once.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusSucceeded || next == JobStatusFailed || next == JobStatusNeedsSignoff
	case JobStatusNeedsSignoff:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusSucceeded:
		return next == JobStatusFinalized
	}
	return false
}

// JobInitialState is the full input snapshot captured at submission time.
type JobInitialState struct {
	RawText             string   `json:"raw_text"`
	ProjectID           string   `json:"project_id"`
	ImagePaths          []string `json:"image_paths,omitempty"`
	PDFPath             string   `json:"pdf_path,omitempty"`
	DocHash             string   `json:"doc_hash,omitempty"`
	IngestionID         string   `json:"ingestion_id,omitempty"`
	RigorLevel          string   `json:"rigor_level,omitempty"`
	IdempotencyKey      string   `json:"idempotency_key,omitempty"`
	ReferenceIDs        []string `json:"reference_ids,omitempty"`
	ForceRefreshContext bool     `json:"force_refresh_context,omitempty"`
	ReprocessReason     string   `json:"reprocess_reason,omitempty"`
}

// Job represents one end-to-end processing run.
type Job struct {
	ID          string `json:"id" badgerhold:"key"`
	ParentJobID string `json:"parent_job_id,omitempty"`
	JobVersion  int    `json:"job_version"` // 1 for originals, increments along the parent chain

	Status      JobStatus `json:"status"`
	Progress    float64   `json:"progress"` // [0.0, 1.0], monotonic outside NEEDS_SIGNOFF
	CurrentStep string    `json:"current_step,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	InitialState *JobInitialState `json:"initial_state,omitempty"`
	Result       *WorkflowState   `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`

	ProjectID      string `json:"project_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Attachments
	ConflictReportID    string `json:"conflict_report_id,omitempty"`
	ReframingProposalID string `json:"reframing_proposal_id,omitempty"`
	ArtifactManifestID  string `json:"artifact_manifest_id,omitempty"`
}

// MarkStarted transitions the job to RUNNING
func (j *Job) MarkStarted() {
	j.Status = JobStatusRunning
	now := time.Now().UTC()
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
}

// MarkSucceeded transitions the job to SUCCEEDED
func (j *Job) MarkSucceeded() {
	j.Status = JobStatusSucceeded
	j.Progress = 1.0
	now := time.Now().UTC()
	j.CompletedAt = &now
}

// MarkFailed transitions the job to FAILED with an error message
func (j *Job) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.Error = errMsg
	now := time.Now().UTC()
	j.CompletedAt = &now
}

// Validate checks structural job invariants
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("invalid job status: %s", j.Status)
	}
	if j.Progress < 0 || j.Progress > 1 {
		return fmt.Errorf("job progress out of range: %f", j.Progress)
	}
	if j.JobVersion < 1 {
		return fmt.Errorf("job version must be >= 1, got %d", j.JobVersion)
	}
	return nil
}
