// -----------------------------------------------------------------------
// Job manager - durable job records, status transitions, concurrency
// admission and idempotency. The persistent store is the system of record;
// a process-local map takes over transparently when the store is down.
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
)

// lineageDepthCap bounds the parent-chain walk when numbering reprocess runs
const lineageDepthCap = 10

// Manager owns job lifecycle: creation, admission, status transitions and
// lineage. Capacity for concurrently RUNNING jobs comes from a counting
// semaphore sized by config.
type Manager struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
	emitter interfaces.Emitter

	slots chan struct{}

	mu       sync.Mutex
	fallback map[string]*models.Job // used only when the store is unavailable
}

// NewManager builds a manager with the given number of job slots
func NewManager(storage interfaces.StorageManager, jobSlots int, logger arbor.ILogger, emitter interfaces.Emitter) *Manager {
	if jobSlots < 1 {
		jobSlots = 1
	}
	return &Manager{
		storage:  storage,
		logger:   logger,
		emitter:  emitter,
		slots:    make(chan struct{}, jobSlots),
		fallback: make(map[string]*models.Job),
	}
}

// AcquireSlot claims a job slot without blocking. False means all slots are
// busy and the job stays QUEUED for the sweeper.
func (m *Manager) AcquireSlot() bool {
	select {
	case m.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// ReleaseSlot frees a slot claimed by AcquireSlot
func (m *Manager) ReleaseSlot() {
	select {
	case <-m.slots:
	default:
	}
}

// CreateJob persists a new QUEUED job. When an idempotency key is supplied
// and a job with the same key already exists, that job is returned and
// nothing new is created.
func (m *Manager) CreateJob(ctx context.Context, initial *models.JobInitialState, parentJobID string) (*models.Job, error) {
	if initial == nil {
		return nil, fmt.Errorf("job requires an initial state")
	}
	if initial.ProjectID == "" {
		return nil, fmt.Errorf("job requires a project id")
	}

	if initial.IdempotencyKey != "" {
		existing, err := m.storage.JobStorage().FindByIdempotencyKey(ctx, initial.IdempotencyKey)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Idempotency lookup failed, creating a new job")
		} else if existing != nil {
			m.logger.Info().
				Str("job_id", existing.ID).
				Str("idempotency_key", initial.IdempotencyKey).
				Msg("Idempotent submit, returning existing job")
			return existing, nil
		}
	}

	job := &models.Job{
		ID:             common.NewJobID(),
		ParentJobID:    parentJobID,
		JobVersion:     1,
		Status:         models.JobStatusQueued,
		CreatedAt:      time.Now().UTC(),
		InitialState:   initial,
		ProjectID:      initial.ProjectID,
		IdempotencyKey: initial.IdempotencyKey,
	}
	if parentJobID != "" {
		job.JobVersion = m.jobVersion(ctx, parentJobID) + 1
	}

	m.saveJob(ctx, job)

	m.emit("job_created", map[string]any{
		"job_id":      job.ID,
		"project_id":  job.ProjectID,
		"job_version": job.JobVersion,
		"parent_id":   parentJobID,
	})
	return job, nil
}

// GetJob loads a job from the store, falling back to the local map
func (m *Manager) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := m.storage.JobStorage().GetJob(ctx, jobID)
	if err == nil {
		return job, nil
	}

	m.mu.Lock()
	cached, ok := m.fallback[jobID]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}
	return nil, err
}

// ListJobsByProject returns jobs for a project, newest first
func (m *Manager) ListJobsByProject(ctx context.Context, projectID string, limit int) ([]*models.Job, error) {
	return m.storage.JobStorage().ListJobs(ctx, &interfaces.JobListOptions{
		ProjectID: projectID,
		Limit:     limit,
	})
}

// UpdateStatus transitions a job through the status machine. Unknown job ids
// are tolerated as no-ops so memory and store can disagree briefly. Progress
// below zero leaves the stored value unchanged; progress is monotonic except
// while the job holds at NEEDS_SIGNOFF.
func (m *Manager) UpdateStatus(ctx context.Context, jobID string, status models.JobStatus, step string, progress float64, errMsg string) error {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		m.logger.Warn().Str("job_id", jobID).Str("status", string(status)).Msg("Status update for unknown job ignored")
		return nil
	}

	if job.Status != status && !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("invalid status transition %s -> %s for job %s", job.Status, status, jobID)
	}

	now := time.Now().UTC()
	switch status {
	case models.JobStatusRunning:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case models.JobStatusSucceeded, models.JobStatusFailed, models.JobStatusFinalized:
		if job.CompletedAt == nil {
			job.CompletedAt = &now
		}
	}

	job.Status = status
	if step != "" {
		job.CurrentStep = step
	}
	if errMsg != "" {
		job.Error = errMsg
	}
	if progress >= 0 && (progress > job.Progress || status == models.JobStatusNeedsSignoff) {
		job.Progress = progress
	}
	if status == models.JobStatusSucceeded {
		job.Progress = 1.0
	}

	m.saveJob(ctx, job)

	m.emit("job_status", map[string]any{
		"job_id":   jobID,
		"status":   string(status),
		"step":     step,
		"progress": job.Progress,
	})
	return nil
}

// SetResult stores the final workflow state and its attachment pointers
func (m *Manager) SetResult(ctx context.Context, jobID string, result *models.WorkflowState) error {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		m.logger.Warn().Str("job_id", jobID).Msg("Result for unknown job ignored")
		return nil
	}

	job.Result = result
	if result != nil {
		if result.ConflictReportID != "" {
			job.ConflictReportID = result.ConflictReportID
		}
		if result.ReframingProposalID != "" {
			job.ReframingProposalID = result.ReframingProposalID
		}
		for _, artifact := range result.Artifacts {
			if len(artifact) > 9 && artifact[:9] == "manifest:" {
				job.ArtifactManifestID = artifact[9:]
			}
		}
	}
	m.saveJob(ctx, job)
	return nil
}

// FinalizeJob transitions SUCCEEDED -> FINALIZED exactly once
func (m *Manager) FinalizeJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusFinalized {
		return nil, fmt.Errorf("job %s is already finalized", jobID)
	}
	if job.Status != models.JobStatusSucceeded {
		return nil, fmt.Errorf("only SUCCEEDED jobs can be finalized, job %s is %s", jobID, job.Status)
	}

	if err := m.UpdateStatus(ctx, jobID, models.JobStatusFinalized, "finalized", -1, ""); err != nil {
		return nil, err
	}
	return m.GetJob(ctx, jobID)
}

// jobVersion walks the parent chain to number a reprocess run. A cycle or a
// chain deeper than the cap yields the sentinel version 1.
func (m *Manager) jobVersion(ctx context.Context, jobID string) int {
	visited := make(map[string]bool)
	current := jobID

	for depth := 0; current != ""; depth++ {
		if depth >= lineageDepthCap || visited[current] {
			m.logger.Warn().
				Str("job_id", jobID).
				Int("depth", depth).
				Msg("Job lineage walk hit a cycle or the depth cap, using version 1")
			return 1
		}
		visited[current] = true

		job, err := m.GetJob(ctx, current)
		if err != nil {
			return 1
		}
		if job.ParentJobID == "" {
			if job.JobVersion > 0 {
				return job.JobVersion + depth
			}
			return 1 + depth
		}
		current = job.ParentJobID
	}
	return 1
}

// saveJob writes to the store, degrading to the local map on failure
func (m *Manager) saveJob(ctx context.Context, job *models.Job) {
	if err := m.storage.JobStorage().SaveJob(ctx, job); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Job store write failed, using memory fallback")
		m.mu.Lock()
		m.fallback[job.ID] = job
		m.mu.Unlock()
	}
}

func (m *Manager) emit(kind string, payload map[string]any) {
	if m.emitter != nil {
		m.emitter.EmitEvent(kind, payload)
	}
}
