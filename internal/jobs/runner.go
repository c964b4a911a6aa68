// -----------------------------------------------------------------------
// Job runner - one worker goroutine per admitted job. The runner owns the
// translation between engine outcomes and job statuses: interrupts become
// NEEDS_SIGNOFF, saturation defers the job for the sweeper, anything else
// is SUCCEEDED or FAILED.
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/workflow"
)

// deferredJob is a run pushed back by expert saturation, waiting for the
// sweeper to re-enter it after the backoff delay.
type deferredJob struct {
	state     models.WorkflowState
	notBefore time.Time
}

// Runner executes admitted jobs against the workflow engine
type Runner struct {
	manager *Manager
	engine  *workflow.Engine
	storage interfaces.StorageManager
	logger  arbor.ILogger
	emitter interfaces.Emitter

	retryDelay   time.Duration
	defaultRigor string

	mu       sync.Mutex
	deferred map[string]deferredJob

	wg sync.WaitGroup
}

// NewRunner wires a runner to the manager and engine
func NewRunner(manager *Manager, engine *workflow.Engine, storage interfaces.StorageManager, retryDelay time.Duration, defaultRigor string, logger arbor.ILogger, emitter interfaces.Emitter) *Runner {
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	if defaultRigor == "" {
		defaultRigor = string(models.RigorExploratory)
	}
	return &Runner{
		manager:      manager,
		engine:       engine,
		storage:      storage,
		logger:       logger,
		emitter:      emitter,
		retryDelay:   retryDelay,
		defaultRigor: defaultRigor,
		deferred:     make(map[string]deferredJob),
	}
}

// Dispatch tries to admit a QUEUED job. Without a free slot the job simply
// stays QUEUED and the sweeper picks it up later.
func (r *Runner) Dispatch(ctx context.Context, job *models.Job) bool {
	if !r.manager.AcquireSlot() {
		r.logger.Info().Str("job_id", job.ID).Msg("All job slots busy, job stays queued")
		return false
	}

	state, err := r.buildState(ctx, job)
	if err != nil {
		r.manager.ReleaseSlot()
		r.failJob(job.ID, fmt.Sprintf("prepare workflow state: %v", err))
		return true
	}

	if err := r.manager.UpdateStatus(ctx, job.ID, models.JobStatusRunning, "starting", 0.05, ""); err != nil {
		r.manager.ReleaseSlot()
		r.failJob(job.ID, err.Error())
		return true
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.manager.ReleaseSlot()
		r.execute(job.ID, state)
	}()
	return true
}

// Resume records a signoff decision for a NEEDS_SIGNOFF job and re-enters
// the workflow from its checkpoint.
func (r *Runner) Resume(ctx context.Context, jobID, decision string) error {
	job, err := r.manager.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusNeedsSignoff {
		return fmt.Errorf("job %s is %s, only NEEDS_SIGNOFF jobs can be resumed", jobID, job.Status)
	}

	if !r.manager.AcquireSlot() {
		return fmt.Errorf("no job slot available, retry shortly")
	}
	if err := r.manager.UpdateStatus(ctx, jobID, models.JobStatusRunning, "resuming", -1, ""); err != nil {
		r.manager.ReleaseSlot()
		return err
	}

	threadID := job.ID
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.manager.ReleaseSlot()
		r.executeResume(threadID, jobID, decision)
	}()
	return nil
}

// Sweep re-enters deferred runs whose backoff elapsed, then admits QUEUED
// jobs while slots remain. Called by the cron sweeper.
func (r *Runner) Sweep(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	var ready []deferredJob
	for id, d := range r.deferred {
		if now.After(d.notBefore) {
			ready = append(ready, d)
			delete(r.deferred, id)
		}
	}
	r.mu.Unlock()

	for _, d := range ready {
		d := d
		if !r.manager.AcquireSlot() {
			r.remember(d.state, 0) // back in the pool, eligible immediately
			continue
		}
		if err := r.manager.UpdateStatus(ctx, d.state.JobID, models.JobStatusRunning, "re-entering after backoff", -1, ""); err != nil {
			r.manager.ReleaseSlot()
			r.logger.Warn().Err(err).Str("job_id", d.state.JobID).Msg("Deferred re-entry failed")
			continue
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.manager.ReleaseSlot()
			r.execute(d.state.JobID, d.state)
		}()
	}

	queued, err := r.storage.JobStorage().ListJobs(ctx, &interfaces.JobListOptions{Status: string(models.JobStatusQueued)})
	if err != nil {
		r.logger.Warn().Err(err).Msg("Queued-job scan failed")
		return
	}
	for _, job := range queued {
		if !r.Dispatch(ctx, job) {
			return // slots exhausted
		}
	}
}

// DeferredCount reports how many runs are waiting out a backoff
func (r *Runner) DeferredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deferred)
}

// Wait blocks until all in-flight workers finish. Used on shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) execute(jobID string, state models.WorkflowState) {
	ctx := context.Background()

	defer func() {
		if rec := recover(); rec != nil {
			r.failJob(jobID, fmt.Sprintf("workflow panicked: %v", rec))
		}
	}()

	final, err := r.engine.Run(ctx, state)
	r.settle(ctx, jobID, final, err)
}

func (r *Runner) executeResume(threadID, jobID, decision string) {
	ctx := context.Background()

	defer func() {
		if rec := recover(); rec != nil {
			r.failJob(jobID, fmt.Sprintf("workflow panicked: %v", rec))
		}
	}()

	final, err := r.engine.Resume(ctx, threadID, decision)
	if errors.Is(err, workflow.ErrSignoffRejected) {
		if setErr := r.manager.SetResult(ctx, jobID, &final); setErr != nil {
			r.logger.Warn().Err(setErr).Str("job_id", jobID).Msg("Result persist failed")
		}
		r.failJob(jobID, "signoff rejected")
		return
	}
	r.settle(ctx, jobID, final, err)
}

// settle maps an engine outcome onto the job record
func (r *Runner) settle(ctx context.Context, jobID string, final models.WorkflowState, err error) {
	switch {
	case err == nil:
		if setErr := r.manager.SetResult(ctx, jobID, &final); setErr != nil {
			r.logger.Warn().Err(setErr).Str("job_id", jobID).Msg("Result persist failed")
		}
		if upErr := r.manager.UpdateStatus(ctx, jobID, models.JobStatusSucceeded, "done", 1.0, ""); upErr != nil {
			r.logger.Warn().Err(upErr).Str("job_id", jobID).Msg("Success transition failed")
		}

	case errors.Is(err, workflow.ErrNeedsSignoff):
		step := "awaiting human review"
		if final.ReframingProposalID != "" {
			step = "awaiting reframing signoff"
		}
		if setErr := r.manager.SetResult(ctx, jobID, &final); setErr != nil {
			r.logger.Warn().Err(setErr).Str("job_id", jobID).Msg("Result persist failed")
		}
		if upErr := r.manager.UpdateStatus(ctx, jobID, models.JobStatusNeedsSignoff, step, -1, ""); upErr != nil {
			r.logger.Warn().Err(upErr).Str("job_id", jobID).Msg("Signoff transition failed")
		}

	case errors.Is(err, workflow.ErrRetryLater):
		r.remember(final, r.retryDelay)
		if upErr := r.manager.UpdateStatus(ctx, jobID, models.JobStatusRunning, "waiting for expert capacity", -1, ""); upErr != nil {
			r.logger.Warn().Err(upErr).Str("job_id", jobID).Msg("Deferral step update failed")
		}
		r.logger.Info().
			Str("job_id", jobID).
			Dur("retry_delay", r.retryDelay).
			Msg("Expert saturated, job deferred")

	default:
		r.failJob(jobID, err.Error())
	}
}

func (r *Runner) remember(state models.WorkflowState, delay time.Duration) {
	r.mu.Lock()
	r.deferred[state.JobID] = deferredJob{state: state, notBefore: time.Now().Add(delay)}
	r.mu.Unlock()
}

func (r *Runner) failJob(jobID, message string) {
	ctx := context.Background()
	if err := r.manager.UpdateStatus(ctx, jobID, models.JobStatusFailed, "failed", -1, message); err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("Failure transition failed")
	}
	if r.emitter != nil {
		r.emitter.EmitEvent("job_failed", map[string]any{"job_id": jobID, "error": message})
	}
}

// buildState assembles the workflow input from the job's initial snapshot,
// hydrating the project context from the store.
func (r *Runner) buildState(ctx context.Context, job *models.Job) (models.WorkflowState, error) {
	initial := job.InitialState
	if initial == nil {
		return models.WorkflowState{}, fmt.Errorf("job %s has no initial state", job.ID)
	}

	project, err := r.storage.ProjectStorage().GetProject(ctx, initial.ProjectID)
	if err != nil {
		return models.WorkflowState{}, fmt.Errorf("project %s: %w", initial.ProjectID, err)
	}

	pc := project.Context()
	if initial.RigorLevel != "" {
		pc.RigorLevel = initial.RigorLevel
	} else if pc.RigorLevel == "" {
		pc.RigorLevel = r.defaultRigor
	}

	return models.WorkflowState{
		JobID:               job.ID,
		ThreadID:            job.ID,
		ProjectID:           initial.ProjectID,
		IngestionID:         initial.IngestionID,
		RawText:             initial.RawText,
		ImagePaths:          initial.ImagePaths,
		PDFPath:             initial.PDFPath,
		DocHash:             initial.DocHash,
		ProjectContext:      pc,
		ReferenceIDs:        initial.ReferenceIDs,
		ForceRefreshContext: initial.ForceRefreshContext,
		Phase:               models.PhaseIngesting,
	}, nil
}
