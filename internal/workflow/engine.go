// -----------------------------------------------------------------------
// Workflow engine - node table, conditional routing, and checkpointing.
// State is checkpointed by thread_id after every node so an interrupted
// run resumes exactly where it paused.
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/validation"
	"github.com/ternarybob/arbor"
)

// Sentinel results a run can end with besides success and failure
var (
	// ErrRetryLater means the expert tier is saturated; re-enter the job
	// after the configured delay.
	ErrRetryLater = errors.New("expert saturated, retry later")

	// ErrNeedsSignoff means the run paused for a human decision.
	ErrNeedsSignoff = errors.New("workflow paused for human signoff")

	// ErrSignoffRejected means the human rejected the pending decision.
	ErrSignoffRejected = errors.New("signoff rejected")
)

// Signoff decisions accepted by Resume
const (
	SignoffApprove = "approve"
	SignoffReject  = "reject"
)

// Node is one workflow step. Nodes never mutate the input state; they
// return a partial update for the reducer.
type Node interface {
	Name() string
	Run(ctx context.Context, state models.WorkflowState) (models.StateUpdate, error)
}

// Deps carries everything nodes and the engine need
type Deps struct {
	Storage interfaces.StorageManager
	Gateway interfaces.ExpertGateway
	Prompts interfaces.PromptProvider
	Vector  interfaces.VectorStorage
	Guard   *validation.Guard
	Emitter interfaces.Emitter
	Logger  arbor.ILogger

	// PageLookup resolves cached page text for the evidence gate
	PageLookup func(ctx context.Context) validation.PageTextLookup

	// ArtifactsDir receives per-project copies of images sent to the
	// vision expert. Empty disables the copies.
	ArtifactsDir string

	MaxRevisions      int
	MaxImages         int
	TopK              int
	BackpressureDelay time.Duration
}

// Engine executes the node graph
type Engine struct {
	deps  *Deps
	nodes map[string]Node
}

// NewEngine builds the engine and its node table
func NewEngine(deps *Deps) *Engine {
	if deps.PageLookup == nil {
		deps.PageLookup = func(context.Context) validation.PageTextLookup { return nil }
	}
	nodes := map[string]Node{}
	for _, node := range []Node{
		NewCartographer(deps),
		NewVision(deps),
		NewCritic(deps),
		NewSynthesizer(deps),
		NewSaver(deps),
		NewReframing(deps),
	} {
		nodes[node.Name()] = node
	}
	return &Engine{deps: deps, nodes: nodes}
}

// Run executes a fresh workflow from the cartographer. On success the
// returned state has Phase DONE; ErrRetryLater and ErrNeedsSignoff leave a
// checkpoint behind, any other error cleans it up.
func (e *Engine) Run(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	return e.runFrom(ctx, state, llm.NodeCartographer)
}

// Resume continues a paused workflow from its checkpoint. An approval
// after a reframing proposal restarts extraction under the pivoted
// framing with the revision counter reset; an approval after a review
// pause proceeds to synthesis. A rejection ends the run.
func (e *Engine) Resume(ctx context.Context, threadID, decision string) (models.WorkflowState, error) {
	checkpoint, err := e.deps.Storage.CheckpointStorage().GetCheckpoint(ctx, threadID)
	if err != nil {
		return models.WorkflowState{}, fmt.Errorf("no resumable state for thread %s: %w", threadID, err)
	}
	state := *checkpoint

	if !state.NeedsSignoff && !state.NeedsHumanReview {
		return state, fmt.Errorf("thread %s is not paused", threadID)
	}

	switch decision {
	case SignoffReject:
		state.SignoffDecision = SignoffReject
		e.cleanupCheckpoint(ctx, threadID)
		return state, ErrSignoffRejected
	case SignoffApprove:
	default:
		return state, fmt.Errorf("unknown signoff decision %q", decision)
	}

	state.SignoffDecision = SignoffApprove

	start := llm.NodeSynthesizer
	if state.ReframingProposalID != "" {
		// Pivot approved: re-extract under the revised framing
		state.RevisionCount = 0
		state.Critiques = nil
		state.ConflictDetected = false
		state.CriticStatus = ""
		start = llm.NodeCartographer
	}
	state.NeedsSignoff = false
	state.NeedsHumanReview = false

	return e.runFrom(ctx, state, start)
}

func (e *Engine) runFrom(ctx context.Context, state models.WorkflowState, startNode string) (models.WorkflowState, error) {
	if state.ThreadID == "" {
		return state, fmt.Errorf("workflow state has no thread id")
	}

	current := startNode
	for current != "" {
		node, ok := e.nodes[current]
		if !ok {
			return state, fmt.Errorf("unknown workflow node %q", current)
		}

		e.emit("node_start", map[string]any{
			"job_id":    state.JobID,
			"node_name": current,
		})
		started := time.Now()

		update, err := node.Run(ctx, state)
		state = state.Apply(update)
		e.checkpoint(ctx, &state)

		e.emit("node_end", map[string]any{
			"job_id":      state.JobID,
			"node_name":   current,
			"duration_ms": time.Since(started).Milliseconds(),
			"success":     err == nil,
		})

		if err != nil {
			if errors.Is(err, ErrRetryLater) {
				e.emit("workflow_deferred", map[string]any{"job_id": state.JobID, "node_name": current})
				return state, err
			}
			e.deps.Logger.Error().Err(err).
				Str("job_id", state.JobID).
				Str("node", current).
				Msg("Workflow node failed")
			e.cleanupCheckpoint(ctx, state.ThreadID)
			e.emit("workflow_failed", map[string]any{"job_id": state.JobID, "node_name": current, "error": err.Error()})
			state.Error = err.Error()
			return state, err
		}

		next, routeErr := e.next(current, &state)
		if routeErr != nil {
			if errors.Is(routeErr, ErrNeedsSignoff) {
				e.emit("workflow_interrupt", map[string]any{"job_id": state.JobID, "node_name": current})
				return state, routeErr
			}
			e.cleanupCheckpoint(ctx, state.ThreadID)
			return state, routeErr
		}
		current = next
	}

	e.cleanupCheckpoint(ctx, state.ThreadID)
	e.emit("workflow_complete", map[string]any{"job_id": state.JobID})
	return state, nil
}

// next decides the node after current. An empty name ends the run.
func (e *Engine) next(current string, state *models.WorkflowState) (string, error) {
	switch current {
	case llm.NodeCartographer:
		if len(state.ImagePaths) > 0 {
			return llm.NodeVision, nil
		}
		return llm.NodeCritic, nil

	case llm.NodeVision:
		return llm.NodeCritic, nil

	case llm.NodeCritic:
		switch state.CriticStatus {
		case models.CriticPass:
			return llm.NodeSynthesizer, nil
		case models.CriticFail:
			if state.ConflictReport != nil && state.ConflictReport.NextStep == models.NextStepTriggerReframing {
				return llm.NodeReframing, nil
			}
			if state.NeedsHumanReview {
				return "", ErrNeedsSignoff
			}
			if state.RevisionCount >= e.deps.MaxRevisions {
				return llm.NodeReframing, nil
			}
			return llm.NodeCartographer, nil
		}
		return "", fmt.Errorf("critic ended with status %q", state.CriticStatus)

	case llm.NodeSynthesizer:
		return llm.NodeSaver, nil

	case llm.NodeSaver:
		return "", nil

	case llm.NodeReframing:
		return "", ErrNeedsSignoff
	}
	return "", fmt.Errorf("no route from node %q", current)
}

func (e *Engine) checkpoint(ctx context.Context, state *models.WorkflowState) {
	if err := e.deps.Storage.CheckpointStorage().SaveCheckpoint(ctx, state.ThreadID, state); err != nil {
		e.deps.Logger.Warn().Err(err).Str("thread_id", state.ThreadID).Msg("Checkpoint save failed")
	}
}

func (e *Engine) cleanupCheckpoint(ctx context.Context, threadID string) {
	if err := e.deps.Storage.CheckpointStorage().DeleteCheckpoint(ctx, threadID); err != nil {
		e.deps.Logger.Warn().Err(err).Str("thread_id", threadID).Msg("Checkpoint cleanup failed")
	}
}

func (e *Engine) emit(kind string, payload map[string]any) {
	if e.deps.Emitter != nil {
		e.deps.Emitter.EmitEvent(kind, payload)
	}
}
