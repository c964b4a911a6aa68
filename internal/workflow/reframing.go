// -----------------------------------------------------------------------
// Reframing node - deadlock escape hatch. The proposal is assembled
// deterministically from the conflict report so the same deadlock always
// yields the same pivot; the job then pauses for human signoff.
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/models"
)

type Reframing struct {
	deps *Deps
}

func NewReframing(deps *Deps) *Reframing {
	return &Reframing{deps: deps}
}

func (n *Reframing) Name() string { return llm.NodeReframing }

func (n *Reframing) Run(ctx context.Context, state models.WorkflowState) (models.StateUpdate, error) {
	var update models.StateUpdate

	report := state.ConflictReport
	if report == nil {
		return update, fmt.Errorf("reframing requires a conflict report")
	}

	proposal := buildProposal(&state, report)
	if err := n.deps.Storage.ConflictStorage().SaveProposal(ctx, proposal); err != nil {
		return update, fmt.Errorf("persist reframing proposal: %w", err)
	}

	n.deps.Logger.Warn().
		Str("job_id", state.JobID).
		Str("proposal_id", proposal.ID).
		Str("pivot_type", string(proposal.PivotType)).
		Msg("Deadlock declared, reframing proposal recorded")

	update.ReframingID = models.StringPtr(proposal.ID)
	update.NeedsSignoff = models.BoolPtr(true)
	update.Messages = []string{fmt.Sprintf("reframing proposed (%s pivot), awaiting signoff", proposal.PivotType)}
	return update, nil
}

// buildProposal derives the pivot from the dominant conflict type:
// contradictions attack the thesis, missing evidence attacks the method,
// structural conflicts attack the scope.
func buildProposal(state *models.WorkflowState, report *models.ConflictReport) *models.ReframingProposal {
	counts := make(map[models.ConflictItemType]int)
	var anchors []models.SourceAnchor
	var assumptions []string
	for _, item := range report.Items {
		counts[item.Type]++
		anchors = append(anchors, item.EvidenceAnchors...)
		if item.Severity == models.SeverityBlocker {
			assumptions = append(assumptions, item.Summary)
		}
	}

	pivot := models.PivotScope
	switch {
	case counts[models.ConflictContradiction] >= counts[models.ConflictMissingEvidence] &&
		counts[models.ConflictContradiction] >= counts[models.ConflictStructural] &&
		counts[models.ConflictContradiction] > 0:
		pivot = models.PivotThesis
	case counts[models.ConflictMissingEvidence] >= counts[models.ConflictStructural] &&
		counts[models.ConflictMissingEvidence] > 0:
		pivot = models.PivotMethodology
	}

	var proposed, rationale string
	thesis := ""
	if state.ProjectContext != nil {
		thesis = state.ProjectContext.Thesis
	}
	switch pivot {
	case models.PivotThesis:
		proposed = "Weaken the thesis to accommodate the contradicting evidence, or split it into the supported and contested parts."
		rationale = fmt.Sprintf("Repeated revisions cannot reconcile the evidence with the thesis %q; the contradictions are in the sources, not the extraction.", thesis)
	case models.PivotMethodology:
		proposed = "Change the evidence-gathering method: the current sources cannot anchor the core claims."
		rationale = "The blocking findings are missing-evidence items that survived revision; more extraction passes over the same sources will not produce anchors that are not there."
	default:
		proposed = "Narrow the scope to the research questions the evidence actually supports."
		rationale = "The structural conflicts indicate the framing asks more of the sources than they contain."
	}

	whatStaysTrue := []string{"Claims with verified anchors remain valid under any pivot."}
	if len(assumptions) == 0 {
		assumptions = []string{"The current framing can be completed from the current sources."}
	}

	return &models.ReframingProposal{
		ID:                     common.NewProposalID(),
		ProjectID:              state.ProjectID,
		JobID:                  state.JobID,
		DocHash:                state.DocHash,
		ConflictHash:           report.ConflictHash,
		PivotType:              pivot,
		ProposedPivot:          proposed,
		ArchitecturalRationale: rationale,
		EvidenceAnchors:        anchors,
		AssumptionsChanged:     dedupeStrings(assumptions),
		WhatStaysTrue:          whatStaysTrue,
		RequiresHumanSignoff:   true,
		CreatedAt:              time.Now().UTC(),
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		key := strings.TrimSpace(s)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}
