// -----------------------------------------------------------------------
// Critic node - deterministic validation plus model review. The critic
// never invents evidence: the evidence gate, contradiction detector and
// vocabulary scan run locally and their findings are merged with the
// model's, then the verdict and conflict report are derived from the
// combined item list.
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/prompts"
	"github.com/loomworks/loom/internal/validation"
)

// Conservative rigor pauses for a human above this many contradictions
const contradictionReviewThreshold = 3

type Critic struct {
	deps *Deps
}

func NewCritic(deps *Deps) *Critic {
	return &Critic{deps: deps}
}

func (n *Critic) Name() string { return llm.NodeCritic }

func (n *Critic) Run(ctx context.Context, state models.WorkflowState) (models.StateUpdate, error) {
	var update models.StateUpdate
	update.Phase = models.PhaseVetting

	switch n.deps.Gateway.CheckBackpressure(ctx, n.Name()) {
	case interfaces.BackpressureRetryLater:
		update.CriticStatus = models.StringPtr(models.CriticRetryLater)
		return update, ErrRetryLater
	case interfaces.BackpressureDelay:
		select {
		case <-time.After(n.deps.BackpressureDelay):
		case <-ctx.Done():
			return update, ctx.Err()
		}
	}

	rigor := rigorOf(state.ProjectContext)

	// An empty extraction can never pass. Reject it without spending a
	// review call; the revision loop sends it back to the cartographer.
	if len(state.ExtractedJSON.Triples) == 0 {
		n.fail(ctx, &update, &state, []models.ConflictItem{{
			Type:     models.ConflictStructural,
			Severity: models.SeverityBlocker,
			Producer: models.ProducerCritic,
			Summary:  "extraction produced no triples",
		}}, 0, rigor)
		return update, nil
	}

	// Garbled extraction prose is rejected the same way
	if llm.IsGarbled(claimProse(state.ExtractedJSON.Triples)) {
		n.fail(ctx, &update, &state, []models.ConflictItem{{
			Type:     models.ConflictStructural,
			Severity: models.SeverityBlocker,
			Producer: models.ProducerCritic,
			Summary:  "extraction output is garbled",
		}}, 0, rigor)
		return update, nil
	}

	var items []models.ConflictItem

	// Conflicts recorded while the extraction context was assembled
	for _, flag := range state.ConflictFlags {
		items = append(items, models.ConflictItem{
			Type:     models.ConflictContradiction,
			Severity: models.SeverityHigh,
			Producer: models.ProducerCritic,
			Summary:  "context conflict: " + flag,
		})
	}

	// Evidence gate
	pageLookup := n.deps.PageLookup(ctx)
	passed, evidenceIssues := validation.PartitionEvidence(state.ExtractedJSON.Triples, rigor, pageLookup)
	for _, issue := range evidenceIssues {
		severity := models.SeverityMedium
		if issue.Hard {
			severity = models.SeverityBlocker
		}
		items = append(items, models.ConflictItem{
			Type:                models.ConflictMissingEvidence,
			Severity:            severity,
			Producer:            models.ProducerCritic,
			Summary:             fmt.Sprintf("%s: %s", issue.Field, issue.Message),
			ContradictingClaims: []string{issue.ClaimID},
		})
	}

	// Contradictions within the extraction and against verified knowledge
	comparison := passed
	if canonical, err := n.deps.Storage.KnowledgeStorage().GetCanonicalByEntities(ctx, state.ProjectID, entitiesFromState(&state)); err == nil {
		comparison = append(append([]models.Claim{}, passed...), canonical...)
	}
	contradictions := validation.DetectContradictions(comparison)
	items = append(items, contradictions...)

	// Vocabulary scan over claim prose
	for _, claim := range passed {
		if hits := n.deps.Guard.Scan(claim.ClaimText); len(hits) > 0 {
			items = append(items, models.ConflictItem{
				Type:                models.ConflictAmbiguous,
				Severity:            models.SeverityInfo,
				Producer:            models.ProducerCritic,
				Summary:             fmt.Sprintf("claim text uses flagged vocabulary: %v", hits),
				ContradictingClaims: []string{claim.ID},
			})
		}
	}

	// Research-question labels the project does not define are advisory
	if labels := researchQuestionLabels(state.ProjectContext); len(labels) > 0 {
		for _, claim := range passed {
			for _, hit := range claim.RQHits {
				if !labels[hit] {
					items = append(items, models.ConflictItem{
						Type:                models.ConflictAmbiguous,
						Severity:            models.SeverityMedium,
						Producer:            models.ProducerCritic,
						Summary:             fmt.Sprintf("claim references unknown research question %q", hit),
						ContradictingClaims: []string{claim.ID},
					})
				}
			}
		}
	}

	// Model review on top of the deterministic findings. A review outage
	// is a finding, not a node failure: the claims stay unvetted.
	use, modelItems, err := n.modelReview(ctx, &state, passed)
	if err != nil {
		n.deps.Logger.Warn().Err(err).Str("job_id", state.JobID).Msg("Critic model review unavailable")
		items = append(items, models.ConflictItem{
			Type:     models.ConflictStructural,
			Severity: models.SeverityHigh,
			Producer: models.ProducerCritic,
			Summary:  "model review unavailable: " + err.Error(),
		})
	}
	items = append(items, modelItems...)

	update.PromptManifest = map[string]models.PromptUse{prompts.NameCritic: use}

	// Verdict
	blocking := 0
	for _, item := range items {
		if item.Severity == models.SeverityHigh || item.Severity == models.SeverityBlocker {
			blocking++
		}
	}

	if blocking == 0 {
		update.CriticStatus = models.StringPtr(models.CriticPass)
		update.ConflictDetected = models.BoolPtr(false)
		update.Messages = []string{fmt.Sprintf("critic passed %d claims (%d advisory findings)", len(passed), len(items))}
		return update, nil
	}

	n.fail(ctx, &update, &state, items, len(contradictions), rigor)
	return update, nil
}

// fail fills the update for a rejected extraction: the immutable conflict
// report, the accumulated critiques and the incremented revision counter.
func (n *Critic) fail(ctx context.Context, update *models.StateUpdate, state *models.WorkflowState, items []models.ConflictItem, contradictionCount int, rigor models.RigorLevel) {
	revision := state.RevisionCount + 1
	report := n.buildReport(state, items, revision)

	needsReview := rigor == models.RigorConservative && contradictionCount >= contradictionReviewThreshold
	if needsReview {
		report.NextStep = models.NextStepPauseForHuman
	}

	if err := n.deps.Storage.ConflictStorage().SaveReport(ctx, report); err != nil {
		n.deps.Logger.Warn().Err(err).Str("job_id", state.JobID).Msg("Conflict report persist failed")
	}

	blocking := 0
	critiques := make([]string, 0, len(items))
	for _, item := range items {
		if item.Severity == models.SeverityHigh || item.Severity == models.SeverityBlocker {
			blocking++
			critiques = append(critiques, item.Summary)
		}
	}

	n.deps.Logger.Warn().
		Str("job_id", state.JobID).
		Int("findings", len(items)).
		Int("blocking", blocking).
		Int("revision", revision).
		Str("next_step", string(report.NextStep)).
		Msg("Critic rejected extraction")

	update.CriticStatus = models.StringPtr(models.CriticFail)
	update.ConflictDetected = models.BoolPtr(true)
	update.NeedsHumanReview = models.BoolPtr(needsReview)
	update.ConflictReport = report
	update.ConflictReportID = models.StringPtr(report.ID)
	update.RevisionCount = models.IntPtr(revision)
	update.Critiques = critiques
	update.Messages = []string{fmt.Sprintf("critic rejected extraction with %d blocking findings", blocking)}
}

// modelReview asks the reasoning expert to critique the surviving claims
func (n *Critic) modelReview(ctx context.Context, state *models.WorkflowState, claims []models.Claim) (models.PromptUse, []models.ConflictItem, error) {
	template, use := n.deps.Prompts.GetActivePromptWithMeta(ctx, prompts.NameCritic, prompts.DefaultCriticPrompt, "")
	prompt := WrapPrompt(template, &PromptContext{Project: state.ProjectContext})

	messages := []interfaces.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: "Claims to review:\n" + marshalClaims(claims)},
	}

	content, _, err := n.deps.Gateway.Chat(ctx, n.Name(), messages, interfaces.ChatOptions{JSONResponse: true})
	if err != nil {
		return use, nil, fmt.Errorf("critic review: %w", err)
	}

	raw := extractJSONObject(content)
	if raw == "" {
		return use, nil, fmt.Errorf("critic returned no JSON verdict")
	}

	var verdict struct {
		Status   string `json:"status"`
		Findings []struct {
			Type     string   `json:"type"`
			Severity string   `json:"severity"`
			Summary  string   `json:"summary"`
			ClaimIDs []string `json:"claim_ids"`
		} `json:"findings"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return use, nil, fmt.Errorf("decode critic verdict: %w", err)
	}

	known := make(map[string]bool, len(claims))
	for _, c := range claims {
		known[c.ID] = true
	}

	var items []models.ConflictItem
	for _, f := range verdict.Findings {
		item := models.ConflictItem{
			Type:     conflictTypeOf(f.Type),
			Severity: severityOf(f.Severity),
			Producer: models.ProducerCritic,
			Summary:  f.Summary,
		}
		for _, id := range f.ClaimIDs {
			if known[id] {
				item.ContradictingClaims = append(item.ContradictingClaims, id)
			}
		}
		items = append(items, item)
	}
	return use, items, nil
}

func (n *Critic) buildReport(state *models.WorkflowState, items []models.ConflictItem, revision int) *models.ConflictReport {
	report := &models.ConflictReport{
		ID:            common.NewReportID(),
		ProjectID:     state.ProjectID,
		JobID:         state.JobID,
		DocHash:       state.DocHash,
		RevisionCount: revision,
		CriticStatus:  models.CriticFail,
		Items:         items,
		ConflictHash:  validation.ConflictHash(items),
		NextStep:      models.NextStepReviseAndRetry,
		CreatedAt:     time.Now().UTC(),
	}

	// Deadlock: repeated revisions with a blocker still standing
	if revision >= 2 && report.HasBlocker() {
		report.Deadlock = true
		report.DeadlockType = "persistent_blocker"
		report.NextStep = models.NextStepTriggerReframing
	}
	return report
}

// claimProse flattens the extraction into the prose the garble detector
// inspects.
func claimProse(claims []models.Claim) string {
	var b strings.Builder
	for _, c := range claims {
		b.WriteString(c.Subject)
		b.WriteString(" ")
		b.WriteString(c.Predicate)
		b.WriteString(" ")
		b.WriteString(c.Object)
		if c.ClaimText != "" {
			b.WriteString(" ")
			b.WriteString(c.ClaimText)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func rigorOf(pc *models.ProjectContext) models.RigorLevel {
	if pc != nil && models.RigorLevel(pc.RigorLevel).Valid() {
		return models.RigorLevel(pc.RigorLevel)
	}
	return models.RigorExploratory
}

func conflictTypeOf(s string) models.ConflictItemType {
	switch models.ConflictItemType(s) {
	case models.ConflictStructural, models.ConflictUnsupportedCore,
		models.ConflictMissingEvidence, models.ConflictAmbiguous, models.ConflictContradiction:
		return models.ConflictItemType(s)
	}
	return models.ConflictAmbiguous
}

func severityOf(s string) models.ConflictSeverity {
	switch models.ConflictSeverity(s) {
	case models.SeverityInfo, models.SeverityMedium, models.SeverityHigh, models.SeverityBlocker:
		return models.ConflictSeverity(s)
	}
	return models.SeverityInfo
}
