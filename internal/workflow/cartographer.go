// -----------------------------------------------------------------------
// Cartographer node - claim extraction from raw text. Context is layered
// in priority order: trusted external facts, canonical project knowledge
// for the entities mentioned in the text, then document chunks retrieved
// per research question from the vector store.
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/prompts"
)

// entityCandidateCap bounds the canonical-knowledge lookup
const entityCandidateCap = 20

// Capitalized multi-word spans are the entity candidates for canonical lookup
var entityPattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9-]*(?: [A-Z][A-Za-z0-9-]*)+\b`)

// Cartographer extracts subject-predicate-object triples from the source
// text, replacing any triples a previous revision produced.
type Cartographer struct {
	deps *Deps
}

func NewCartographer(deps *Deps) *Cartographer {
	return &Cartographer{deps: deps}
}

func (n *Cartographer) Name() string { return llm.NodeCartographer }

// cartographerContext is the assembled framing for one extraction run
type cartographerContext struct {
	prompt *PromptContext
	flags  []string          // conflict flags raised while reconciling layers
	rqOf   map[string]string // chunk id -> research question label
}

func (n *Cartographer) Run(ctx context.Context, state models.WorkflowState) (models.StateUpdate, error) {
	var update models.StateUpdate

	switch n.deps.Gateway.CheckBackpressure(ctx, n.Name()) {
	case interfaces.BackpressureRetryLater:
		return update, ErrRetryLater
	case interfaces.BackpressureDelay:
		select {
		case <-time.After(n.deps.BackpressureDelay):
		case <-ctx.Done():
			return update, ctx.Err()
		}
	}

	cc, err := n.buildContext(ctx, &state)
	if err != nil {
		return update, err
	}
	if len(cc.flags) > 0 {
		update.ConflictFlags = models.StringsPtr(mergeUnique(state.ConflictFlags, cc.flags))
	}

	template, use := n.deps.Prompts.GetActivePromptWithMeta(ctx, prompts.NameCartographer, prompts.DefaultCartographerPrompt, "")
	prompt := WrapPrompt(template, cc.prompt)
	prompt = n.deps.Guard.ApplyConstraints(prompt)

	if state.Critiques != nil && state.RevisionCount > 0 {
		prompt += "\n\n## REVISION NOTES\nA reviewer rejected the previous extraction. Address these findings:\n"
		for _, critique := range lastCritiques(state.Critiques, 10) {
			prompt += "- " + critique + "\n"
		}
	}

	messages := []interfaces.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: state.RawText},
	}

	update.Phase = models.PhaseMapping
	update.PromptManifest = map[string]models.PromptUse{prompts.NameCartographer: use}

	content, meta, err := n.deps.Gateway.Chat(ctx, n.Name(), messages, interfaces.ChatOptions{JSONResponse: true})
	if err != nil {
		// The critic rejects an empty extraction; the revision loop,
		// not the job, absorbs the outage.
		n.deps.Logger.Warn().Err(err).Str("job_id", state.JobID).Msg("Cartographer expert call failed, passing empty extraction downstream")
		update.ReplaceTriples = models.ClaimsPtr([]models.Claim{})
		update.Messages = []string{"cartographer expert call failed: " + err.Error()}
		return update, nil
	}

	triples, err := ParseExtraction(content, state.ProjectID, state.IngestionID, state.DocHash)
	if err != nil {
		n.deps.Logger.Warn().Err(err).Str("job_id", state.JobID).Msg("Cartographer output unusable, passing empty extraction downstream")
		update.ReplaceTriples = models.ClaimsPtr([]models.Claim{})
		update.Messages = []string{"cartographer output unusable: " + err.Error()}
		return update, nil
	}
	triples = anchorFromChunks(triples, cc, state.DocHash)

	n.deps.Logger.Info().
		Str("job_id", state.JobID).
		Int("triples", len(triples)).
		Str("expert", meta.ExpertName).
		Str("path", meta.Path).
		Msg("Cartographer extraction complete")

	update.ReplaceTriples = models.ClaimsPtr(triples)
	update.Messages = []string{fmt.Sprintf("cartographer extracted %d triples", len(triples))}
	return update, nil
}

// buildContext assembles the framing injected into the extraction prompt.
// Trusted external facts win over canonical knowledge: a canonical claim
// contradicting an external fact on (subject, predicate) is dropped and a
// conflict flag records the drop.
func (n *Cartographer) buildContext(ctx context.Context, state *models.WorkflowState) (*cartographerContext, error) {
	cc := &cartographerContext{
		prompt: &PromptContext{Project: state.ProjectContext},
		rqOf:   make(map[string]string),
	}

	knowledge := n.deps.Storage.KnowledgeStorage()

	for _, refID := range state.ReferenceIDs {
		ref, err := knowledge.GetExternalReference(ctx, refID)
		if err != nil {
			n.deps.Logger.Warn().Err(err).Str("reference_id", refID).Msg("External reference unavailable")
			continue
		}
		cc.prompt.ExternalFacts = append(cc.prompt.ExternalFacts, ref.Facts...)
	}

	if !state.ForceRefreshContext {
		entities := entityCandidates(state.RawText)
		if len(entities) > 0 {
			canonical, err := knowledge.GetCanonicalByEntities(ctx, state.ProjectID, entities)
			if err != nil {
				return nil, fmt.Errorf("load canonical knowledge: %w", err)
			}
			cc.prompt.CanonicalClaims, cc.flags = reconcileCanonical(canonical, cc.prompt.ExternalFacts)
		}
	}

	n.retrieveChunks(ctx, state, cc)
	return cc, nil
}

// retrieveChunks pulls the top-K chunks per research question, scoped by
// project and ingestion. Retrieval failures degrade the context instead of
// failing the run.
func (n *Cartographer) retrieveChunks(ctx context.Context, state *models.WorkflowState, cc *cartographerContext) {
	if n.deps.Vector == nil || state.ProjectContext == nil || state.IngestionID == "" {
		return
	}

	for i, rq := range state.ProjectContext.ResearchQuestions {
		label := fmt.Sprintf("RQ%d", i+1)
		chunks, err := n.deps.Vector.Search(ctx, rq, interfaces.VectorSearchOptions{
			ProjectID:   state.ProjectID,
			IngestionID: state.IngestionID,
			TopK:        n.deps.TopK,
		})
		if err != nil {
			n.deps.Logger.Warn().Err(err).Str("rq", label).Msg("Chunk retrieval failed, continuing without")
			continue
		}
		for _, chunk := range chunks {
			if _, seen := cc.rqOf[chunk.ID]; seen {
				continue
			}
			cc.rqOf[chunk.ID] = label
			cc.prompt.Chunks = append(cc.prompt.Chunks, chunk)
		}
	}
}

// reconcileCanonical drops canonical claims that contradict a trusted
// external fact on the same normalized (subject, predicate) and records one
// conflict flag per drop.
func reconcileCanonical(canonical, external []models.Claim) ([]models.Claim, []string) {
	if len(external) == 0 {
		return canonical, nil
	}

	factObjects := make(map[string]string, len(external))
	for _, f := range external {
		factObjects[claimKey(f)] = strings.ToLower(foldSpace(f.Object))
	}

	kept := make([]models.Claim, 0, len(canonical))
	var flags []string
	for _, c := range canonical {
		if obj, ok := factObjects[claimKey(c)]; ok && obj != strings.ToLower(foldSpace(c.Object)) {
			flags = append(flags, fmt.Sprintf("external fact overrides canonical %q %q", c.Subject, c.Predicate))
			continue
		}
		kept = append(kept, c)
	}
	return kept, flags
}

// mergeUnique appends the extra strings not already present, preserving order
func mergeUnique(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := append([]string{}, existing...)
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	return merged
}

func claimKey(c models.Claim) string {
	return strings.ToLower(foldSpace(c.Subject)) + "|" + strings.ToLower(foldSpace(c.Predicate))
}

// anchorFromChunks backfills source anchors from the retrieved chunk whose
// text carries the claim. A matched chunk also supplies the research
// question label when the model returned none, and the claim id is
// recomputed against the anchored page.
func anchorFromChunks(triples []models.Claim, cc *cartographerContext, docHash string) []models.Claim {
	if len(cc.prompt.Chunks) == 0 {
		return triples
	}

	for i := range triples {
		c := &triples[i]
		if c.SourceAnchor != nil && c.SourceAnchor.PageNumber >= 1 {
			continue
		}
		chunk := matchingChunk(c, cc.prompt.Chunks)
		if chunk == nil {
			continue
		}

		hash := chunk.Payload.FileHash
		if hash == "" {
			hash = docHash
		}
		c.SourceAnchor = &models.SourceAnchor{
			DocHash:    hash,
			PageNumber: chunk.Payload.PageNumber,
			BBox:       chunk.Payload.BBox,
			Span:       chunk.Payload.Span,
			Snippet:    c.ClaimText,
		}
		if len(c.RQHits) == 0 {
			if label, ok := cc.rqOf[chunk.ID]; ok {
				c.RQHits = []string{label}
			}
		}
		c.ID = common.ClaimID(c.Subject, c.Predicate, c.Object, hash, chunk.Payload.PageNumber)
	}
	return triples
}

// matchingChunk finds the first retrieved chunk whose text carries the
// claim text, or failing that both the subject and the object.
func matchingChunk(c *models.Claim, chunks []models.DocumentChunk) *models.DocumentChunk {
	text := strings.ToLower(foldSpace(c.ClaimText))
	subject := strings.ToLower(c.Subject)
	object := strings.ToLower(c.Object)

	for i := range chunks {
		haystack := strings.ToLower(foldSpace(chunks[i].Text))
		if text != "" && strings.Contains(haystack, text) {
			return &chunks[i]
		}
		if strings.Contains(haystack, subject) && strings.Contains(haystack, object) {
			return &chunks[i]
		}
	}
	return nil
}

// entityCandidates collects capitalized multi-word spans from the raw text
// as canonical-lookup candidates, capped and deduplicated in order.
func entityCandidates(rawText string) []string {
	seen := make(map[string]bool)
	var entities []string
	for _, span := range entityPattern.FindAllString(rawText, -1) {
		if seen[span] {
			continue
		}
		seen[span] = true
		entities = append(entities, span)
		if len(entities) == entityCandidateCap {
			break
		}
	}
	return entities
}

// entitiesFromState collects entity strings from the current triples,
// used by the critic to pull canonical knowledge for comparison.
func entitiesFromState(state *models.WorkflowState) []string {
	seen := make(map[string]bool)
	var entities []string
	for _, t := range state.ExtractedJSON.Triples {
		for _, e := range []string{t.Subject, t.Object} {
			if e != "" && !seen[e] {
				seen[e] = true
				entities = append(entities, e)
			}
		}
	}
	return entities
}

// lastCritiques returns the tail of the critique list
func lastCritiques(critiques []string, n int) []string {
	if len(critiques) <= n {
		return critiques
	}
	return critiques[len(critiques)-n:]
}

// marshalClaims renders claims as a JSON block for prompt injection
func marshalClaims(claims []models.Claim) string {
	data, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}
