// -----------------------------------------------------------------------
// Synthesizer node - manuscript drafting with claim bindings
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/prompts"
	"github.com/loomworks/loom/internal/validation"
)

// bindingInstructionLimit caps how many claim ids are listed verbatim in
// the binding instruction; beyond it the model sees the full claim JSON
// anyway.
const bindingInstructionLimit = 20

type Synthesizer struct {
	deps *Deps
}

func NewSynthesizer(deps *Deps) *Synthesizer {
	return &Synthesizer{deps: deps}
}

func (n *Synthesizer) Name() string { return llm.NodeSynthesizer }

func (n *Synthesizer) Run(ctx context.Context, state models.WorkflowState) (models.StateUpdate, error) {
	var update models.StateUpdate
	update.Phase = models.PhaseSynthesizing

	claims := state.ExtractedJSON.Triples
	if len(claims) == 0 {
		return update, fmt.Errorf("nothing to synthesize: no verified claims")
	}

	template, use := n.deps.Prompts.GetActivePromptWithMeta(ctx, prompts.NameSynthesizer, prompts.DefaultSynthesizerPrompt, "")
	prompt := WrapPrompt(template, &PromptContext{Project: state.ProjectContext})
	prompt = n.deps.Guard.ApplyConstraints(prompt)
	prompt += bindingInstruction(claims)

	messages := []interfaces.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: "Claims:\n" + marshalClaims(claims)},
	}

	content, meta, err := n.deps.Gateway.Chat(ctx, n.Name(), messages, interfaces.ChatOptions{JSONResponse: true})
	if err != nil {
		return update, fmt.Errorf("synthesizer draft: %w", err)
	}

	blocks, err := n.parseBlocks(content, &state)
	if err != nil {
		return update, err
	}

	rigor := rigorOf(state.ProjectContext)
	known := make(map[string]bool, len(claims))
	for _, c := range claims {
		known[c.ID] = true
	}

	kept := make([]models.ManuscriptBlock, 0, len(blocks))
	var warnings []string
	for i := range blocks {
		block := &blocks[i]
		block.Content = n.deps.Guard.RewriteTone(block.Content)

		ok, problems := validation.ValidateBlockBindings(block, known, rigor)
		warnings = append(warnings, problems...)
		if !ok {
			return update, fmt.Errorf("citation integrity: %s", strings.Join(problems, "; "))
		}
		kept = append(kept, *block)
	}

	n.deps.Logger.Info().
		Str("job_id", state.JobID).
		Int("blocks", len(kept)).
		Str("expert", meta.ExpertName).
		Str("path", meta.Path).
		Msg("Synthesis complete")

	var synthesis strings.Builder
	for i, block := range kept {
		if i > 0 {
			synthesis.WriteString("\n\n")
		}
		synthesis.WriteString("## " + block.SectionTitle + "\n\n")
		synthesis.WriteString(block.Content)
	}

	update.ManuscriptBlocks = kept
	update.Synthesis = models.StringPtr(synthesis.String())
	update.PromptManifest = map[string]models.PromptUse{prompts.NameSynthesizer: use}
	update.Messages = append([]string{fmt.Sprintf("synthesizer drafted %d blocks", len(kept))}, warnings...)
	return update, nil
}

// bindingInstruction tells the drafter exactly which ids may be cited
func bindingInstruction(claims []models.Claim) string {
	ids := make([]string, 0, len(claims))
	for _, c := range claims {
		ids = append(ids, c.ID)
		if len(ids) == bindingInstructionLimit {
			break
		}
	}

	instruction := "\n\n## CLAIM BINDING\nCite only these claim ids, inline as [[claim_id]]: " + strings.Join(ids, ", ")
	if len(claims) > bindingInstructionLimit {
		instruction += fmt.Sprintf(" (and %d more listed in the claims JSON)", len(claims)-bindingInstructionLimit)
	}
	return instruction + "\nEvery factual sentence needs at least one binding.\n"
}

func (n *Synthesizer) parseBlocks(content string, state *models.WorkflowState) ([]models.ManuscriptBlock, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("synthesizer returned no JSON")
	}

	var parsed struct {
		Blocks []struct {
			SectionTitle string   `json:"section_title"`
			Content      string   `json:"content"`
			ClaimIDs     []string `json:"claim_ids"`
			CitationKeys []string `json:"citation_keys"`
		} `json:"blocks"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode synthesizer output: %w", err)
	}
	if len(parsed.Blocks) == 0 {
		return nil, fmt.Errorf("synthesizer produced no blocks")
	}

	blocks := make([]models.ManuscriptBlock, 0, len(parsed.Blocks))
	for i, b := range parsed.Blocks {
		if strings.TrimSpace(b.Content) == "" {
			continue
		}
		blocks = append(blocks, models.ManuscriptBlock{
			BlockID:      common.NewBlockID(),
			ProjectID:    state.ProjectID,
			SectionTitle: strings.TrimSpace(b.SectionTitle),
			Content:      b.Content,
			OrderIndex:   i,
			ClaimIDs:     b.ClaimIDs,
			CitationKeys: b.CitationKeys,
		})
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("synthesizer produced only empty blocks")
	}
	return blocks, nil
}
