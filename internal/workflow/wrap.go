// -----------------------------------------------------------------------
// Prompt context injection. Every expert call is wrapped with the project
// framing (thesis, research questions, anti-scope) plus any canonical
// knowledge, external facts and retrieved document passages.
// -----------------------------------------------------------------------

package workflow

import (
	"fmt"
	"strings"

	"github.com/loomworks/loom/internal/models"
)

// PromptContext carries everything injected around a node prompt
type PromptContext struct {
	Project         *models.ProjectContext
	CanonicalClaims []models.Claim
	ExternalFacts   []models.Claim
	Chunks          []models.DocumentChunk
}

// WrapPrompt appends the project framing to a node prompt. Retrieval from
// the registry happens before wrapping so the cache key stays stable across
// projects. The strict-constraint block is emitted only under conservative
// rigor with a non-empty anti-scope.
func WrapPrompt(prompt string, pc *PromptContext) string {
	if pc == nil || pc.Project == nil {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)

	project := pc.Project
	if project.Thesis != "" {
		b.WriteString("\n\n## THESIS\n")
		b.WriteString(project.Thesis)
		b.WriteString("\n")
	}
	if len(project.ResearchQuestions) > 0 {
		b.WriteString("\n## RESEARCH QUESTIONS\n")
		for i, rq := range project.ResearchQuestions {
			b.WriteString(fmt.Sprintf("  RQ%d: %s\n", i+1, rq))
		}
	}
	if len(project.AntiScope) > 0 {
		b.WriteString("\n## ANTI-SCOPE\nOut of scope (do not address):\n")
		for _, item := range project.AntiScope {
			b.WriteString("  - ")
			b.WriteString(item)
			b.WriteString("\n")
		}
	}
	if project.TargetJournal != "" {
		b.WriteString("\nTarget venue: ")
		b.WriteString(project.TargetJournal)
		b.WriteString("\n")
	}

	if len(pc.ExternalFacts) > 0 {
		b.WriteString("\n## TRUSTED EXTERNAL FACTS\n")
		writeClaimLines(&b, pc.ExternalFacts)
	}
	if len(pc.CanonicalClaims) > 0 {
		b.WriteString("\n## VERIFIED PROJECT KNOWLEDGE\n")
		b.WriteString("These claims are expert-verified. Treat them as ground truth:\n")
		writeClaimLines(&b, pc.CanonicalClaims)
	}
	if len(pc.Chunks) > 0 {
		b.WriteString("\n## DOCUMENT PASSAGES\n")
		for _, chunk := range pc.Chunks {
			b.WriteString(fmt.Sprintf("  - [page %d] %s\n", chunk.Payload.PageNumber, chunk.Text))
		}
	}

	if models.RigorLevel(project.RigorLevel) == models.RigorConservative && len(project.AntiScope) > 0 {
		b.WriteString("\n## STRICT CONSTRAINT\n")
		b.WriteString("Do not extract, cite or reason about anti-scope content. Omit any claim that touches it.\n")
	}

	return b.String()
}

func writeClaimLines(b *strings.Builder, claims []models.Claim) {
	for _, c := range claims {
		b.WriteString(fmt.Sprintf("  - [%s] %s %s %s\n", c.ID, c.Subject, c.Predicate, c.Object))
	}
}

// researchQuestionLabels renders the valid "RQ1".."RQn" ids for a project
func researchQuestionLabels(pc *models.ProjectContext) map[string]bool {
	labels := make(map[string]bool)
	if pc == nil {
		return labels
	}
	for i := range pc.ResearchQuestions {
		labels[fmt.Sprintf("RQ%d", i+1)] = true
	}
	return labels
}
