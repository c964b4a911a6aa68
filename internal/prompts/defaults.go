// -----------------------------------------------------------------------
// Built-in prompt templates. These are the fallback of last resort: the
// registry client returns them whenever the remote registry is disabled,
// unreachable, or returns anything unusable.
// -----------------------------------------------------------------------

package prompts

// Registry prompt names. The registry is queried by these names; the
// matching Default* constant backs each one.
const (
	NameCartographer = "cartographer_extraction"
	NameVision       = "vision_extraction"
	NameCritic       = "critic_review"
	NameSynthesizer  = "synthesizer_draft"
	NameReframing    = "reframing_proposal"
)

// DefaultCartographerPrompt drives subject-predicate-object extraction from
// raw text. The model must answer with a single JSON object.
const DefaultCartographerPrompt = `You are a research cartographer. Extract factual claims from the source text as subject-predicate-object triples.

Rules:
- Every triple must be directly supported by the text. Do not infer.
- For each triple include a source anchor: the 1-based page number and a short verbatim snippet (under 200 characters) quoting the supporting passage.
- Assign a confidence in [0,1] reflecting how directly the text states the claim.
- List the research questions each claim addresses as rq_hits ("RQ1", "RQ2", ...).

Respond with exactly one JSON object:
{"triples": [{"subject": "...", "predicate": "...", "object": "...", "confidence": 0.0, "claim_text": "...", "rq_hits": ["RQ1"], "source_anchor": {"doc_id": "...", "page_number": 1, "snippet": "..."}}]}

Source text:
{{.SourceText}}`

// DefaultVisionPrompt extracts claims from figures, tables and charts.
const DefaultVisionPrompt = `You are analyzing images extracted from a research document (figures, tables, charts).

For each image, extract factual claims that the visual content supports, as subject-predicate-object triples. Include:
- the page number the image appears on
- a bounding box with coordinates scaled to [0,1000] when you can localize the evidence
- a confidence in [0,1]

Only report what the image shows. Do not speculate about content outside the image.

Respond with exactly one JSON object:
{"triples": [{"subject": "...", "predicate": "...", "object": "...", "confidence": 0.0, "source_anchor": {"doc_id": "...", "page_number": 1, "bbox": {"x": 0, "y": 0, "w": 0, "h": 0}}}]}`

// DefaultCriticPrompt reviews extracted claims against the project framing.
const DefaultCriticPrompt = `You are a critical reviewer for a research project.

Project thesis: {{.Thesis}}
Research questions:
{{.ResearchQuestions}}

Review the extracted claims below. For each problem, report one finding with:
- type: STRUCTURAL_CONFLICT, UNSUPPORTED_CORE_CLAIM, MISSING_EVIDENCE, AMBIGUOUS, or CONTRADICTION
- severity: INFO, MEDIUM, HIGH, or BLOCKER
- summary: one sentence naming the problem
- the claim ids involved

A claim that contradicts the thesis or another claim is HIGH. A claim the manuscript depends on but evidence does not support is BLOCKER.

Respond with exactly one JSON object:
{"status": "pass" | "fail", "findings": [{"type": "...", "severity": "...", "summary": "...", "claim_ids": ["..."]}]}

Claims:
{{.Claims}}`

// DefaultSynthesizerPrompt drafts manuscript sections from verified claims.
const DefaultSynthesizerPrompt = `You are drafting a section of a research manuscript.

Write clear, direct academic prose. Every factual statement must cite a claim by writing its id inline as [[claim_id]]. Do not state anything you cannot bind to a provided claim.

Respond with exactly one JSON object:
{"blocks": [{"section_title": "...", "content": "... [[claim_id]] ...", "claim_ids": ["..."]}]}

Section outline:
{{.Outline}}

Available claims:
{{.Claims}}`

// DefaultReframingPrompt is kept for registry parity; the deadlock proposal
// itself is assembled deterministically from the conflict report.
const DefaultReframingPrompt = `The research workflow is deadlocked: repeated revisions have not resolved blocking conflicts.

Given the conflict report below, propose ONE pivot (SCOPE, METHODOLOGY, or THESIS) that would dissolve the conflicts, with an architectural rationale, the assumptions that change, and what stays true.

Conflict report:
{{.ConflictReport}}`

// DefaultFor maps a registry prompt name to its built-in template. Unknown
// names get an empty default, which the provider passes through unchanged.
func DefaultFor(name string) string {
	switch name {
	case NameCartographer:
		return DefaultCartographerPrompt
	case NameVision:
		return DefaultVisionPrompt
	case NameCritic:
		return DefaultCriticPrompt
	case NameSynthesizer:
		return DefaultSynthesizerPrompt
	case NameReframing:
		return DefaultReframingPrompt
	default:
		return ""
	}
}
