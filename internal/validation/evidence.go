package validation

import (
	"fmt"

	"github.com/loomworks/loom/internal/models"
)

// EvidenceIssue is one problem found while validating a claim's anchor.
// Hard issues block the claim; soft issues are surfaced as warnings.
type EvidenceIssue struct {
	ClaimID string `json:"claim_id"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Hard    bool   `json:"hard"`
}

// PageTextLookup resolves cached page text for a document page. The second
// return reports whether text was available.
type PageTextLookup func(docHash string, page int) (string, bool)

// ValidateClaimEvidence applies the evidence gate to a single claim.
// Structural defects (bad page number, out-of-range bbox, empty triple) are
// hard at any rigor. A missing anchor, empty rq_hits or a failed snippet
// match is hard under conservative rigor and a warning under exploratory.
// pageText may be nil to skip snippet verification.
func ValidateClaimEvidence(c models.Claim, rigor models.RigorLevel, pageText PageTextLookup) []EvidenceIssue {
	var issues []EvidenceIssue
	hard := rigor == models.RigorConservative

	if c.Subject == "" || c.Predicate == "" || c.Object == "" {
		issues = append(issues, EvidenceIssue{
			ClaimID: c.ID,
			Field:   "triple",
			Message: "subject, predicate and object are all required",
			Hard:    true,
		})
	}

	if len(c.RQHits) == 0 {
		issues = append(issues, EvidenceIssue{
			ClaimID: c.ID,
			Field:   "rq_hits",
			Message: "claim addresses no research question",
			Hard:    hard,
		})
	}

	anchor := c.SourceAnchor
	if anchor == nil {
		issues = append(issues, EvidenceIssue{
			ClaimID: c.ID,
			Field:   "source_anchor",
			Message: "claim has no source anchor",
			Hard:    hard,
		})
		return issues
	}

	if anchor.DocID == "" && anchor.DocHash == "" {
		issues = append(issues, EvidenceIssue{
			ClaimID: c.ID,
			Field:   "source_anchor.doc_id",
			Message: "anchor names no document",
			Hard:    true,
		})
	}
	if anchor.PageNumber < 1 {
		issues = append(issues, EvidenceIssue{
			ClaimID: c.ID,
			Field:   "source_anchor.page_number",
			Message: fmt.Sprintf("page_number %d is not 1-based", anchor.PageNumber),
			Hard:    true,
		})
	}
	if anchor.BBox != nil && !anchor.BBox.InRange() {
		issues = append(issues, EvidenceIssue{
			ClaimID: c.ID,
			Field:   "source_anchor.bbox",
			Message: "bbox coordinates outside [0,1000]",
			Hard:    true,
		})
	}
	if hard && anchor.BBox == nil && anchor.Span == nil {
		issues = append(issues, EvidenceIssue{
			ClaimID: c.ID,
			Field:   "source_anchor",
			Message: "conservative rigor requires a bbox or span",
			Hard:    true,
		})
	}

	if anchor.Snippet != "" && pageText != nil && anchor.PageNumber >= 1 {
		if text, ok := pageText(anchor.DocHash, anchor.PageNumber); ok {
			if !SnippetMatchesPage(anchor.Snippet, text) {
				issues = append(issues, EvidenceIssue{
					ClaimID: c.ID,
					Field:   "source_anchor.snippet",
					Message: "snippet does not match cached page text",
					Hard:    hard,
				})
			}
		}
	}

	return issues
}

// PartitionEvidence runs the gate over a claim set and splits it into claims
// that passed (no hard issues) and the full issue list for reporting.
func PartitionEvidence(claims []models.Claim, rigor models.RigorLevel, pageText PageTextLookup) (passed []models.Claim, issues []EvidenceIssue) {
	for _, c := range claims {
		claimIssues := ValidateClaimEvidence(c, rigor, pageText)
		issues = append(issues, claimIssues...)

		blocked := false
		for _, issue := range claimIssues {
			if issue.Hard {
				blocked = true
				break
			}
		}
		if !blocked {
			passed = append(passed, c)
		}
	}
	return passed, issues
}
