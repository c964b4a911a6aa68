package validation

import (
	"fmt"
	"regexp"

	"github.com/loomworks/loom/internal/models"
)

// inlineClaimPattern matches inline [[claim_id]] references in block content
var inlineClaimPattern = regexp.MustCompile(`\[\[([^\[\]\s]+)\]\]`)

// ExtractInlineClaimIDs returns the claim ids referenced inline in content
func ExtractInlineClaimIDs(content string) []string {
	matches := inlineClaimPattern.FindAllStringSubmatch(content, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

// BlockBindings merges inline references with explicit claim_ids,
// deduplicated and order-preserving (inline first).
func BlockBindings(block *models.ManuscriptBlock) []string {
	seen := make(map[string]bool)
	var bindings []string
	for _, id := range append(ExtractInlineClaimIDs(block.Content), block.ClaimIDs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		bindings = append(bindings, id)
	}
	return bindings
}

// ValidateBlockBindings is the citation-integrity gate for one block.
// Conservative rigor fails on an empty binding set or an unknown claim id;
// exploratory rigor downgrades both to warnings. knownClaimIDs may be nil
// when the caller has no claim universe to check against.
func ValidateBlockBindings(block *models.ManuscriptBlock, knownClaimIDs map[string]bool, rigor models.RigorLevel) (bool, []string) {
	bindings := BlockBindings(block)

	var problems []string
	if len(bindings) == 0 {
		problems = append(problems, fmt.Sprintf("block %q has no claim bindings", block.SectionTitle))
	}
	if knownClaimIDs != nil {
		for _, id := range bindings {
			if !knownClaimIDs[id] {
				problems = append(problems, fmt.Sprintf("block %q references unknown claim id %q", block.SectionTitle, id))
			}
		}
	}

	if len(problems) == 0 {
		return true, nil
	}
	if rigor == models.RigorConservative {
		return false, problems
	}
	return true, problems // exploratory: warn, pass
}
