package validation

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// snippetMatchThreshold is the minimum Ratcliff/Obershelp ratio for a claim
// snippet to be accepted against the page text.
const snippetMatchThreshold = 0.6

// SnippetMatchesPage reports whether snippet is fuzzy-matchable against the
// page text. The snippet is compared against the best-aligned window of the
// page so a short snippet is not penalized by page length.
func SnippetMatchesPage(snippet, pageText string) bool {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" || pageText == "" {
		return false
	}

	// Fast path: literal containment
	if strings.Contains(normalizeWhitespace(pageText), normalizeWhitespace(snippet)) {
		return true
	}

	return bestWindowRatio(snippet, pageText) > snippetMatchThreshold
}

// bestWindowRatio slides a snippet-sized window across the page text and
// returns the highest alignment ratio observed. QuickRatio is only an upper
// bound (it ignores character order), so it serves as a cheap prefilter and
// the decision rests on Ratio over the aligned window.
func bestWindowRatio(snippet, pageText string) float64 {
	a := splitChars(normalizeWhitespace(snippet))
	page := normalizeWhitespace(pageText)

	window := len(a) * 2
	if window >= len(page) {
		return difflib.NewMatcher(a, splitChars(page)).Ratio()
	}

	step := len(a) / 2
	if step < 1 {
		step = 1
	}

	best := 0.0
	for start := 0; start < len(page); start += step {
		end := start + window
		if end > len(page) {
			end = len(page)
		}
		m := difflib.NewMatcher(a, splitChars(page[start:end]))
		if m.QuickRatio() > best {
			if r := m.Ratio(); r > best {
				best = r
			}
		}
		if end == len(page) {
			break
		}
	}
	return best
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func splitChars(s string) []string {
	chars := make([]string, 0, len(s))
	for _, r := range s {
		chars = append(chars, string(r))
	}
	return chars
}
