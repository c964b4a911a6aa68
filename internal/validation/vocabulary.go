// -----------------------------------------------------------------------
// Vocabulary guard - forbidden-word scanning, prompt constraints, and the
// deterministic tone rewriter. The word list is a YAML asset loaded once
// at process start; a missing file yields an empty guard.
// -----------------------------------------------------------------------

package validation

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"
)

// vocabularyAsset mirrors the YAML asset layout
type vocabularyAsset struct {
	ForbiddenWords []string          `yaml:"forbidden_words"`
	Alternatives   map[string]string `yaml:"alternatives"`
}

// Guard scans text for forbidden vocabulary and rewrites matches to their
// neutral alternatives.
type Guard struct {
	ForbiddenWords []string
	Alternatives   map[string]string
	patterns       map[string]*regexp.Regexp
}

// NewGuard builds a guard from an explicit word list (used by tests)
func NewGuard(words []string, alternatives map[string]string) *Guard {
	g := &Guard{
		ForbiddenWords: words,
		Alternatives:   alternatives,
		patterns:       make(map[string]*regexp.Regexp, len(words)),
	}
	for _, w := range words {
		g.patterns[w] = wordPattern(w)
	}
	return g
}

// LoadGuard loads the vocabulary YAML asset. Best-effort: a missing or
// malformed file returns an empty guard.
func LoadGuard(path string, logger arbor.ILogger) *Guard {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Vocabulary asset not loaded, guard is empty")
		return NewGuard(nil, nil)
	}

	var asset vocabularyAsset
	if err := yaml.Unmarshal(data, &asset); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Vocabulary asset malformed, guard is empty")
		return NewGuard(nil, nil)
	}

	logger.Debug().Int("forbidden_words", len(asset.ForbiddenWords)).Msg("Vocabulary guard loaded")
	return NewGuard(asset.ForbiddenWords, asset.Alternatives)
}

// wordPattern compiles a case-insensitive word-boundary-anchored pattern
func wordPattern(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
}

// Scan returns the forbidden words present in text, in list order
func (g *Guard) Scan(text string) []string {
	if text == "" {
		return nil
	}
	var matches []string
	for _, w := range g.ForbiddenWords {
		if g.patterns[w].MatchString(text) {
			matches = append(matches, w)
		}
	}
	return matches
}

// ApplyConstraints appends a negative-constraint block listing the forbidden
// words and their alternatives to a prompt. Empty guard returns the prompt
// unchanged.
func (g *Guard) ApplyConstraints(prompt string) string {
	if len(g.ForbiddenWords) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n## VOCABULARY CONSTRAINTS\nDo not use the following words or phrases:\n")

	words := append([]string{}, g.ForbiddenWords...)
	sort.Strings(words)
	for _, w := range words {
		if alt, ok := g.Alternatives[w]; ok && alt != "" {
			b.WriteString(fmt.Sprintf("- %q (use %q instead)\n", w, alt))
		} else {
			b.WriteString(fmt.Sprintf("- %q\n", w))
		}
	}
	return b.String()
}

// RewriteTone deterministically replaces forbidden words with their mapped
// alternatives, preserving everything else. Words without an alternative are
// left untouched (the Critic has already flagged them).
func (g *Guard) RewriteTone(text string) string {
	result := text
	for _, w := range g.ForbiddenWords {
		alt, ok := g.Alternatives[w]
		if !ok || alt == "" {
			continue
		}
		result = g.patterns[w].ReplaceAllString(result, alt)
	}
	return result
}
