// -----------------------------------------------------------------------
// Garbled-output detection. Heavily quantized models occasionally emit
// repetitive or noise-dominated text; the detector catches that before the
// output reaches validation.
// -----------------------------------------------------------------------

package llm

import (
	"encoding/json"
	"strings"
	"unicode"
)

const (
	garbleMinLength        = 10
	garbleMinAlnumRatio    = 0.30
	garbleMaxSpecialRatio  = 0.50
	garbleRepeatWindowSize = 3
)

// IsGarbled reports whether model output looks like quantization garbage.
// Short strings and valid JSON are never garbled; otherwise text fails on
// immediate word triplication, an alphanumeric ratio under 0.30, or a
// special-character ratio over 0.50.
func IsGarbled(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < garbleMinLength {
		return false
	}
	if json.Valid([]byte(trimmed)) {
		return false
	}

	if hasWordTriplication(trimmed) {
		return true
	}

	alnum, special, total := 0, 0, 0
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			alnum++
		case !unicode.IsPunct(r):
			special++
		}
	}
	if total == 0 {
		return true
	}

	if float64(alnum)/float64(total) < garbleMinAlnumRatio {
		return true
	}
	if float64(special)/float64(total) > garbleMaxSpecialRatio {
		return true
	}
	return false
}

// hasWordTriplication reports whether any word repeats three times in a row
func hasWordTriplication(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	for i := 0; i+garbleRepeatWindowSize <= len(words); i++ {
		if words[i] == words[i+1] && words[i] == words[i+2] {
			return true
		}
	}
	return false
}
