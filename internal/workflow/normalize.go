// -----------------------------------------------------------------------
// Extraction normalization. Model output is schema-checked, then every
// triple is canonicalized: whitespace folded, confidence clamped, and the
// deterministic claim id recomputed from content plus anchor. Normalizing
// twice yields byte-identical output.
// -----------------------------------------------------------------------

package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// extractionSchema validates the shape of expert extraction output before
// any field is trusted.
const extractionSchema = `{
  "type": "object",
  "required": ["triples"],
  "properties": {
    "triples": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["subject", "predicate", "object"],
        "properties": {
          "subject": {"type": "string", "minLength": 1},
          "predicate": {"type": "string", "minLength": 1},
          "object": {"type": "string", "minLength": 1},
          "confidence": {"type": "number"},
          "claim_text": {"type": "string"},
          "rq_hits": {"type": "array", "items": {"type": "string"}},
          "source_anchor": {
            "type": "object",
            "properties": {
              "doc_id": {"type": "string"},
              "doc_hash": {"type": "string"},
              "page_number": {"type": "integer"},
              "snippet": {"type": "string"},
              "bbox": {
                "type": "object",
                "required": ["x", "y", "w", "h"],
                "properties": {
                  "x": {"type": "number"},
                  "y": {"type": "number"},
                  "w": {"type": "number"},
                  "h": {"type": "number"}
                }
              },
              "span": {
                "type": "object",
                "required": ["start", "end"],
                "properties": {
                  "start": {"type": "integer"},
                  "end": {"type": "integer"}
                }
              }
            }
          }
        }
      }
    }
  }
}`

var compiledExtractionSchema = jsonschema.MustCompileString("extraction.json", extractionSchema)

// ParseExtraction validates and normalizes expert extraction output.
// Model output sometimes wraps the JSON in prose or code fences; the first
// JSON object is located before validation.
func ParseExtraction(content, projectID, ingestionID, docHash string) ([]models.Claim, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in extraction output")
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode extraction output: %w", err)
	}
	if err := compiledExtractionSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("extraction output failed schema validation: %w", err)
	}

	var parsed models.ExtractedJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode extraction triples: %w", err)
	}

	return NormalizeTriples(parsed.Triples, projectID, ingestionID, docHash), nil
}

// NormalizeTriples canonicalizes a triple list. Idempotent: running it on
// its own output changes nothing.
func NormalizeTriples(triples []models.Claim, projectID, ingestionID, docHash string) []models.Claim {
	normalized := make([]models.Claim, 0, len(triples))
	seen := make(map[string]bool)

	for _, t := range triples {
		c := t
		c.Subject = foldSpace(c.Subject)
		c.Predicate = foldSpace(c.Predicate)
		c.Object = foldSpace(c.Object)
		c.ClaimText = strings.TrimSpace(c.ClaimText)
		if c.Subject == "" || c.Predicate == "" || c.Object == "" {
			continue
		}

		if c.Confidence < 0 {
			c.Confidence = 0
		}
		if c.Confidence > 1 {
			c.Confidence = 1
		}

		c.ProjectID = projectID
		if c.IngestionID == "" {
			c.IngestionID = ingestionID
		}
		if c.SourceAnchor != nil && c.SourceAnchor.DocHash == "" {
			c.SourceAnchor.DocHash = docHash
		}

		page := 0
		if c.SourceAnchor != nil {
			page = c.SourceAnchor.PageNumber
		}
		c.ID = common.ClaimID(c.Subject, c.Predicate, c.Object, docHash, page)

		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		normalized = append(normalized, c)
	}
	return normalized
}

// foldSpace trims and collapses internal whitespace
func foldSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractJSONObject returns the first balanced top-level JSON object in
// text, or "" when none exists.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
