package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/loomworks/loom/internal/models"
)

// ConflictHash computes the deterministic fingerprint of a conflict item
// list: SHA-256 over a canonical JSON rendering with alphabetically sorted
// keys. Stable across serializations of logically identical item lists.
func ConflictHash(items []models.ConflictItem) string {
	canonical := make([]map[string]any, 0, len(items))
	for _, item := range items {
		// Round-trip through a map so encoding/json sorts the keys.
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		canonical = append(canonical, m)
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
