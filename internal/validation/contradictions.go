package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loomworks/loom/internal/models"
)

// DetectContradictions groups claims by normalized (subject, predicate) and
// flags every group asserting two or more distinct objects. Detection is
// deterministic: groups and objects are reported in sorted order.
func DetectContradictions(claims []models.Claim) []models.ConflictItem {
	type group struct {
		subject   string
		predicate string
		objects   map[string][]string // normalized object -> claim ids
	}

	groups := make(map[string]*group)
	for _, c := range claims {
		subject := normalizeTerm(c.Subject)
		predicate := normalizeTerm(c.Predicate)
		if subject == "" || predicate == "" {
			continue
		}

		key := subject + "\x00" + predicate
		g, ok := groups[key]
		if !ok {
			g = &group{subject: subject, predicate: predicate, objects: make(map[string][]string)}
			groups[key] = g
		}
		object := normalizeTerm(c.Object)
		g.objects[object] = append(g.objects[object], c.ID)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var items []models.ConflictItem
	for _, key := range keys {
		g := groups[key]
		if len(g.objects) < 2 {
			continue
		}

		objects := make([]string, 0, len(g.objects))
		var claimIDs []string
		for o := range g.objects {
			objects = append(objects, o)
		}
		sort.Strings(objects)
		for _, o := range objects {
			claimIDs = append(claimIDs, g.objects[o]...)
		}
		sort.Strings(claimIDs)

		items = append(items, models.ConflictItem{
			Type:     models.ConflictContradiction,
			Severity: models.SeverityHigh,
			Producer: models.ProducerCritic,
			Summary: fmt.Sprintf("claims disagree on (%s, %s): %s",
				g.subject, g.predicate, strings.Join(objects, " vs ")),
			ContradictingClaims: claimIDs,
			Confidence:          0.9,
		})
	}
	return items
}

// normalizeTerm lowercases and collapses whitespace so surface variants of
// the same entity compare equal.
func normalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
