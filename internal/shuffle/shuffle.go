// Package shuffle randomizes the right-hand column of a matching block and
// maps the positions a student sees back to authoring order.
package shuffle

import (
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/pavelanni/examdesk/internal/model"
)

var numericRegex = regexp.MustCompile(`^[-+]?\d+(?:[.,]\d+)?$`)

// IsValidMatchingText reports whether s can be shown as a matching answer
// choice. Blank strings and bare numbers are authoring mistakes. Both the
// content validator and the fetch-time filter use this predicate.
func IsValidMatchingText(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	return !numericRegex.MatchString(t)
}

// Present drops invalid entries from items and shuffles the rest with
// Fisher–Yates. The returned permutation holds, for each shuffled position,
// the 1-based index the item had in items. A nil rnd uses the global source.
func Present(items []string, rnd *rand.Rand) ([]string, model.Permutation) {
	type entry struct {
		text  string
		index int
	}
	kept := make([]entry, 0, len(items))
	for i, it := range items {
		if IsValidMatchingText(it) {
			kept = append(kept, entry{text: it, index: i + 1})
		}
	}

	intN := rand.IntN
	if rnd != nil {
		intN = rnd.IntN
	}
	for i := len(kept) - 1; i > 0; i-- {
		j := intN(i + 1)
		kept[i], kept[j] = kept[j], kept[i]
	}

	shuffled := make([]string, len(kept))
	perm := make(model.Permutation, len(kept))
	for p, e := range kept {
		shuffled[p] = e.text
		perm[p] = e.index
	}
	return shuffled, perm
}

// Apply renders items in the order recorded by perm. Entries pointing
// outside items are skipped.
func Apply(items []string, perm model.Permutation) []string {
	out := make([]string, 0, len(perm))
	for _, idx := range perm {
		if idx >= 1 && idx <= len(items) {
			out = append(out, items[idx-1])
		}
	}
	return out
}

// Invert returns the canonical index behind shuffled position idx. Outside
// the permutation's range (including an empty permutation) idx is returned
// unchanged.
func Invert(idx int, perm model.Permutation) int {
	if idx >= 1 && idx <= len(perm) {
		return perm[idx-1]
	}
	return idx
}
