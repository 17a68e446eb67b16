// Package merge reconciles the local canonical term set with an incoming
// delta of upserts and tombstones.
//
// Incoming rows always win over local ones; there are no local edits to
// terms, so no timestamp comparison is done.
package merge

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/ecoterms/ecosync/internal/schema"
)

// Locale is the collation used to order the canonical set.
var Locale = language.Portuguese

// Merge applies incoming to local and returns a new sorted set.
// Neither argument is modified.
func Merge(local, incoming []schema.Term) []schema.Term {
	byTitle := make(map[string]schema.Term, len(local)+len(incoming))
	for _, t := range local {
		byTitle[t.Title] = t
	}

	for _, t := range incoming {
		if t.IsTombstone() {
			delete(byTitle, t.Title)
			continue
		}
		byTitle[t.Title] = t
	}

	out := make([]schema.Term, 0, len(byTitle))
	for _, t := range byTitle {
		// Tombstones that slipped into local are never carried forward.
		if t.IsTombstone() {
			continue
		}
		out = append(out, t)
	}

	Sort(out)
	return out
}

// Sort orders terms by title under the package locale. Titles that collate
// equal fall back to byte order so the result is deterministic.
func Sort(terms []schema.Term) {
	// Collators keep internal buffers and must not be shared.
	c := collate.New(Locale)
	sort.SliceStable(terms, func(i, j int) bool {
		if r := c.CompareString(terms[i].Title, terms[j].Title); r != 0 {
			return r < 0
		}
		return terms[i].Title < terms[j].Title
	})
}

// IsSorted reports whether terms are strictly ordered with no duplicate titles.
func IsSorted(terms []schema.Term) bool {
	c := collate.New(Locale)
	for i := 1; i < len(terms); i++ {
		a, b := terms[i-1].Title, terms[i].Title
		if a == b {
			return false
		}
		r := c.CompareString(a, b)
		if r > 0 || (r == 0 && a > b) {
			return false
		}
	}
	return true
}

// Equal reports whether two sets hold the same terms in the same order.
func Equal(a, b []schema.Term) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !termEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func termEqual(a, b schema.Term) bool {
	if a.Title != b.Title || a.Definition != b.Definition || a.Category != b.Category {
		return false
	}
	if (a.DeletedAt == nil) != (b.DeletedAt == nil) {
		return false
	}
	return a.DeletedAt == nil || *a.DeletedAt == *b.DeletedAt
}
