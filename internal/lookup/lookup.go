// Package lookup ranks and filters the canonical term set for searches.
package lookup

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ecoterms/ecosync/internal/schema"
)

// AllCategories is the category filter value that matches everything.
const AllCategories = "Todas"

// Relevance scores, highest first.
const (
	ScoreExact       = 100
	ScorePrefix      = 80
	ScoreContains    = 60
	ScoreSubsequence = 40
)

// MinHistoryQueryLen is the shortest query worth recording in history.
const MinHistoryQueryLen = 3

// Fold lowercases s and strips diacritics so "Água" matches "agua".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Score rates how well title matches an already folded query. Zero means
// no match.
func Score(title, foldedQuery string) int {
	if foldedQuery == "" {
		return 0
	}
	t := Fold(title)
	switch {
	case t == foldedQuery:
		return ScoreExact
	case strings.HasPrefix(t, foldedQuery):
		return ScorePrefix
	case strings.Contains(t, foldedQuery):
		return ScoreContains
	case isSubsequence(t, foldedQuery):
		return ScoreSubsequence
	default:
		return 0
	}
}

// isSubsequence reports whether every rune of q appears in s in order.
func isSubsequence(s, q string) bool {
	qr := []rune(q)
	i := 0
	for _, r := range s {
		if i < len(qr) && r == qr[i] {
			i++
		}
	}
	return i == len(qr)
}

// Filter narrows a search.
type Filter struct {
	Query    string
	Category string // "" or AllCategories for every category
	Letter   string // first letter of the title, folded; "" for any
}

// Match is a scored search hit.
type Match struct {
	Term  schema.Term
	Score int
}

// Search returns the terms matching f. With a query, hits are ordered by
// score and then by title; without one, terms keep their canonical order.
func Search(terms []schema.Term, f Filter) []Match {
	query := Fold(f.Query)
	letter := Fold(f.Letter)

	var out []Match
	for _, t := range terms {
		if f.Category != "" && f.Category != AllCategories && t.Category != f.Category {
			continue
		}
		if letter != "" && !strings.HasPrefix(Fold(t.Title), letter) {
			continue
		}

		score := 0
		if query != "" {
			score = Score(t.Title, query)
			if score == 0 {
				continue
			}
		}
		out = append(out, Match{Term: t, Score: score})
	}

	if query != "" {
		c := collate.New(language.Portuguese)
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			return c.CompareString(out[i].Term.Title, out[j].Term.Title) < 0
		})
	}
	return out
}

// Categories returns AllCategories followed by every category present,
// sorted.
func Categories(terms []schema.Term) []string {
	seen := make(map[string]struct{})
	var cats []string
	for _, t := range terms {
		if _, ok := seen[t.Category]; ok || t.Category == "" {
			continue
		}
		seen[t.Category] = struct{}{}
		cats = append(cats, t.Category)
	}

	c := collate.New(language.Portuguese)
	sort.Slice(cats, func(i, j int) bool { return c.CompareString(cats[i], cats[j]) < 0 })

	return append([]string{AllCategories}, cats...)
}

// ShouldRecord reports whether a query is long enough to keep in history.
func ShouldRecord(query string) bool {
	return len([]rune(strings.TrimSpace(query))) >= MinHistoryQueryLen
}
