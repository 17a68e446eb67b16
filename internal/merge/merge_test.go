package merge

import (
	"fmt"
	"testing"

	"github.com/ecoterms/ecosync/internal/schema"
)

func term(title, def string) schema.Term {
	return schema.Term{Title: title, Definition: def, Category: "Geral"}
}

func titles(terms []schema.Term) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Title
	}
	return out
}

func TestMerge_Scenario(t *testing.T) {
	local := []schema.Term{term("Água", "..."), term("Solo", "...")}
	incoming := []schema.Term{
		{Title: "Ar", Definition: "def", Category: "Geral"},
		schema.Tombstone("Água", "2024-01-01"),
	}

	got := Merge(local, incoming)

	if fmt.Sprint(titles(got)) != "[Ar Solo]" {
		t.Fatalf("Merge() = %v, want [Ar Solo]", titles(got))
	}
	if got[0].Definition != "def" {
		t.Errorf("Ar definition = %q", got[0].Definition)
	}
}

func TestMerge_Properties(t *testing.T) {
	tests := []struct {
		name     string
		local    []schema.Term
		incoming []schema.Term
	}{
		{
			name:     "upserts and tombstones",
			local:    []schema.Term{term("Solo", "a"), term("Erosão", "b"), term("Clima", "c")},
			incoming: []schema.Term{term("Ar", "x"), schema.Tombstone("Clima", "t"), term("Solo", "new")},
		},
		{
			name:     "empty incoming",
			local:    []schema.Term{term("Zona", "z"), term("Água", "a")},
			incoming: nil,
		},
		{
			name:     "last write wins within batch",
			local:    nil,
			incoming: []schema.Term{term("Ar", "first"), term("Ar", "second")},
		},
		{
			name:     "tombstone then re-add",
			local:    []schema.Term{term("Ar", "old")},
			incoming: []schema.Term{schema.Tombstone("Ar", "t"), term("Ar", "back")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := Merge(tt.local, tt.incoming)
			twice := Merge(once, tt.incoming)

			if !Equal(once, twice) {
				t.Errorf("not idempotent: %v vs %v", titles(once), titles(twice))
			}
			if !IsSorted(once) {
				t.Errorf("output not sorted or has duplicates: %v", titles(once))
			}
			for _, tm := range once {
				if tm.IsTombstone() {
					t.Errorf("tombstone %q leaked into canonical set", tm.Title)
				}
			}
		})
	}
}

func TestMerge_LastWriteWins(t *testing.T) {
	got := Merge(nil, []schema.Term{term("Ar", "first"), term("Ar", "second")})
	if len(got) != 1 || got[0].Definition != "second" {
		t.Errorf("Merge() = %+v, want single Ar with second definition", got)
	}

	got = Merge([]schema.Term{term("Ar", "old")}, []schema.Term{schema.Tombstone("Ar", "t"), term("Ar", "back")})
	if len(got) != 1 || got[0].Definition != "back" {
		t.Errorf("re-add after tombstone = %+v", got)
	}
}

func TestMerge_TombstoneNoOp(t *testing.T) {
	local := []schema.Term{term("Solo", "s"), term("Ar", "a")}
	got := Merge(local, []schema.Term{schema.Tombstone("Inexistente", "2024-01-01")})

	want := append([]schema.Term(nil), local...)
	Sort(want)
	if !Equal(got, want) {
		t.Errorf("Merge() = %v, want %v", titles(got), titles(want))
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	local := []schema.Term{term("Solo", "s"), term("Ar", "a")}
	incoming := []schema.Term{schema.Tombstone("Solo", "t")}

	_ = Merge(local, incoming)

	if local[0].Title != "Solo" || local[1].Title != "Ar" || len(local) != 2 {
		t.Errorf("local mutated: %v", titles(local))
	}
}

func TestSort_LocaleCollation(t *testing.T) {
	terms := []schema.Term{
		term("Zona", ""),
		term("erosão", ""),
		term("Água", ""),
		term("Ar", ""),
		term("Baía", ""),
		term("Abelha", ""),
	}
	Sort(terms)

	got := fmt.Sprint(titles(terms))
	want := "[Abelha Água Ar Baía erosão Zona]"
	if got != want {
		t.Errorf("Sort() = %s, want %s", got, want)
	}
}

func TestEqual(t *testing.T) {
	a := []schema.Term{term("Ar", "x")}
	b := []schema.Term{term("Ar", "x")}
	if !Equal(a, b) {
		t.Error("expected equal")
	}
	b[0].Category = "Clima"
	if Equal(a, b) {
		t.Error("expected category difference to be detected")
	}
	if Equal(a, nil) {
		t.Error("expected length difference to be detected")
	}
}
