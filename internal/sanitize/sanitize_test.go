package sanitize

import (
	"errors"
	"strings"
	"testing"

	"github.com/ecoterms/ecosync/internal/schema"
)

func TestSanitize_TopLevelFormat(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		wantErr bool
	}{
		{name: "nil", raw: nil, wantErr: true},
		{name: "object", raw: map[string]any{"t": "Ar"}, wantErr: true},
		{name: "string", raw: "Ar", wantErr: true},
		{name: "empty list", raw: []any{}, wantErr: false},
		{name: "typed terms", raw: []schema.Term{{Title: "Ar"}}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sanitize(tt.raw)
			if tt.wantErr && !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("Sanitize() error = %v, want ErrInvalidFormat", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Sanitize() unexpected error = %v", err)
			}
		})
	}
}

func TestSanitize_DropPolicy(t *testing.T) {
	raw := []any{
		map[string]any{"t": "Ar", "d": "Mistura de gases", "c": "Clima"},
		map[string]any{"d": "sem título"},
		"not an object",
		nil,
		map[string]any{"t": ""},
		map[string]any{"t": "<b></b>"},
		map[string]any{"title": "Solo", "definition": "Camada superficial"},
	}

	var dropped int
	got, err := Sanitize(raw, WithDropHook(func(n int) { dropped = n }))
	if err != nil {
		t.Fatalf("Sanitize() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Sanitize() returned %d terms, want 2: %+v", len(got), got)
	}
	if got[0].Title != "Ar" || got[1].Title != "Solo" {
		t.Errorf("order not preserved: %+v", got)
	}
	if got[1].Category != DefaultCategory {
		t.Errorf("Category = %q, want %q", got[1].Category, DefaultCategory)
	}
	if dropped != 5 {
		t.Errorf("dropped = %d, want 5", dropped)
	}
}

func TestSanitize_Truncation(t *testing.T) {
	longTitle := strings.Repeat("á", 150)
	longDef := strings.Repeat("d", 2500)
	longCat := strings.Repeat("c", 45)

	got, err := Sanitize([]any{map[string]any{"t": longTitle, "d": longDef, "c": longCat}})
	if err != nil {
		t.Fatalf("Sanitize() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 term, got %d", len(got))
	}

	term := got[0]
	if n := len([]rune(term.Title)); n != MaxTitleLen {
		t.Errorf("title length = %d, want %d", n, MaxTitleLen)
	}
	if !strings.HasSuffix(term.Definition, TruncationMarker) {
		t.Errorf("definition missing truncation marker")
	}
	if n := len([]rune(term.Definition)); n != MaxDefinitionLen+len(TruncationMarker) {
		t.Errorf("definition length = %d, want %d", n, MaxDefinitionLen+len(TruncationMarker))
	}
	if n := len([]rune(term.Category)); n != MaxCategoryLen {
		t.Errorf("category length = %d, want %d", n, MaxCategoryLen)
	}

	exact := strings.Repeat("d", MaxDefinitionLen)
	got, _ = Sanitize([]any{map[string]any{"t": "x", "d": exact}})
	if got[0].Definition != exact {
		t.Errorf("definition at the limit should not be marked")
	}
}

func TestSanitize_StripsMarkup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Solo fértil", want: "Solo fértil"},
		{name: "bold", in: "<b>Solo</b> fértil", want: "Solo fértil"},
		{name: "script dropped", in: "Ar<script>alert(1)</script>", want: "Ar"},
		{name: "entities decoded", in: "Fauna &amp; Flora", want: "Fauna & Flora"},
		{name: "image handler", in: `<img src=x onerror="alert(1)">Mangal`, want: "Mangal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripTagsRegex(t *testing.T) {
	if got := StripTagsRegex("<i>Clima</i> <unclosed"); got != "Clima " {
		t.Errorf("StripTagsRegex() = %q", got)
	}
}

func TestSanitize_CoercionAndTombstone(t *testing.T) {
	raw := []any{
		map[string]any{"t": float64(2030), "d": true, "c": "Leis"},
		map[string]any{"t": "Água", "deleted_at": "2024-01-01"},
		map[string]any{"t": "Ar", "deletedAt": "2024-02-02T00:00:00Z"},
	}

	got, err := Sanitize(raw)
	if err != nil {
		t.Fatalf("Sanitize() error = %v", err)
	}
	if got[0].Title != "2030" || got[0].Definition != "true" {
		t.Errorf("coercion failed: %+v", got[0])
	}
	if got[0].IsTombstone() {
		t.Errorf("row without deleted_at marked as tombstone")
	}
	if !got[1].IsTombstone() || *got[1].DeletedAt != "2024-01-01" {
		t.Errorf("tombstone not preserved: %+v", got[1])
	}
	if got[1].Definition != "" {
		t.Errorf("tombstone definition = %q, want empty", got[1].Definition)
	}
	if !got[2].IsTombstone() {
		t.Errorf("camelCase tombstone not preserved: %+v", got[2])
	}
}

func TestSanitizeJSON(t *testing.T) {
	got, err := SanitizeJSON([]byte(`[{"t":"Ar","d":"def","c":"Geral"}]`))
	if err != nil {
		t.Fatalf("SanitizeJSON() error = %v", err)
	}
	if len(got) != 1 || got[0].Category != "Geral" {
		t.Errorf("SanitizeJSON() = %+v", got)
	}

	if _, err := SanitizeJSON([]byte(`{"t":"Ar"}`)); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("object payload error = %v, want ErrInvalidFormat", err)
	}
	if _, err := SanitizeJSON([]byte(`not json`)); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("garbage payload error = %v, want ErrInvalidFormat", err)
	}
}
