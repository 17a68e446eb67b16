package seed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ecoterms/ecosync/internal/merge"
)

func TestDefault(t *testing.T) {
	ds := Default()

	if ds.Version != "1.3.3" {
		t.Errorf("Version = %q, want 1.3.3", ds.Version)
	}
	if len(ds.Terms) < 20 {
		t.Errorf("expected a usable floor, got %d terms", len(ds.Terms))
	}
	if !merge.IsSorted(ds.Terms) {
		t.Error("bundled dataset is not sorted")
	}
	for _, term := range ds.Terms {
		if term.Category == "" || term.Definition == "" {
			t.Errorf("term %q is incomplete", term.Title)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    int
		wantErr string
	}{
		{
			name: "valid",
			yaml: "version: \"2.0.0\"\nterms:\n  - t: Ar\n    d: gases\n  - t: \"\"\n    d: dropped\n",
			want: 1,
		},
		{
			name:    "no usable terms",
			yaml:    "version: \"2.0.0\"\nterms: []\n",
			wantErr: "no usable terms",
		},
		{
			name:    "broken yaml",
			yaml:    "terms: [",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(ds.Terms) != tt.want {
				t.Errorf("len(Terms) = %d, want %d", len(ds.Terms), tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte("version: \"9.9.9\"\nterms:\n  - t: Solo\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.Version != "9.9.9" || ds.Terms[0].Category != "General" {
		t.Errorf("Load() = %+v", ds)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
