// Package seed holds the bundled default dataset that the local cache falls
// back to when it is empty or was written under another dataset version.
package seed

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ecoterms/ecosync/internal/merge"
	"github.com/ecoterms/ecosync/internal/sanitize"
	"github.com/ecoterms/ecosync/internal/schema"
)

//go:embed terms.yaml
var bundled []byte

// Dataset is a versioned list of terms.
type Dataset struct {
	Version string
	Terms   []schema.Term
}

type yamlTerm struct {
	Title      string `yaml:"t"`
	Definition string `yaml:"d"`
	Category   string `yaml:"c"`
}

// Default returns the dataset compiled into the binary, sanitized and sorted.
// It panics if the embedded file is broken, which is a build defect.
func Default() Dataset {
	ds, err := Parse(bundled)
	if err != nil {
		panic(fmt.Sprintf("seed: bundled dataset is invalid: %v", err))
	}
	return ds
}

// Load reads a dataset from a YAML file, for operators replacing the
// bundled floor with their own.
func Load(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and runs every row through the sanitizer so the floor
// obeys the same bounds as synced data.
func Parse(data []byte) (Dataset, error) {
	var doc struct {
		Version string     `yaml:"version"`
		Terms   []yamlTerm `yaml:"terms"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Dataset{}, fmt.Errorf("failed to parse seed dataset: %w", err)
	}

	rows := make([]map[string]any, 0, len(doc.Terms))
	for _, t := range doc.Terms {
		rows = append(rows, map[string]any{"t": t.Title, "d": t.Definition, "c": t.Category})
	}

	terms, err := sanitize.Sanitize(rows)
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to sanitize seed dataset: %w", err)
	}
	if len(terms) == 0 {
		return Dataset{}, fmt.Errorf("seed dataset has no usable terms")
	}

	return Dataset{
		Version: doc.Version,
		Terms:   merge.Merge(nil, terms),
	}, nil
}
