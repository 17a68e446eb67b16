package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Term is a single dictionary entry. Title is the key.
type Term struct {
	Title      string `json:"t"`
	Definition string `json:"d"`
	Category   string `json:"c"`

	// DeletedAt marks a tombstone. Kept as the opaque string the server sent.
	DeletedAt *string `json:"deleted_at,omitempty"`
}

// IsTombstone reports whether the term signals a removal.
func (t Term) IsTombstone() bool {
	return t.DeletedAt != nil && *t.DeletedAt != ""
}

// Tombstone returns a deletion marker for title.
func Tombstone(title, at string) Term {
	return Term{Title: title, DeletedAt: &at}
}

// SyncCursor records how far the local canonical set has been synced and
// under which dataset version it was written.
type SyncCursor struct {
	// LastSyncISO is the RFC 3339 time of the last successful pull.
	// Empty means "since the beginning".
	LastSyncISO string `json:"last_sync_iso"`

	// LastSyncDisplay is LastSyncISO rendered for humans (dd/mm/yyyy hh:mm).
	LastSyncDisplay string `json:"last_sync_display,omitempty"`

	SchemaVersion string `json:"schema_version"`
}

// Since parses LastSyncISO. The zero time is returned for an empty cursor.
func (c SyncCursor) Since() (time.Time, error) {
	if c.LastSyncISO == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, c.LastSyncISO)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid last_sync_iso %q: %w", c.LastSyncISO, err)
	}
	return ts, nil
}

// Advance returns a copy of the cursor moved to at.
func (c SyncCursor) Advance(at time.Time) SyncCursor {
	c.LastSyncISO = at.UTC().Format(time.RFC3339Nano)
	c.LastSyncDisplay = at.Local().Format("02/01/2006 15:04")
	return c
}

// ReadDeltaFile reads a JSON delta drop. The payload is returned undecoded
// beyond generic JSON so the sanitizer can judge every row itself.
func ReadDeltaFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read delta file %s: %w", path, err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse delta file %s: %w", path, err)
	}

	return raw, nil
}

// WriteDeltaFile writes terms as a delta drop into dir/name.json.
func WriteDeltaFile(dir, name string, terms []Term) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create inbox directory: %w", err)
	}

	data, err := json.MarshalIndent(terms, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal delta: %w", err)
	}

	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write delta file %s: %w", path, err)
	}

	return path, nil
}
