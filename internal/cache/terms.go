package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/ecoterms/ecosync/internal/schema"
)

// VersionChange classifies a stored dataset version against the expected
// one: "same", "upgrade" (stored is older), "downgrade" (stored is newer)
// or "unknown" when either is not a semantic version.
func VersionChange(stored, expected string) string {
	if stored == expected {
		return "same"
	}
	sv, ev := canonicalSemver(stored), canonicalSemver(expected)
	if !semver.IsValid(sv) || !semver.IsValid(ev) {
		return "unknown"
	}
	switch semver.Compare(sv, ev) {
	case -1:
		return "upgrade"
	case 1:
		return "downgrade"
	default:
		return "same"
	}
}

func canonicalSemver(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// LoadSyncCursor returns the stored cursor. ErrNotFound means no cursor
// exists or it belongs to another dataset version.
func (s *Store) LoadSyncCursor(ctx context.Context) (schema.SyncCursor, error) {
	return s.loadCursor(ctx, s.conn)
}

func (s *Store) loadCursor(ctx context.Context, q querier) (schema.SyncCursor, error) {
	var cursor schema.SyncCursor
	if err := getJSON(ctx, q, keySyncCursor, &cursor); err != nil {
		return schema.SyncCursor{}, err
	}
	if cursor.SchemaVersion != s.version {
		return schema.SyncCursor{}, fmt.Errorf("cursor version %q (%s): %w",
			cursor.SchemaVersion, VersionChange(cursor.SchemaVersion, s.version), ErrNotFound)
	}
	return cursor, nil
}

// SaveSyncCursor overwrites the cursor. The schema version is always
// stamped with the store's version.
func (s *Store) SaveSyncCursor(ctx context.Context, cursor schema.SyncCursor) error {
	cursor.SchemaVersion = s.version
	return putJSON(ctx, s.conn, keySyncCursor, cursor)
}

// LoadCanonicalSet returns the stored term set after checking the cursor's
// dataset version. ErrNotFound is returned on absence or version mismatch.
func (s *Store) LoadCanonicalSet(ctx context.Context) ([]schema.Term, error) {
	if _, err := s.loadCursor(ctx, s.conn); err != nil {
		return nil, err
	}

	var terms []schema.Term
	if err := getJSON(ctx, s.conn, keyCanonicalSet, &terms); err != nil {
		return nil, err
	}
	return terms, nil
}

// SaveCanonicalSet overwrites the term set.
func (s *Store) SaveCanonicalSet(ctx context.Context, terms []schema.Term) error {
	if terms == nil {
		terms = []schema.Term{}
	}
	return putJSON(ctx, s.conn, keyCanonicalSet, terms)
}

// SaveSyncResult commits a merged set and its cursor together.
func (s *Store) SaveSyncResult(ctx context.Context, terms []schema.Term, cursor schema.SyncCursor) error {
	if terms == nil {
		terms = []schema.Term{}
	}
	cursor.SchemaVersion = s.version

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := putJSON(ctx, tx, keyCanonicalSet, terms); err != nil {
			return err
		}
		return putJSON(ctx, tx, keySyncCursor, cursor)
	})
}

// Bootstrap returns the cached set and cursor, reseeding from floor when the
// cache is absent, empty, or written under another dataset version. A
// reseed leaves the cursor empty so the next pull starts from the beginning.
func (s *Store) Bootstrap(ctx context.Context, floor []schema.Term) ([]schema.Term, schema.SyncCursor, error) {
	terms, err := s.LoadCanonicalSet(ctx)
	if err == nil && len(terms) > 0 {
		cursor, err := s.LoadSyncCursor(ctx)
		if err != nil {
			return nil, schema.SyncCursor{}, fmt.Errorf("failed to load sync cursor: %w", err)
		}
		return terms, cursor, nil
	}

	switch {
	case err == nil:
		s.logger.Printf("Cached dataset is empty, reseeding %d terms", len(floor))
	case errors.Is(err, ErrNotFound):
		s.logger.Printf("No usable cached dataset (%v), reseeding %d terms", err, len(floor))
	default:
		s.logger.Printf("WARNING: failed to read cached dataset, reseeding: %v", err)
	}

	cursor := schema.SyncCursor{SchemaVersion: s.version}
	if err := s.SaveSyncResult(ctx, floor, cursor); err != nil {
		return nil, schema.SyncCursor{}, fmt.Errorf("failed to reseed cache: %w", err)
	}

	out := make([]schema.Term, len(floor))
	copy(out, floor)
	return out, cursor, nil
}
