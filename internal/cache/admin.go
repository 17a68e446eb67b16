package cache

import (
	"context"
	"fmt"
)

// Entry describes one stored key.
type Entry struct {
	Key       string
	Bytes     int
	UpdatedAt string
}

// Entries lists every stored key, ordered by key.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, length(value), updated_at FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Bytes, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cache entries: %w", err)
	}
	return entries, nil
}

// Reset deletes every stored value. The next Bootstrap reseeds.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("failed to reset cache: %w", err)
	}
	s.logger.Printf("Cache reset")
	return nil
}
