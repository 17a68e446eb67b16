// Package remote defines the backend the sync engine talks to when online,
// and a SQL implementation of it for Turso/libSQL databases.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransient wraps every failed remote call. Callers treat it as "stay
// offline, retry later"; transient and permanent failures are not told apart.
var ErrTransient = errors.New("remote unavailable")

// TermRow is one record of a term delta as the backend returns it.
type TermRow struct {
	Title      string
	Definition string
	Category   string
	UpdatedAt  string
	DeletedAt  *string
}

// Raw converts the row into the loose shape the sanitizer accepts.
func (r TermRow) Raw() map[string]any {
	m := map[string]any{
		"t":          r.Title,
		"d":          r.Definition,
		"c":          r.Category,
		"updated_at": r.UpdatedAt,
	}
	if r.DeletedAt != nil {
		m["deleted_at"] = *r.DeletedAt
	}
	return m
}

// Remote is the backend collaborator.
//
// Every method may fail with an error wrapping ErrTransient.
type Remote interface {
	// FetchTermDeltas returns term rows updated after since, or every row
	// when since is the zero time.
	FetchTermDeltas(ctx context.Context, since time.Time) ([]TermRow, error)

	// UpsertFavorite records term as a favorite of owner. Idempotent.
	UpsertFavorite(ctx context.Context, ownerID, term string) error

	// DeleteFavorite removes term from owner's favorites. Idempotent.
	DeleteFavorite(ctx context.Context, ownerID, term string) error

	// InsertHistory appends a search query. A zero at means "now".
	InsertHistory(ctx context.Context, ownerID, query string, at time.Time) error

	// FetchFavorites returns owner's favorite titles.
	FetchFavorites(ctx context.Context, ownerID string) ([]string, error)

	// FetchHistory returns owner's most recent queries, newest first.
	FetchHistory(ctx context.Context, ownerID string, limit int) ([]string, error)

	// CountFavorites and CountHistory back the profile statistics.
	CountFavorites(ctx context.Context, ownerID string) (int, error)
	CountHistory(ctx context.Context, ownerID string) (int, error)

	// EnsureProfile creates owner's profile row if it does not exist.
	EnsureProfile(ctx context.Context, ownerID, displayName string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
