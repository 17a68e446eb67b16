package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/ecoterms/ecosync/internal/schema"
)

// timeFormat is fixed-width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// Config holds connection options for the SQL backend.
type Config struct {
	// URL is a libsql://, https:// or wss:// Turso URL, or a local file
	// path for development backends.
	URL string

	// AuthToken is sent to Turso when URL is remote.
	AuthToken string

	// Timeout bounds every remote call (default: 10s).
	Timeout time.Duration

	// Logger for backend activity
	Logger *log.Logger
}

// SQL implements Remote over database/sql.
type SQL struct {
	conn    *sql.DB
	timeout time.Duration
	logger  *log.Logger
}

// driverFor picks the driver and DSN for a backend URL.
func driverFor(rawURL, token string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(rawURL, "libsql://"),
		strings.HasPrefix(rawURL, "https://"),
		strings.HasPrefix(rawURL, "http://"),
		strings.HasPrefix(rawURL, "wss://"),
		strings.HasPrefix(rawURL, "ws://"):
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", "", fmt.Errorf("invalid remote URL: %w", err)
		}
		if token != "" {
			q := u.Query()
			q.Set("authToken", token)
			u.RawQuery = q.Encode()
		}
		return "libsql", u.String(), nil
	case rawURL == "":
		return "", "", fmt.Errorf("remote URL is required")
	default:
		return "sqlite3", "file:" + strings.TrimPrefix(rawURL, "file:"), nil
	}
}

// Open connects to the backend described by config.
func Open(ctx context.Context, config Config) (*SQL, error) {
	driver, dsn, err := driverFor(config.URL, config.AuthToken)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote: %w", err)
	}

	s := NewSQL(conn, config.Timeout, config.Logger)
	if driver == "sqlite3" {
		if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	return s, nil
}

// NewSQL wraps an existing connection.
func NewSQL(conn *sql.DB, timeout time.Duration, logger *log.Logger) *SQL {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &SQL{conn: conn, timeout: timeout, logger: logger}
}

// Close closes the connection.
func (s *SQL) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close remote: %w", err)
	}
	return nil
}

// InitSchema creates the backend tables. Production backends are
// provisioned separately; this exists for development databases and tests.
func (s *SQL) InitSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS terms (
		t TEXT PRIMARY KEY,
		d TEXT NOT NULL DEFAULT '',
		c TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE TABLE IF NOT EXISTS favorites (
		user_id TEXT NOT NULL,
		term TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (user_id, term)
	);

	CREATE TABLE IF NOT EXISTS search_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		query TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		display_name TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_terms_updated ON terms(updated_at);
	CREATE INDEX IF NOT EXISTS idx_history_user ON search_history(user_id, created_at);
	`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize remote schema: %w", err)
	}
	return nil
}

func (s *SQL) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// FetchTermDeltas implements Remote.FetchTermDeltas.
func (s *SQL) FetchTermDeltas(ctx context.Context, since time.Time) ([]TermRow, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT t, d, c, updated_at, deleted_at FROM terms`
	var args []any
	if !since.IsZero() {
		query += ` WHERE updated_at > ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY updated_at, t`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transient("fetch term deltas", err)
	}
	defer rows.Close()

	var out []TermRow
	for rows.Next() {
		var (
			r       TermRow
			deleted sql.NullString
		)
		if err := rows.Scan(&r.Title, &r.Definition, &r.Category, &r.UpdatedAt, &deleted); err != nil {
			return nil, transient("scan term delta", err)
		}
		if deleted.Valid && deleted.String != "" {
			v := deleted.String
			r.DeletedAt = &v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("iterate term deltas", err)
	}
	return out, nil
}

// UpsertFavorite implements Remote.UpsertFavorite.
func (s *SQL) UpsertFavorite(ctx context.Context, ownerID, term string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
	INSERT INTO favorites (user_id, term, created_at) VALUES (?, ?, ?)
	ON CONFLICT(user_id, term) DO NOTHING
	`
	if _, err := s.conn.ExecContext(ctx, query, ownerID, term, formatTime(time.Now())); err != nil {
		return transient("upsert favorite", err)
	}
	return nil
}

// DeleteFavorite implements Remote.DeleteFavorite.
func (s *SQL) DeleteFavorite(ctx context.Context, ownerID, term string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM favorites WHERE user_id = ? AND term = ?`, ownerID, term); err != nil {
		return transient("delete favorite", err)
	}
	return nil
}

// InsertHistory implements Remote.InsertHistory.
func (s *SQL) InsertHistory(ctx context.Context, ownerID, query string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.conn.ExecContext(ctx,
		`INSERT INTO search_history (user_id, query, created_at) VALUES (?, ?, ?)`,
		ownerID, query, formatTime(at)); err != nil {
		return transient("insert history", err)
	}
	return nil
}

// FetchFavorites implements Remote.FetchFavorites.
func (s *SQL) FetchFavorites(ctx context.Context, ownerID string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.queryStrings(ctx, "fetch favorites",
		`SELECT term FROM favorites WHERE user_id = ? ORDER BY created_at, term`, ownerID)
}

// FetchHistory implements Remote.FetchHistory.
func (s *SQL) FetchHistory(ctx context.Context, ownerID string, limit int) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	return s.queryStrings(ctx, "fetch history",
		`SELECT query FROM search_history WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		ownerID, limit)
}

func (s *SQL) queryStrings(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transient(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, transient(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(op, err)
	}
	return out, nil
}

// CountFavorites implements Remote.CountFavorites.
func (s *SQL) CountFavorites(ctx context.Context, ownerID string) (int, error) {
	return s.count(ctx, "count favorites", `SELECT COUNT(*) FROM favorites WHERE user_id = ?`, ownerID)
}

// CountHistory implements Remote.CountHistory.
func (s *SQL) CountHistory(ctx context.Context, ownerID string) (int, error) {
	return s.count(ctx, "count history", `SELECT COUNT(*) FROM search_history WHERE user_id = ?`, ownerID)
}

func (s *SQL) count(ctx context.Context, op, query string, args ...any) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, transient(op, err)
	}
	return n, nil
}

// EnsureProfile implements Remote.EnsureProfile.
func (s *SQL) EnsureProfile(ctx context.Context, ownerID, displayName string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var existing string
	err := s.conn.QueryRowContext(ctx, `SELECT id FROM profiles WHERE id = ?`, ownerID).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return transient("fetch profile", err)
	}

	query := `
	INSERT INTO profiles (id, display_name, created_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`
	if _, err := s.conn.ExecContext(ctx, query, ownerID, displayName, formatTime(time.Now())); err != nil {
		return transient("create profile", err)
	}
	s.logger.Printf("Created profile for %s", ownerID)
	return nil
}

// Ping implements Remote.Ping.
func (s *SQL) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.conn.PingContext(ctx); err != nil {
		return transient("ping", err)
	}
	var one int
	if err := s.conn.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return transient("ping", err)
	}
	return nil
}

// PublishTerms writes terms to the backend as if an editor had changed them
// at the given time. Tombstones set deleted_at instead of removing the row.
// Used to populate development backends.
func (s *SQL) PublishTerms(ctx context.Context, terms []schema.Term, at time.Time) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO terms (t, d, c, updated_at, deleted_at) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(t) DO UPDATE SET
		d = CASE WHEN excluded.deleted_at IS NULL THEN excluded.d ELSE terms.d END,
		c = CASE WHEN excluded.deleted_at IS NULL THEN excluded.c ELSE terms.c END,
		updated_at = excluded.updated_at,
		deleted_at = excluded.deleted_at
	`
	stamp := formatTime(at)
	for _, t := range terms {
		var deleted any
		if t.IsTombstone() {
			deleted = *t.DeletedAt
		}
		if _, err := tx.ExecContext(ctx, query, t.Title, t.Definition, t.Category, stamp, deleted); err != nil {
			return fmt.Errorf("failed to publish term %q: %w", t.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.logger.Printf("Published %d terms", len(terms))
	return nil
}
