// Package cache is the local, versioned key-value store behind the sync
// engine.
//
// The store is an embedded SQLite database in WAL mode holding one table of
// JSON values:
//
//	canonical_set        sorted []Term
//	sync_cursor          SyncCursor
//	favorites/<identity> FavoriteSet
//	history/<identity>   HistoryLog
//	offline_queue        []SyncAction
//	session              identity key of the signed-in user
//
// Every write replaces the whole value. Reads of the canonical set and the
// cursor are gated on the dataset version: a cursor written under another
// version reads as ErrNotFound, and Bootstrap reseeds from the floor dataset.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ecoterms/ecosync/internal/schema"
)

// DefaultSchemaVersion is the dataset version this build expects.
const DefaultSchemaVersion = "1.3.3"

const (
	keyCanonicalSet = "canonical_set"
	keySyncCursor   = "sync_cursor"
	keyQueue        = "offline_queue"
	keySession      = "session"
)

// ErrNotFound is returned when a value is absent or was written under a
// different dataset version.
var ErrNotFound = errors.New("not found")

func favoritesKey(id schema.Identity) string { return "favorites/" + id.Key() }
func historyKey(id schema.Identity) string   { return "history/" + id.Key() }

// Config holds store options.
type Config struct {
	// SchemaVersion is the dataset version reads are gated on.
	SchemaVersion string

	// Logger for store activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SchemaVersion: DefaultSchemaVersion,
		Logger:        log.New(os.Stderr, "[cache] ", log.LstdFlags),
	}
}

// Store wraps the SQLite connection.
type Store struct {
	conn    *sql.DB
	path    string
	version string
	logger  *log.Logger
}

// Open opens (creating if needed) the store at path with default settings.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	return OpenWithConfig(path, DefaultConfig())
}

// OpenWithConfig opens the store with custom configuration and creates the
// schema if it does not exist.
func OpenWithConfig(path string, config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SchemaVersion == "" {
		config.SchemaVersion = DefaultSchemaVersion
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:    conn,
		path:    path,
		version: config.SchemaVersion,
		logger:  config.Logger,
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// SchemaVersion returns the dataset version reads are gated on.
func (s *Store) SchemaVersion() string {
	return s.version
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the key-value table. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the key-value table with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,  -- JSON
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getJSON(ctx context.Context, q querier, key string, v any) error {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func putJSON(ctx context.Context, q querier, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, key, string(data), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func deleteKey(ctx context.Context, q querier, key string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// withTx runs fn in a transaction, committing only if it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
