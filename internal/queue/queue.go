// Package queue is the durable offline action queue.
//
// User mutations that could not reach the backend are appended here, tagged
// with the owning user, and replayed by Drain. Actions of other owners are
// never touched by a drain, so queued work survives sign-out and sign-in
// under a different account.
//
// Retry policy: a failed write re-queues the action with RetryCount+1. Once
// RetryCount would exceed the ceiling (default 3) the action is dropped and
// reported to the diagnostics sink. Drops are not surfaced to callers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ecoterms/ecosync/internal/diag"
	"github.com/ecoterms/ecosync/internal/schema"
)

// DefaultRetryCeiling is the highest RetryCount an action may carry.
const DefaultRetryCeiling = 3

// ErrInvalidAction is returned by Enqueue for actions that cannot be replayed.
var ErrInvalidAction = errors.New("invalid action")

// Store persists the queue as a whole value.
type Store interface {
	LoadQueue(ctx context.Context) ([]schema.SyncAction, error)
	SaveQueue(ctx context.Context, actions []schema.SyncAction) error
}

// Writer applies actions to the backend.
type Writer interface {
	UpsertFavorite(ctx context.Context, ownerID, term string) error
	DeleteFavorite(ctx context.Context, ownerID, term string) error
	InsertHistory(ctx context.Context, ownerID, query string, at time.Time) error
}

// Config holds queue options.
type Config struct {
	// RetryCeiling is the highest retry count kept (default: 3).
	RetryCeiling int

	// Online reports connectivity. When it returns true, Enqueue drains
	// the owner's actions against AutoDrainWriter straight away.
	Online func() bool

	// AutoDrainWriter is the writer used by Enqueue's immediate drain.
	AutoDrainWriter Writer

	// Diag receives dropped-action events.
	Diag diag.Sink

	// Logger for queue activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RetryCeiling: DefaultRetryCeiling,
		Logger:       log.New(os.Stderr, "[queue] ", log.LstdFlags),
	}
}

// Result summarizes one drain.
type Result struct {
	// Skipped is true when another drain for the owner was in flight.
	Skipped bool

	Attempted int
	Applied   int
	Requeued  int
	Dropped   int
}

// Queue serializes every read-modify-write of the persisted queue.
type Queue struct {
	store  Store
	config *Config
	diag   diag.Sink

	mu       sync.Mutex
	draining map[string]bool
}

// New creates a queue over store.
func New(store Store, config *Config) *Queue {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RetryCeiling <= 0 {
		config.RetryCeiling = DefaultRetryCeiling
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{
		store:    store,
		config:   config,
		diag:     diag.Or(config.Diag),
		draining: make(map[string]bool),
	}
}

// RetryCeiling returns the configured ceiling.
func (q *Queue) RetryCeiling() int {
	return q.config.RetryCeiling
}

// Enqueue appends a new action with zero retries and persists the queue.
// If the queue is configured for auto-drain and currently online, the
// owner's actions are drained before returning; drain failures only leave
// actions queued and are not returned.
func (q *Queue) Enqueue(ctx context.Context, kind schema.ActionKind, op schema.ActionOp, payload, ownerID string) (schema.SyncAction, error) {
	action := schema.NewSyncAction(kind, op, payload, ownerID)
	if err := action.Validate(); err != nil {
		return schema.SyncAction{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	q.mu.Lock()
	actions, err := q.store.LoadQueue(ctx)
	if err == nil {
		actions = append(actions, action)
		err = q.store.SaveQueue(ctx, actions)
	}
	q.mu.Unlock()
	if err != nil {
		return schema.SyncAction{}, fmt.Errorf("failed to persist queued action: %w", err)
	}

	q.config.Logger.Printf("Queued %s", action)

	if q.config.Online != nil && q.config.AutoDrainWriter != nil && q.config.Online() {
		if _, err := q.Drain(ctx, ownerID, q.config.AutoDrainWriter); err != nil {
			q.config.Logger.Printf("WARNING: immediate drain failed: %v", err)
		}
	}

	return action, nil
}

// Pending returns the owner's queued actions in enqueue order.
func (q *Queue) Pending(ctx context.Context, ownerID string) ([]schema.SyncAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.store.LoadQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	var mine []schema.SyncAction
	for _, a := range actions {
		if a.OwnerID == ownerID {
			mine = append(mine, a)
		}
	}
	return mine, nil
}

// Len returns the number of queued actions across all owners.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.store.LoadQueue(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load queue: %w", err)
	}
	return len(actions), nil
}

func (q *Queue) begin(ownerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.draining[ownerID] {
		return false
	}
	q.draining[ownerID] = true
	return true
}

func (q *Queue) end(ownerID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.draining, ownerID)
}
