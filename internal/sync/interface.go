package sync

import (
	"context"
	"errors"
	"time"

	"github.com/ecoterms/ecosync/internal/queue"
	"github.com/ecoterms/ecosync/internal/schema"
)

// ErrOffline is returned by operations that need the backend while it is
// unreachable or not configured.
var ErrOffline = errors.New("offline")

// ErrAnonymous is returned by operations that need a signed-in user.
var ErrAnonymous = errors.New("no user signed in")

// State is the orchestrator's current phase.
type State string

const (
	StateIdle          State = "idle"
	StatePullingDelta  State = "pulling_delta"
	StateMerging       State = "merging"
	StateDrainingQueue State = "draining_queue"
)

// Event types delivered to Config.OnEvent.
const (
	EventState    = "state"
	EventPull     = "pull"
	EventDelta    = "delta"
	EventDrain    = "drain"
	EventIdentity = "identity"
	EventOnline   = "online"
	EventOffline  = "offline"
)

// Event describes something the orchestrator did.
type Event struct {
	Type     string    `json:"type"`
	State    State     `json:"state"`
	Time     time.Time `json:"time"`
	Identity string    `json:"identity,omitempty"`
	Applied  int       `json:"applied,omitempty"`
	Requeued int       `json:"requeued,omitempty"`
	Dropped  int       `json:"dropped,omitempty"`
	Terms    int       `json:"terms,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// PullResult summarizes one Pull.
type PullResult struct {
	// Skipped is true when another pull was in flight.
	Skipped bool

	// Fetched is the number of rows the backend returned, Applied the
	// number that survived sanitizing.
	Fetched int
	Applied int

	// Changed reports whether the canonical set differs afterwards.
	Changed bool

	Cursor schema.SyncCursor
}

// Stats are the profile counters.
type Stats struct {
	Favorites int  `json:"favorites"`
	History   int  `json:"history"`
	Remote    bool `json:"remote"`
}

// Orchestrator is the sync state machine.
type Orchestrator interface {
	// Start bootstraps the cache and pulls when the backend is reachable.
	// Only local storage failures are returned.
	Start(ctx context.Context) error

	// Probe pings the backend and fires OnOnline or OnOffline when the
	// result differs from the current connectivity.
	Probe(ctx context.Context) bool

	// OnOnline marks the backend reachable. Coming from offline it drains
	// the signed-in user's queue, reconciles their favorites and history
	// with the backend and then pulls. Failures are logged.
	OnOnline(ctx context.Context)

	// OnOffline marks the backend unreachable.
	OnOffline()

	// SignIn switches to an authenticated identity, folding the anonymous
	// favorites and history into the user's and clearing them. The
	// anonymous queries are uploaded, or queued when offline. When online,
	// favorites and history are reconciled with the backend; otherwise
	// that waits for the next OnOnline.
	SignIn(ctx context.Context, id schema.Identity, displayName string) error

	// SignOut returns to the anonymous identity. Queued actions are kept.
	SignOut(ctx context.Context) error

	// Pull fetches, sanitizes and merges remote deltas since the cursor.
	Pull(ctx context.Context) (PullResult, error)

	// Drain replays the signed-in user's queued actions.
	Drain(ctx context.Context) (queue.Result, error)

	// ApplyDelta merges a locally supplied delta without moving the cursor
	// and returns the number of rows applied.
	ApplyDelta(ctx context.Context, raw any) (int, error)

	// ToggleFavorite flips title's membership and reports whether it is
	// now a favorite.
	ToggleFavorite(ctx context.Context, title string) (bool, error)

	// RecordSearch adds the trimmed query to the history. Queries of fewer
	// than three characters are ignored and reported as not recorded.
	RecordSearch(ctx context.Context, query string) (bool, error)

	// Stats counts favorites and history, from the backend when online.
	Stats(ctx context.Context) (Stats, error)

	State() State
	Online() bool
	Identity() schema.Identity
	Terms() []schema.Term
	Cursor() schema.SyncCursor
	Favorites(ctx context.Context) (*schema.FavoriteSet, error)
	History(ctx context.Context) (schema.HistoryLog, error)
}
