package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/ecoterms/ecosync/internal/diag"
	"github.com/ecoterms/ecosync/internal/queue"
	"github.com/ecoterms/ecosync/internal/remote"
	"github.com/ecoterms/ecosync/internal/schema"
)

// Cache is the local persistence the orchestrator needs.
type Cache interface {
	Bootstrap(ctx context.Context, floor []schema.Term) ([]schema.Term, schema.SyncCursor, error)
	SaveCanonicalSet(ctx context.Context, terms []schema.Term) error
	SaveSyncResult(ctx context.Context, terms []schema.Term, cursor schema.SyncCursor) error

	LoadFavorites(ctx context.Context, id schema.Identity) (*schema.FavoriteSet, error)
	SaveFavorites(ctx context.Context, id schema.Identity, set *schema.FavoriteSet) error
	LoadHistory(ctx context.Context, id schema.Identity) (schema.HistoryLog, error)
	SaveHistory(ctx context.Context, id schema.Identity, h schema.HistoryLog) error
	TransferIdentity(ctx context.Context, from, to schema.Identity, favs *schema.FavoriteSet, h schema.HistoryLog) error

	LoadSession(ctx context.Context) (schema.Identity, error)
	SaveSession(ctx context.Context, id schema.Identity) error
}

// Default tuning values.
const (
	DefaultRemoteHistoryLimit = 20
	DefaultReconnectWait      = time.Second
)

// Config holds orchestrator options.
type Config struct {
	// Floor is the bundled dataset used when the cache has nothing usable.
	Floor []schema.Term

	// HistoryLimit caps the local history (default: 10).
	HistoryLimit int

	// RemoteHistoryLimit is how many cloud history entries sign-in fetches
	// (default: 20).
	RemoteHistoryLimit int

	// ReconnectWait is how long sign-in waits before re-checking
	// connectivity once when offline (default: 1s).
	ReconnectWait time.Duration

	// Diag receives dropped-row and pull/drain counters.
	Diag diag.Sink

	// OnEvent, if set, is called synchronously for every event.
	OnEvent func(Event)

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Logger for orchestrator activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HistoryLimit:       schema.DefaultHistoryLimit,
		RemoteHistoryLimit: DefaultRemoteHistoryLimit,
		ReconnectWait:      DefaultReconnectWait,
		Now:                time.Now,
		Logger:             log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

const (
	phaseNone int32 = iota
	phasePulling
	phaseMerging
)

// orchestrator implements the Orchestrator interface.
type orchestrator struct {
	cache  Cache
	remote remote.Remote
	queue  *queue.Queue
	config *Config
	diag   diag.Sink
	logger *log.Logger

	online    atomic.Bool
	pulling   atomic.Bool
	draining  atomic.Bool
	pullPhase atomic.Int32

	// mu guards identity and every read-modify-write of per-user state.
	mu       gosync.Mutex
	identity schema.Identity

	// setMu guards the canonical set and cursor.
	setMu  gosync.RWMutex
	terms  []schema.Term
	cursor schema.SyncCursor
}

// New creates an Orchestrator. rem may be nil, in which case the engine
// stays offline and serves the cached or bundled set.
//
// If config is nil, DefaultConfig is used.
func New(cache Cache, rem remote.Remote, q *queue.Queue, config *Config) Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = schema.DefaultHistoryLimit
	}
	if config.RemoteHistoryLimit <= 0 {
		config.RemoteHistoryLimit = DefaultRemoteHistoryLimit
	}
	if config.ReconnectWait < 0 {
		config.ReconnectWait = 0
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	return &orchestrator{
		cache:  cache,
		remote: rem,
		queue:  q,
		config: config,
		diag:   diag.Or(config.Diag),
		logger: config.Logger,
	}
}

// Start implements Orchestrator.Start.
func (o *orchestrator) Start(ctx context.Context) error {
	terms, cursor, err := o.cache.Bootstrap(ctx, o.config.Floor)
	if err != nil {
		return fmt.Errorf("failed to bootstrap cache: %w", err)
	}

	o.setMu.Lock()
	o.terms = terms
	o.cursor = cursor
	o.setMu.Unlock()

	id, err := o.cache.LoadSession(ctx)
	if err != nil {
		o.logger.Printf("WARNING: failed to restore session, continuing anonymous: %v", err)
		id = schema.Anonymous
	}
	o.mu.Lock()
	o.identity = id
	o.mu.Unlock()

	o.logger.Printf("Serving %d terms as %s (last sync: %s)", len(terms), id, displayOrNever(cursor))
	o.emit(Event{Type: EventState, Terms: len(terms), Identity: id.Key()})

	o.Probe(ctx)
	return nil
}

func displayOrNever(c schema.SyncCursor) string {
	if c.LastSyncDisplay == "" {
		return "never"
	}
	return c.LastSyncDisplay
}

// Probe implements Orchestrator.Probe.
func (o *orchestrator) Probe(ctx context.Context) bool {
	reachable := o.ping(ctx)
	switch {
	case reachable && !o.online.Load():
		o.OnOnline(ctx)
	case !reachable && o.online.Load():
		o.OnOffline()
	}
	return reachable
}

func (o *orchestrator) ping(ctx context.Context) bool {
	if o.remote == nil {
		return false
	}
	return o.remote.Ping(ctx) == nil
}

// OnOnline implements Orchestrator.OnOnline.
func (o *orchestrator) OnOnline(ctx context.Context) {
	if o.remote == nil {
		return
	}
	if o.online.Swap(true) {
		return
	}

	o.logger.Printf("Backend reachable")
	o.emit(Event{Type: EventOnline})

	if id := o.Identity(); !id.IsAnonymous() {
		o.reconcileCloud(ctx, id, "", nil)
	}
	if _, err := o.Pull(ctx); err != nil {
		o.logger.Printf("WARNING: pull after reconnect failed: %v", err)
	}
}

// OnOffline implements Orchestrator.OnOffline.
func (o *orchestrator) OnOffline() {
	if !o.online.Swap(false) {
		return
	}
	o.logger.Printf("Backend unreachable, working offline")
	o.emit(Event{Type: EventOffline})
}

// State implements Orchestrator.State.
func (o *orchestrator) State() State {
	if o.draining.Load() {
		return StateDrainingQueue
	}
	switch o.pullPhase.Load() {
	case phasePulling:
		return StatePullingDelta
	case phaseMerging:
		return StateMerging
	}
	return StateIdle
}

// Online implements Orchestrator.Online.
func (o *orchestrator) Online() bool {
	return o.online.Load()
}

// Identity implements Orchestrator.Identity.
func (o *orchestrator) Identity() schema.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.identity
}

// Terms implements Orchestrator.Terms. The returned slice is a copy.
func (o *orchestrator) Terms() []schema.Term {
	o.setMu.RLock()
	defer o.setMu.RUnlock()
	out := make([]schema.Term, len(o.terms))
	copy(out, o.terms)
	return out
}

// Cursor implements Orchestrator.Cursor.
func (o *orchestrator) Cursor() schema.SyncCursor {
	o.setMu.RLock()
	defer o.setMu.RUnlock()
	return o.cursor
}

// emit fills in the common event fields and hands the event to OnEvent.
func (o *orchestrator) emit(e Event) {
	if o.config.OnEvent == nil {
		return
	}
	e.Time = o.config.Now()
	if e.State == "" {
		e.State = o.State()
	}
	o.config.OnEvent(e)
}
