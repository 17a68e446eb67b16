// Package daemon keeps a long-running sync engine fed with events.
//
// The daemon:
//  1. Takes an exclusive lock on the data directory
//  2. Starts the engine (cache bootstrap and first pull)
//  3. Probes backend connectivity on an interval
//  4. Applies *.json delta files dropped into the inbox, with debouncing
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/ecoterms/ecosync/internal/schema"
)

// ErrLocked is returned by Start when another daemon holds the lock.
var ErrLocked = errors.New("another daemon is running")

// ProcessedDir is the inbox subdirectory applied deltas are moved to.
const ProcessedDir = "processed"

// Engine is the part of the sync orchestrator the daemon drives.
type Engine interface {
	Start(ctx context.Context) error
	Probe(ctx context.Context) bool
	ApplyDelta(ctx context.Context, raw any) (int, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// ProbeInterval is how often backend connectivity is checked
	ProbeInterval time.Duration

	// DebounceInterval is how long a delta file must be quiet before it
	// is applied. This batches rapid writes together
	DebounceInterval time.Duration

	// LockPath is the lock file guarding against a second daemon
	// (default: <inbox>/../daemon.lock)
	LockPath string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:    30 * time.Second,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon feeds connectivity changes and inbox deltas into an Engine.
type Daemon struct {
	engine Engine
	inbox  string
	config *Config
	lock   *flock.Flock

	inboxWatch *InboxWatcher
	pendingMu  sync.Mutex
	pending    map[string]time.Time // path -> last drop

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// New creates a new Daemon with default configuration.
func New(engine Engine, inbox string) (*Daemon, error) {
	return NewWithConfig(engine, inbox, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(engine Engine, inbox string, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if inbox == "" {
		return nil, fmt.Errorf("inbox cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = DefaultConfig().ProbeInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.LockPath == "" {
		config.LockPath = filepath.Join(filepath.Dir(filepath.Clean(inbox)), "daemon.lock")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	iw, err := NewInboxWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      engine,
		inbox:       inbox,
		config:      config,
		lock:        flock.New(config.LockPath),
		inboxWatch: iw,
		pending:    make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Start runs the daemon. It blocks until ctx is cancelled, Stop is called,
// or the engine fails to start.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("daemon already started")
	}
	defer close(d.done)
	defer d.inboxWatch.Close()
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(filepath.Dir(d.config.LockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", d.config.LockPath, err)
	}
	if !locked {
		return fmt.Errorf("%s: %w", d.config.LockPath, ErrLocked)
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.config.Logger.Printf("Warning: failed to release lock: %v", err)
		}
	}()

	if err := os.MkdirAll(d.inbox, 0755); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-d.ctx.Done():
			stop()
		case <-runCtx.Done():
		}
	}()

	if err := d.engine.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// Deltas dropped while the daemon was down.
	d.processExisting(runCtx)

	if err := d.inboxWatch.Watch(d.inbox); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching inbox: %s", d.inbox)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return d.collectDrops(gctx) })
	g.Go(func() error { return d.applySettled(gctx) })
	g.Go(func() error { return d.probeLoop(gctx) })

	<-runCtx.Done()
	d.config.Logger.Println("Shutdown signal received")

	if err := d.inboxWatch.Close(); err != nil {
		d.config.Logger.Printf("Error closing inbox watcher: %v", err)
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Stop asks a running Start to return and waits for it. A daemon that was
// never started only releases its watcher.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()
	if d.running.Load() {
		<-d.done
	}
	return d.inboxWatch.Close()
}

// collectDrops records arriving and updated delta files as pending.
func (d *Daemon) collectDrops(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case drop, ok := <-d.inboxWatch.Drops():
			if !ok {
				return nil
			}
			if drop.Kind == DropWithdrawn {
				d.pendingMu.Lock()
				delete(d.pending, drop.Path)
				d.pendingMu.Unlock()
				continue
			}
			d.config.Logger.Printf("Delta %s: %s", drop.Kind, drop.Path)
			d.pendingMu.Lock()
			d.pending[drop.Path] = time.Now()
			d.pendingMu.Unlock()

		case err, ok := <-d.inboxWatch.Errors():
			if !ok {
				return nil
			}
			d.config.Logger.Printf("Inbox watcher error: %v", err)
		}
	}
}

// applySettled applies pending deltas that have been quiet for the
// debounce interval, so a file still being written is not read half-done.
func (d *Daemon) applySettled(ctx context.Context) error {
	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, path := range d.takeSettled(now) {
				d.applyFile(ctx, path)
			}
		}
	}
}

// takeSettled removes and returns, sorted, the pending paths last touched
// at least one debounce interval before now.
func (d *Daemon) takeSettled(now time.Time) []string {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	var settled []string
	for path, touched := range d.pending {
		if now.Sub(touched) >= d.config.DebounceInterval {
			settled = append(settled, path)
			delete(d.pending, path)
		}
	}
	sort.Strings(settled)
	return settled
}

// probeLoop checks connectivity on every tick.
func (d *Daemon) probeLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			d.engine.Probe(ctx)
		}
	}
}

// processExisting applies every delta already sitting in the inbox, in
// name order.
func (d *Daemon) processExisting(ctx context.Context) {
	entries, err := os.ReadDir(d.inbox)
	if err != nil {
		d.config.Logger.Printf("Warning: failed to read inbox: %v", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		d.applyFile(ctx, filepath.Join(d.inbox, entry.Name()))
	}
}

// applyFile merges one delta file and moves it out of the inbox. Files
// that cannot be read or parsed are left in place.
func (d *Daemon) applyFile(ctx context.Context, path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	raw, err := schema.ReadDeltaFile(path)
	if err != nil {
		d.config.Logger.Printf("WARNING: skipping delta: %v", err)
		return
	}

	n, err := d.engine.ApplyDelta(ctx, raw)
	if err != nil {
		d.config.Logger.Printf("WARNING: failed to apply delta %s: %v", filepath.Base(path), err)
		return
	}
	d.config.Logger.Printf("Applied %s (%d rows)", filepath.Base(path), n)

	processed := filepath.Join(d.inbox, ProcessedDir)
	if err := os.MkdirAll(processed, 0755); err != nil {
		d.config.Logger.Printf("Warning: failed to create %s: %v", processed, err)
		return
	}
	if err := os.Rename(path, filepath.Join(processed, filepath.Base(path))); err != nil {
		d.config.Logger.Printf("Warning: failed to archive %s: %v", filepath.Base(path), err)
	}
}
