package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DropKind says what happened to a delta file in the inbox.
type DropKind int

const (
	DropArrived DropKind = iota
	DropUpdated
	DropWithdrawn // removed or renamed away
)

func (k DropKind) String() string {
	switch k {
	case DropArrived:
		return "arrived"
	case DropUpdated:
		return "updated"
	case DropWithdrawn:
		return "withdrawn"
	}
	return "unknown"
}

// Drop is a change to one *.json file directly inside the inbox.
type Drop struct {
	Path string // absolute
	Kind DropKind
}

// InboxWatcher reports delta file drops in a single directory.
type InboxWatcher struct {
	fs    *fsnotify.Watcher
	drops chan Drop
	errs  chan error
	quit  chan struct{}
	loop  sync.WaitGroup

	mu      sync.Mutex
	dir     string
	started bool
	stopped bool
}

// NewInboxWatcher creates a watcher. Nothing is reported until Watch.
func NewInboxWatcher() (*InboxWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &InboxWatcher{
		fs:    fs,
		drops: make(chan Drop, 100),
		errs:  make(chan error, 10),
		quit:  make(chan struct{}),
	}, nil
}

// Watch starts reporting drops in dir. It can be called once.
func (w *InboxWatcher) Watch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.stopped:
		return fmt.Errorf("inbox watcher is closed")
	case w.started:
		return fmt.Errorf("inbox watcher already running")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve inbox %s: %w", dir, err)
	}
	if err := w.fs.Add(abs); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", abs, err)
	}

	w.dir = abs
	w.started = true
	w.loop.Add(1)
	go w.run()
	return nil
}

// Close stops the watcher and closes Drops and Errors once the event loop
// has exited. Repeated calls are no-ops.
func (w *InboxWatcher) Close() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	if !started {
		return w.fs.Close()
	}

	close(w.quit)
	err := w.fs.Close()
	w.loop.Wait()
	close(w.drops)
	close(w.errs)
	if err != nil {
		return fmt.Errorf("failed to close inbox watcher: %w", err)
	}
	return nil
}

// Drops delivers inbox changes.
func (w *InboxWatcher) Drops() <-chan Drop { return w.drops }

// Errors delivers fsnotify errors.
func (w *InboxWatcher) Errors() <-chan error { return w.errs }

// Watching reports whether Watch succeeded and Close has not been called.
func (w *InboxWatcher) Watching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

func (w *InboxWatcher) run() {
	defer w.loop.Done()

	for {
		select {
		case <-w.quit:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if d, ok := w.classify(ev); ok && !send(w.drops, d, w.quit) {
				return
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			if !send(w.errs, err, w.quit) {
				return
			}
		}
	}
}

// send delivers v unless quit closes first.
func send[T any](ch chan<- T, v T, quit <-chan struct{}) bool {
	select {
	case ch <- v:
		return true
	case <-quit:
		return false
	}
}

func (w *InboxWatcher) classify(ev fsnotify.Event) (Drop, bool) {
	if !strings.EqualFold(filepath.Ext(ev.Name), ".json") {
		return Drop{}, false
	}
	path, err := filepath.Abs(ev.Name)
	if err != nil || filepath.Dir(path) != w.dir {
		return Drop{}, false
	}

	switch {
	case ev.Has(fsnotify.Create):
		return Drop{Path: path, Kind: DropArrived}, true
	case ev.Has(fsnotify.Write):
		return Drop{Path: path, Kind: DropUpdated}, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Drop{Path: path, Kind: DropWithdrawn}, true
	}
	return Drop{}, false
}
