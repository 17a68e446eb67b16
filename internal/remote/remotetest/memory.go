// Package remotetest provides an in-memory remote.Remote with failure
// injection for tests.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ecoterms/ecosync/internal/remote"
)

// Call records one write that reached the backend.
type Call struct {
	Op      string
	OwnerID string
	Payload string
}

type historyEntry struct {
	owner string
	query string
	at    time.Time
}

// Memory is a thread-safe in-memory backend.
type Memory struct {
	mu sync.Mutex

	terms     []remote.TermRow
	favorites map[string][]string
	history   []historyEntry
	profiles  map[string]string

	offline  bool
	failNext map[string]int
	calls    []Call
}

// New returns an empty, online backend.
func New() *Memory {
	return &Memory{
		favorites: make(map[string][]string),
		profiles:  make(map[string]string),
		failNext:  make(map[string]int),
	}
}

// SetOffline makes every call fail until cleared.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailNext makes the next n calls of op fail. Ops are the Remote method names.
func (m *Memory) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] += n
}

// AddTerm stores a term row.
func (m *Memory) AddTerm(row remote.TermRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.terms {
		if r.Title == row.Title {
			m.terms[i] = row
			return
		}
	}
	m.terms = append(m.terms, row)
}

// SetFavorites replaces owner's favorites.
func (m *Memory) SetFavorites(owner string, titles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.favorites[owner] = append([]string(nil), titles...)
}

// Calls returns the successful writes in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Favorites returns owner's stored favorites.
func (m *Memory) Favorites(owner string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.favorites[owner]...)
}

// HasProfile reports whether EnsureProfile created owner's profile.
func (m *Memory) HasProfile(owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.profiles[owner]
	return ok
}

// fail must be called with mu held.
func (m *Memory) fail(op string) error {
	if m.offline {
		return fmt.Errorf("%s: %w: network is unreachable", op, remote.ErrTransient)
	}
	if m.failNext[op] > 0 {
		m.failNext[op]--
		return fmt.Errorf("%s: %w: injected failure", op, remote.ErrTransient)
	}
	return nil
}

func (m *Memory) FetchTermDeltas(ctx context.Context, since time.Time) ([]remote.TermRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FetchTermDeltas"); err != nil {
		return nil, err
	}

	var out []remote.TermRow
	for _, r := range m.terms {
		if !since.IsZero() {
			updated, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
			if err == nil && !updated.After(since) {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) UpsertFavorite(ctx context.Context, ownerID, term string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertFavorite"); err != nil {
		return err
	}
	m.calls = append(m.calls, Call{Op: "UpsertFavorite", OwnerID: ownerID, Payload: term})
	for _, t := range m.favorites[ownerID] {
		if t == term {
			return nil
		}
	}
	m.favorites[ownerID] = append(m.favorites[ownerID], term)
	return nil
}

func (m *Memory) DeleteFavorite(ctx context.Context, ownerID, term string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteFavorite"); err != nil {
		return err
	}
	m.calls = append(m.calls, Call{Op: "DeleteFavorite", OwnerID: ownerID, Payload: term})
	favs := m.favorites[ownerID]
	for i, t := range favs {
		if t == term {
			m.favorites[ownerID] = append(favs[:i], favs[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) InsertHistory(ctx context.Context, ownerID, query string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertHistory"); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}
	m.calls = append(m.calls, Call{Op: "InsertHistory", OwnerID: ownerID, Payload: query})
	m.history = append(m.history, historyEntry{owner: ownerID, query: query, at: at})
	return nil
}

func (m *Memory) FetchFavorites(ctx context.Context, ownerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FetchFavorites"); err != nil {
		return nil, err
	}
	return append([]string(nil), m.favorites[ownerID]...), nil
}

func (m *Memory) FetchHistory(ctx context.Context, ownerID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FetchHistory"); err != nil {
		return nil, err
	}

	var entries []historyEntry
	for _, h := range m.history {
		if h.owner == ownerID {
			entries = append(entries, h)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })

	var out []string
	for _, h := range entries {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, h.query)
	}
	return out, nil
}

func (m *Memory) CountFavorites(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountFavorites"); err != nil {
		return 0, err
	}
	return len(m.favorites[ownerID]), nil
}

func (m *Memory) CountHistory(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountHistory"); err != nil {
		return 0, err
	}
	n := 0
	for _, h := range m.history {
		if h.owner == ownerID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) EnsureProfile(ctx context.Context, ownerID, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("EnsureProfile"); err != nil {
		return err
	}
	if _, ok := m.profiles[ownerID]; !ok {
		m.profiles[ownerID] = displayName
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail("Ping")
}

var _ remote.Remote = (*Memory)(nil)
