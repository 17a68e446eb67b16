package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ecoterms/ecosync/internal/lookup"
	"github.com/ecoterms/ecosync/internal/queue"
	"github.com/ecoterms/ecosync/internal/schema"
)

// Drain implements Orchestrator.Drain.
func (o *orchestrator) Drain(ctx context.Context) (queue.Result, error) {
	id := o.Identity()
	if id.IsAnonymous() {
		return queue.Result{}, ErrAnonymous
	}
	if o.remote == nil || !o.online.Load() {
		return queue.Result{}, ErrOffline
	}
	if !o.draining.CompareAndSwap(false, true) {
		o.logger.Printf("Drain already in flight, skipping")
		return queue.Result{Skipped: true}, nil
	}
	defer func() {
		o.draining.Store(false)
		o.emit(Event{Type: EventState})
	}()
	o.emit(Event{Type: EventState})

	res, err := o.queue.Drain(ctx, id.UserID(), o.remote)
	if err != nil {
		o.emit(Event{Type: EventDrain, Identity: id.Key(), Error: err.Error()})
		return res, err
	}

	o.emit(Event{
		Type:     EventDrain,
		Identity: id.Key(),
		Applied:  res.Applied,
		Requeued: res.Requeued,
		Dropped:  res.Dropped,
	})
	return res, nil
}

// SignIn implements Orchestrator.SignIn.
func (o *orchestrator) SignIn(ctx context.Context, id schema.Identity, displayName string) error {
	if id.IsAnonymous() {
		return fmt.Errorf("sign in: %w", ErrAnonymous)
	}

	o.mu.Lock()
	if o.identity == id {
		o.mu.Unlock()
		return nil
	}

	anonFavs, err := o.cache.LoadFavorites(ctx, schema.Anonymous)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("failed to load anonymous favorites: %w", err)
	}
	userFavs, err := o.cache.LoadFavorites(ctx, id)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("failed to load favorites: %w", err)
	}
	anonHist, err := o.cache.LoadHistory(ctx, schema.Anonymous)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("failed to load anonymous history: %w", err)
	}
	userHist, err := o.cache.LoadHistory(ctx, id)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("failed to load history: %w", err)
	}

	favs := userFavs.Union(anonFavs)
	hist := schema.MergeHistory(o.config.HistoryLimit, anonHist, userHist)

	if err := o.cache.TransferIdentity(ctx, schema.Anonymous, id, favs, hist); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("failed to move anonymous state: %w", err)
	}
	if err := o.cache.SaveSession(ctx, id); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("failed to save session: %w", err)
	}
	o.identity = id
	o.mu.Unlock()

	o.logger.Printf("Signed in as %s (%d favorites, %d history entries)", id, favs.Len(), len(hist))
	o.emit(Event{Type: EventIdentity, Identity: id.Key()})

	if !o.awaitOnline(ctx) {
		for i := len(anonHist) - 1; i >= 0; i-- {
			o.enqueue(ctx, schema.KindHistory, schema.OpAdd, anonHist[i], id.UserID())
		}
		o.logger.Printf("Offline after sign-in, cloud reconcile deferred")
		return nil
	}

	o.reconcileCloud(ctx, id, displayName, anonHist)

	if _, err := o.Pull(ctx); err != nil {
		o.logger.Printf("WARNING: pull after sign-in failed: %v", err)
	}
	return nil
}

// awaitOnline returns true when online, waiting ReconnectWait and probing
// once more if not.
func (o *orchestrator) awaitOnline(ctx context.Context) bool {
	if o.online.Load() {
		return true
	}
	if o.remote == nil {
		return false
	}

	if o.config.ReconnectWait > 0 {
		t := time.NewTimer(o.config.ReconnectWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}

	if !o.ping(ctx) {
		return false
	}
	o.online.Store(true)
	o.emit(Event{Type: EventOnline})
	return true
}

// reconcileCloud makes sure a profile row exists, uploads the given
// queries, drains the owner's queue, then uploads local-only favorites,
// unions the cloud favorites into the local set and folds recent cloud
// history in front of the local one. Each step fails independently and
// failed uploads are queued.
func (o *orchestrator) reconcileCloud(ctx context.Context, id schema.Identity, displayName string, uploads schema.HistoryLog) {
	owner := id.UserID()

	if err := o.remote.EnsureProfile(ctx, owner, displayName); err != nil {
		o.logger.Printf("WARNING: failed to ensure profile for %s: %v", id, err)
	}

	// uploads is most-recent-first; older queries get earlier timestamps.
	now := o.config.Now()
	for i := len(uploads) - 1; i >= 0; i-- {
		query := uploads[i]
		at := now.Add(-time.Duration(i) * time.Millisecond)
		if err := o.remote.InsertHistory(ctx, owner, query, at); err != nil {
			o.logger.Printf("WARNING: failed to upload search %q, queueing: %v", query, err)
			o.enqueue(ctx, schema.KindHistory, schema.OpAdd, query, owner)
		}
	}

	// Queued removals must land before the cloud favorites are unioned in.
	if _, err := o.Drain(ctx); err != nil {
		o.logger.Printf("WARNING: drain before reconcile failed: %v", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.identity != id {
		return
	}

	if cloud, err := o.remote.FetchFavorites(ctx, owner); err != nil {
		o.logger.Printf("WARNING: failed to fetch cloud favorites: %v", err)
	} else {
		local, err := o.cache.LoadFavorites(ctx, id)
		if err != nil {
			o.logger.Printf("WARNING: failed to load favorites: %v", err)
		} else {
			cloudSet := schema.NewFavoriteSet(cloud...)
			for _, title := range local.Difference(cloudSet) {
				if err := o.remote.UpsertFavorite(ctx, owner, title); err != nil {
					o.logger.Printf("WARNING: failed to upload favorite %q, queueing: %v", title, err)
					o.enqueue(ctx, schema.KindFavorite, schema.OpAdd, title, owner)
				}
			}
			if err := o.cache.SaveFavorites(ctx, id, local.Union(cloudSet)); err != nil {
				o.logger.Printf("WARNING: failed to save reconciled favorites: %v", err)
			}
		}
	}

	if cloud, err := o.remote.FetchHistory(ctx, owner, o.config.RemoteHistoryLimit); err != nil {
		o.logger.Printf("WARNING: failed to fetch cloud history: %v", err)
	} else {
		local, err := o.cache.LoadHistory(ctx, id)
		if err != nil {
			o.logger.Printf("WARNING: failed to load history: %v", err)
		} else {
			merged := schema.MergeHistory(o.config.HistoryLimit, schema.HistoryLog(cloud), local)
			if err := o.cache.SaveHistory(ctx, id, merged); err != nil {
				o.logger.Printf("WARNING: failed to save reconciled history: %v", err)
			}
		}
	}
}

// SignOut implements Orchestrator.SignOut.
func (o *orchestrator) SignOut(ctx context.Context) error {
	o.mu.Lock()
	if o.identity.IsAnonymous() {
		o.mu.Unlock()
		return nil
	}
	if err := o.cache.SaveSession(ctx, schema.Anonymous); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("failed to save session: %w", err)
	}
	prev := o.identity
	o.identity = schema.Anonymous
	o.mu.Unlock()

	o.logger.Printf("Signed out %s", prev)
	o.emit(Event{Type: EventIdentity, Identity: schema.Anonymous.Key()})
	return nil
}

// Favorites implements Orchestrator.Favorites.
func (o *orchestrator) Favorites(ctx context.Context) (*schema.FavoriteSet, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.LoadFavorites(ctx, o.identity)
}

// History implements Orchestrator.History.
func (o *orchestrator) History(ctx context.Context) (schema.HistoryLog, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.LoadHistory(ctx, o.identity)
}

// ToggleFavorite implements Orchestrator.ToggleFavorite.
func (o *orchestrator) ToggleFavorite(ctx context.Context, title string) (bool, error) {
	if title == "" {
		return false, fmt.Errorf("toggle favorite: empty title")
	}

	o.mu.Lock()
	id := o.identity
	favs, err := o.cache.LoadFavorites(ctx, id)
	if err != nil {
		o.mu.Unlock()
		return false, fmt.Errorf("failed to load favorites: %w", err)
	}
	added := !favs.Contains(title)
	if added {
		favs.Add(title)
	} else {
		favs.Remove(title)
	}
	if err := o.cache.SaveFavorites(ctx, id, favs); err != nil {
		o.mu.Unlock()
		return false, fmt.Errorf("failed to save favorites: %w", err)
	}
	o.mu.Unlock()

	if id.IsAnonymous() {
		return added, nil
	}

	op := schema.OpRemove
	if added {
		op = schema.OpAdd
	}
	o.write(ctx, schema.KindFavorite, op, title, id.UserID(), func() error {
		if added {
			return o.remote.UpsertFavorite(ctx, id.UserID(), title)
		}
		return o.remote.DeleteFavorite(ctx, id.UserID(), title)
	})
	return added, nil
}

// RecordSearch implements Orchestrator.RecordSearch.
func (o *orchestrator) RecordSearch(ctx context.Context, query string) (bool, error) {
	query = strings.TrimSpace(query)
	if !lookup.ShouldRecord(query) {
		return false, nil
	}

	o.mu.Lock()
	id := o.identity
	hist, err := o.cache.LoadHistory(ctx, id)
	if err != nil {
		o.mu.Unlock()
		return false, fmt.Errorf("failed to load history: %w", err)
	}
	hist = hist.Push(query, o.config.HistoryLimit)
	if err := o.cache.SaveHistory(ctx, id, hist); err != nil {
		o.mu.Unlock()
		return false, fmt.Errorf("failed to save history: %w", err)
	}
	o.mu.Unlock()

	if id.IsAnonymous() {
		return true, nil
	}

	at := o.config.Now()
	o.write(ctx, schema.KindHistory, schema.OpAdd, query, id.UserID(), func() error {
		return o.remote.InsertHistory(ctx, id.UserID(), query, at)
	})
	return true, nil
}

// write runs fn against the backend when online, queueing the action
// when offline or when fn fails.
func (o *orchestrator) write(ctx context.Context, kind schema.ActionKind, op schema.ActionOp, payload, owner string, fn func() error) {
	if o.remote != nil && o.online.Load() {
		err := fn()
		if err == nil {
			return
		}
		o.logger.Printf("WARNING: %s %s %q failed, queueing: %v", kind, op, payload, err)
	}
	o.enqueue(ctx, kind, op, payload, owner)
}

func (o *orchestrator) enqueue(ctx context.Context, kind schema.ActionKind, op schema.ActionOp, payload, owner string) {
	if o.queue == nil {
		o.logger.Printf("WARNING: no queue configured, dropping %s %s %q", kind, op, payload)
		return
	}
	if _, err := o.queue.Enqueue(ctx, kind, op, payload, owner); err != nil {
		o.logger.Printf("WARNING: failed to queue %s %s %q: %v", kind, op, payload, err)
	}
}

// Stats implements Orchestrator.Stats.
func (o *orchestrator) Stats(ctx context.Context) (Stats, error) {
	o.mu.Lock()
	id := o.identity
	favs, err := o.cache.LoadFavorites(ctx, id)
	if err != nil {
		o.mu.Unlock()
		return Stats{}, fmt.Errorf("failed to load favorites: %w", err)
	}
	hist, err := o.cache.LoadHistory(ctx, id)
	o.mu.Unlock()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load history: %w", err)
	}

	stats := Stats{Favorites: favs.Len(), History: len(hist)}
	if id.IsAnonymous() || o.remote == nil || !o.online.Load() {
		return stats, nil
	}

	nf, err := o.remote.CountFavorites(ctx, id.UserID())
	if err != nil {
		o.logger.Printf("WARNING: failed to count cloud favorites: %v", err)
		return stats, nil
	}
	nh, err := o.remote.CountHistory(ctx, id.UserID())
	if err != nil {
		o.logger.Printf("WARNING: failed to count cloud history: %v", err)
		return stats, nil
	}
	return Stats{Favorites: nf, History: nh, Remote: true}, nil
}
