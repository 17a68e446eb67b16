package sync

import (
	"context"
	"fmt"

	"github.com/ecoterms/ecosync/internal/merge"
	"github.com/ecoterms/ecosync/internal/sanitize"
	"github.com/ecoterms/ecosync/internal/schema"
)

// Pull implements Orchestrator.Pull.
func (o *orchestrator) Pull(ctx context.Context) (PullResult, error) {
	if !o.pulling.CompareAndSwap(false, true) {
		o.logger.Printf("Pull already in flight, skipping")
		return PullResult{Skipped: true}, nil
	}
	defer o.pulling.Store(false)

	if o.remote == nil || !o.online.Load() {
		return PullResult{Cursor: o.Cursor()}, ErrOffline
	}

	o.pullPhase.Store(phasePulling)
	defer func() {
		o.pullPhase.Store(phaseNone)
		o.emit(Event{Type: EventState})
	}()
	o.emit(Event{Type: EventState})

	cursor := o.Cursor()
	since, err := cursor.Since()
	if err != nil {
		o.logger.Printf("WARNING: unreadable cursor, fetching everything: %v", err)
	}

	// Captured before the fetch so rows updated during it are fetched again
	// next time rather than skipped.
	startedAt := o.config.Now()

	rows, err := o.remote.FetchTermDeltas(ctx, since)
	if err != nil {
		o.diag.PullCompleted(0, err)
		o.emit(Event{Type: EventPull, Error: err.Error()})
		return PullResult{Cursor: cursor}, fmt.Errorf("failed to fetch term deltas: %w", err)
	}
	if len(rows) == 0 {
		o.logger.Printf("No term changes since %s", displayOrNever(cursor))
		o.diag.PullCompleted(0, nil)
		return PullResult{Cursor: cursor}, nil
	}

	raw := make([]any, len(rows))
	for i, r := range rows {
		raw[i] = r.Raw()
	}
	incoming, err := sanitize.Sanitize(raw, sanitize.WithDropHook(o.diag.RowsDropped))
	if err != nil {
		return PullResult{Cursor: cursor}, fmt.Errorf("failed to sanitize term deltas: %w", err)
	}

	o.pullPhase.Store(phaseMerging)
	o.emit(Event{Type: EventState})

	next := cursor.Advance(startedAt)
	changed, total, err := o.mergeAndSave(ctx, incoming, &next)
	if err != nil {
		o.diag.PullCompleted(0, err)
		o.emit(Event{Type: EventPull, Error: err.Error()})
		return PullResult{Cursor: cursor}, err
	}

	o.diag.PullCompleted(len(incoming), nil)
	o.logger.Printf("Pulled %d rows (%d applied), %d terms, last sync %s",
		len(rows), len(incoming), total, next.LastSyncDisplay)
	o.emit(Event{Type: EventPull, Applied: len(incoming), Terms: total})

	return PullResult{
		Fetched: len(rows),
		Applied: len(incoming),
		Changed: changed,
		Cursor:  o.Cursor(),
	}, nil
}

// ApplyDelta implements Orchestrator.ApplyDelta.
func (o *orchestrator) ApplyDelta(ctx context.Context, raw any) (int, error) {
	incoming, err := sanitize.Sanitize(raw, sanitize.WithDropHook(o.diag.RowsDropped))
	if err != nil {
		return 0, err
	}
	if len(incoming) == 0 {
		return 0, nil
	}

	_, total, err := o.mergeAndSave(ctx, incoming, nil)
	if err != nil {
		return 0, err
	}

	o.logger.Printf("Applied local delta: %d rows, %d terms", len(incoming), total)
	o.emit(Event{Type: EventDelta, Applied: len(incoming), Terms: total})
	return len(incoming), nil
}

// mergeAndSave merges incoming into the current set and persists the
// result. When cursor is non-nil it is committed with the set; otherwise
// the stored cursor is left alone. The in-memory state only changes after
// the write succeeds.
func (o *orchestrator) mergeAndSave(ctx context.Context, incoming []schema.Term, cursor *schema.SyncCursor) (bool, int, error) {
	o.setMu.Lock()
	defer o.setMu.Unlock()

	merged := merge.Merge(o.terms, incoming)
	changed := !merge.Equal(o.terms, merged)

	switch {
	case cursor != nil:
		if err := o.cache.SaveSyncResult(ctx, merged, *cursor); err != nil {
			return false, 0, fmt.Errorf("failed to save sync result: %w", err)
		}
		o.cursor = *cursor
	case changed:
		if err := o.cache.SaveCanonicalSet(ctx, merged); err != nil {
			return false, 0, fmt.Errorf("failed to save canonical set: %w", err)
		}
	}

	o.terms = merged
	return changed, len(merged), nil
}
