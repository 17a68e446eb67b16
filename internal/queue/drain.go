package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecoterms/ecosync/internal/schema"
)

const (
	reasonRetryExhausted = "retry_exhausted"
	reasonInvalid        = "invalid"
)

// Drain replays ownerID's actions against w in enqueue order.
//
// Each action is independent: success removes it, failure re-queues it with
// one more retry, and an action past the retry ceiling is dropped. Other
// owners' actions keep their place. Actions enqueued while the drain runs
// are preserved. A second concurrent drain for the same owner returns a
// Skipped result.
//
// The returned error covers queue persistence only; backend failures are
// reflected in the Result.
func (q *Queue) Drain(ctx context.Context, ownerID string, w Writer) (Result, error) {
	if !q.begin(ownerID) {
		q.config.Logger.Printf("Drain for %s already in progress, skipping", ownerID)
		return Result{Skipped: true}, nil
	}
	defer q.end(ownerID)

	q.mu.Lock()
	snapshot, err := q.store.LoadQueue(ctx)
	q.mu.Unlock()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load queue: %w", err)
	}

	var (
		res     Result
		removed = make(map[string]bool)
		retried = make(map[string]schema.SyncAction)
	)

	for _, a := range snapshot {
		if a.OwnerID != ownerID {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		if a.RetryCount > q.config.RetryCeiling {
			q.drop(a, reasonRetryExhausted)
			removed[a.ID] = true
			res.Dropped++
			continue
		}

		res.Attempted++
		err := apply(ctx, w, a)
		switch {
		case err == nil:
			removed[a.ID] = true
			res.Applied++
		case errors.Is(err, errUnknownAction):
			q.drop(a, reasonInvalid)
			removed[a.ID] = true
			res.Dropped++
		default:
			a.RetryCount++
			if a.RetryCount > q.config.RetryCeiling {
				q.config.Logger.Printf("WARNING: giving up on %s: %v", a, err)
				q.drop(a, reasonRetryExhausted)
				removed[a.ID] = true
				res.Dropped++
				continue
			}
			q.config.Logger.Printf("Write failed, requeued %s: %v", a, err)
			retried[a.ID] = a
			res.Requeued++
		}
	}

	if res.Attempted == 0 && res.Dropped == 0 {
		return res, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.store.LoadQueue(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to reload queue: %w", err)
	}

	kept := make([]schema.SyncAction, 0, len(current))
	for _, a := range current {
		if removed[a.ID] {
			continue
		}
		if r, ok := retried[a.ID]; ok {
			a = r
		}
		kept = append(kept, a)
	}

	if err := q.store.SaveQueue(ctx, kept); err != nil {
		return res, fmt.Errorf("failed to persist queue: %w", err)
	}

	q.config.Logger.Printf("Drained %s: applied=%d requeued=%d dropped=%d",
		ownerID, res.Applied, res.Requeued, res.Dropped)
	q.diag.DrainCompleted(res.Applied, res.Requeued, res.Dropped)

	return res, nil
}

func (q *Queue) drop(a schema.SyncAction, reason string) {
	q.config.Logger.Printf("Dropped %s (%s)", a, reason)
	q.diag.ActionDropped(string(a.Kind), reason)
}

var errUnknownAction = errors.New("unknown action")

func apply(ctx context.Context, w Writer, a schema.SyncAction) error {
	switch {
	case a.Kind == schema.KindFavorite && a.Op == schema.OpAdd:
		return w.UpsertFavorite(ctx, a.OwnerID, a.Payload)
	case a.Kind == schema.KindFavorite && a.Op == schema.OpRemove:
		return w.DeleteFavorite(ctx, a.OwnerID, a.Payload)
	case a.Kind == schema.KindHistory && a.Op == schema.OpAdd:
		return w.InsertHistory(ctx, a.OwnerID, a.Payload, a.EnqueuedAt)
	case a.Kind == schema.KindHistory && a.Op == schema.OpRemove:
		// History entries are append-only remotely.
		return nil
	default:
		return errUnknownAction
	}
}
