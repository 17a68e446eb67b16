package cache

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ecoterms/ecosync/internal/schema"
)

// LoadFavorites returns the identity's favorites, empty if none are stored.
func (s *Store) LoadFavorites(ctx context.Context, id schema.Identity) (*schema.FavoriteSet, error) {
	set := schema.NewFavoriteSet()
	if err := getJSON(ctx, s.conn, favoritesKey(id), set); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return set, nil
}

// SaveFavorites overwrites the identity's favorites.
func (s *Store) SaveFavorites(ctx context.Context, id schema.Identity, set *schema.FavoriteSet) error {
	if set == nil {
		set = schema.NewFavoriteSet()
	}
	return putJSON(ctx, s.conn, favoritesKey(id), set)
}

// LoadHistory returns the identity's history, empty if none is stored.
func (s *Store) LoadHistory(ctx context.Context, id schema.Identity) (schema.HistoryLog, error) {
	var h schema.HistoryLog
	if err := getJSON(ctx, s.conn, historyKey(id), &h); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if h == nil {
		h = schema.HistoryLog{}
	}
	return h, nil
}

// SaveHistory overwrites the identity's history.
func (s *Store) SaveHistory(ctx context.Context, id schema.Identity, h schema.HistoryLog) error {
	if h == nil {
		h = schema.HistoryLog{}
	}
	return putJSON(ctx, s.conn, historyKey(id), h)
}

// TransferIdentity writes the merged favorites and history for to and
// removes from's state in one transaction.
func (s *Store) TransferIdentity(ctx context.Context, from, to schema.Identity, favs *schema.FavoriteSet, h schema.HistoryLog) error {
	if favs == nil {
		favs = schema.NewFavoriteSet()
	}
	if h == nil {
		h = schema.HistoryLog{}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := putJSON(ctx, tx, favoritesKey(to), favs); err != nil {
			return err
		}
		if err := putJSON(ctx, tx, historyKey(to), h); err != nil {
			return err
		}
		if from == to {
			return nil
		}
		if err := deleteKey(ctx, tx, favoritesKey(from)); err != nil {
			return err
		}
		return deleteKey(ctx, tx, historyKey(from))
	})
}

// ClearIdentity removes an identity's favorites and history.
func (s *Store) ClearIdentity(ctx context.Context, id schema.Identity) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteKey(ctx, tx, favoritesKey(id)); err != nil {
			return err
		}
		return deleteKey(ctx, tx, historyKey(id))
	})
}

// LoadQueue returns the persisted offline queue, empty if none is stored.
func (s *Store) LoadQueue(ctx context.Context) ([]schema.SyncAction, error) {
	var actions []schema.SyncAction
	if err := getJSON(ctx, s.conn, keyQueue, &actions); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return actions, nil
}

// SaveQueue overwrites the offline queue.
func (s *Store) SaveQueue(ctx context.Context, actions []schema.SyncAction) error {
	if actions == nil {
		actions = []schema.SyncAction{}
	}
	return putJSON(ctx, s.conn, keyQueue, actions)
}

// LoadSession returns the identity that was signed in when the session was
// last saved. A missing session is Anonymous.
func (s *Store) LoadSession(ctx context.Context) (schema.Identity, error) {
	var key string
	if err := getJSON(ctx, s.conn, keySession, &key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return schema.Anonymous, nil
		}
		return schema.Anonymous, err
	}
	return schema.ParseIdentity(key)
}

// SaveSession records the signed-in identity.
func (s *Store) SaveSession(ctx context.Context, id schema.Identity) error {
	return putJSON(ctx, s.conn, keySession, id.Key())
}
