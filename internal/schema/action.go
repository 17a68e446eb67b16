package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind says which per-user collection an action mutates.
type ActionKind string

const (
	KindFavorite ActionKind = "favorite"
	KindHistory  ActionKind = "history"
)

// ActionOp is the mutation applied to the collection.
type ActionOp string

const (
	OpAdd    ActionOp = "add"
	OpRemove ActionOp = "remove"
)

// SyncAction is a user mutation waiting to reach the remote backend.
type SyncAction struct {
	ID         string     `json:"id"`
	Kind       ActionKind `json:"kind"`
	Op         ActionOp   `json:"op"`
	Payload    string     `json:"payload"`
	OwnerID    string     `json:"owner_id"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	RetryCount int        `json:"retry_count"`
}

// NewSyncAction creates an action with a fresh id and zero retries.
func NewSyncAction(kind ActionKind, op ActionOp, payload, ownerID string) SyncAction {
	return SyncAction{
		ID:         uuid.NewString(),
		Kind:       kind,
		Op:         op,
		Payload:    payload,
		OwnerID:    ownerID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Validate checks the action can be replayed.
func (a SyncAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, err := uuid.Parse(a.ID); err != nil {
		return fmt.Errorf("id must be a UUID (got %q)", a.ID)
	}
	switch a.Kind {
	case KindFavorite, KindHistory:
	default:
		return fmt.Errorf("kind must be favorite or history (got %q)", a.Kind)
	}
	switch a.Op {
	case OpAdd, OpRemove:
	default:
		return fmt.Errorf("op must be add or remove (got %q)", a.Op)
	}
	if a.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if a.RetryCount < 0 {
		return fmt.Errorf("retry_count must be non-negative (got %d)", a.RetryCount)
	}
	return nil
}

func (a SyncAction) String() string {
	return fmt.Sprintf("%s %s %q (owner=%s, retries=%d)", a.Kind, a.Op, a.Payload, a.OwnerID, a.RetryCount)
}
