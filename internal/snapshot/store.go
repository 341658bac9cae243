package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/MisTAiM/movienights/internal/room"
)

var ErrNotFound = errors.New("snapshot not found")

// Store keeps the latest merged snapshot of every live room so the relay can
// answer discovery after a restart. Closed rooms are deleted, never kept.
type Store interface {
	Save(ctx context.Context, r *room.Room) error
	Load(ctx context.Context, code string) (*room.Room, error)
	Delete(ctx context.Context, code string) error

	// PurgeStale drops snapshots not saved since before
	PurgeStale(ctx context.Context, before time.Time) (int64, error)
}
