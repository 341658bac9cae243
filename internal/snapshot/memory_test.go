package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MisTAiM/movienights/internal/room"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	r := room.New("MEMORY", "A", "Alice", now)
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// the store keeps its own copy
	r.ControllerID = "mutated"

	got, err := store.Load(ctx, "MEMORY")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ControllerID != "A" {
		t.Fatalf("controller = %q, want A", got.ControllerID)
	}

	if _, err := store.Load(ctx, "NOPE00"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load missing: err = %v", err)
	}

	n, err := store.PurgeStale(ctx, now.Add(-time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("PurgeStale kept-fresh: n = %d, err = %v", n, err)
	}
	n, err = store.PurgeStale(ctx, now.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("PurgeStale: n = %d, err = %v", n, err)
	}

	if err := store.Delete(ctx, "MEMORY"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}
