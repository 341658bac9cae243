package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/MisTAiM/movienights/internal/room"
)

type memoryEntry struct {
	room    *room.Room
	savedAt time.Time
}

// MemoryStore keeps snapshots in process memory. Used when no database is
// configured; snapshots do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(ctx context.Context, r *room.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[r.Code] = memoryEntry{room: r.Clone(), savedAt: s.now()}
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, code string) (*room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[code]
	if !ok {
		return nil, ErrNotFound
	}
	return e.room.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, code)
	return nil
}

func (s *MemoryStore) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for code, e := range s.entries {
		if e.savedAt.Before(before) {
			delete(s.entries, code)
			n++
		}
	}
	return n, nil
}
