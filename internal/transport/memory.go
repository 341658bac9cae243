package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const subscriptionBuffer = 256

// MemoryBus is a same-process fan-out bus. Each subscription gets its own
// delivery goroutine, and the latest snapshot per room code is retained so
// Discover can answer without a live peer.
type MemoryBus struct {
	mu       sync.RWMutex
	topics   map[string]map[uint64]*memorySubscription
	retained map[string]json.RawMessage
	nextID   uint64
	closed   bool
	log      *slog.Logger

	// Deleted room codes and when their tombstone expires
	tombstones map[string]time.Time
	now        func() time.Time
}

type memorySubscription struct {
	id      uint64
	code    string
	queue   chan Mutation
	done    chan struct{}
	handler Handler
	once    sync.Once
}

func (s *memorySubscription) RoomCode() string { return s.code }

func (s *memorySubscription) deliver() {
	for {
		select {
		case m := <-s.queue:
			s.handler(m)
		case <-s.done:
			return
		}
	}
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewMemoryBus creates an empty bus
func NewMemoryBus(log *slog.Logger) *MemoryBus {
	return &MemoryBus{
		topics:   make(map[string]map[uint64]*memorySubscription),
		retained: make(map[string]json.RawMessage),
		log:      log,

		tombstones: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Publish retains snapshots and fans the mutation out to every subscriber
func (b *MemoryBus) Publish(ctx context.Context, m Mutation) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("memory bus closed: %w", ErrUnavailable)
	}

	now := b.now()
	switch {
	case m.Snapshot():
		if b.tombstonedLocked(m.RoomCode, now) {
			// A late update must not revive a deleted room
			b.log.Debug("not retaining snapshot of deleted room", "room_code", m.RoomCode, "origin", m.Origin)
			break
		}
		b.retained[m.RoomCode] = m.Payload
	case m.Kind == KindRoomDeleted:
		b.tombstones[m.RoomCode] = now.Add(closedRetention)
		if len(m.Payload) > 0 {
			b.retained[m.RoomCode] = m.Payload
		} else {
			delete(b.retained, m.RoomCode)
		}
	}

	subs := make([]*memorySubscription, 0, len(b.topics[m.RoomCode]))
	for _, sub := range b.topics[m.RoomCode] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.queue <- m:
		case <-sub.done:
		case <-ctx.Done():
			return fmt.Errorf("deliver %s to %s: %w", m.Kind, m.RoomCode, ctx.Err())
		}
	}

	return nil
}

// Subscribe registers h for every mutation on code
func (b *MemoryBus) Subscribe(ctx context.Context, code string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("memory bus closed: %w", ErrUnavailable)
	}

	b.nextID++
	sub := &memorySubscription{
		id:      b.nextID,
		code:    code,
		queue:   make(chan Mutation, subscriptionBuffer),
		done:    make(chan struct{}),
		handler: h,
	}

	if b.topics[code] == nil {
		b.topics[code] = make(map[uint64]*memorySubscription)
	}
	b.topics[code][sub.id] = sub

	go sub.deliver()

	b.log.Debug("memory subscription added", "room_code", code, "subscription_id", sub.id)

	return sub, nil
}

// Unsubscribe stops delivery to sub. Safe to call from inside a handler.
func (b *MemoryBus) Unsubscribe(sub Subscription) error {
	ms, ok := sub.(*memorySubscription)
	if !ok {
		return fmt.Errorf("foreign subscription type %T", sub)
	}

	b.mu.Lock()
	if subs, ok := b.topics[ms.code]; ok {
		delete(subs, ms.id)
		if len(subs) == 0 {
			delete(b.topics, ms.code)
		}
	}
	b.mu.Unlock()

	ms.stop()
	return nil
}

// Discover returns the retained snapshot for code
func (b *MemoryBus) Discover(ctx context.Context, code string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("memory bus closed: %w", ErrUnavailable)
	}

	if until, ok := b.tombstones[code]; ok && !b.now().Before(until) {
		return nil, ErrNotFound
	}

	snapshot, ok := b.retained[code]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot, nil
}

// tombstonedLocked reports whether code was deleted recently, forgetting
// expired tombstones. The caller holds the write lock.
func (b *MemoryBus) tombstonedLocked(code string, now time.Time) bool {
	until, ok := b.tombstones[code]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(b.tombstones, code)
	delete(b.retained, code)
	return false
}

// Subscribers reports how many subscriptions are open for code
func (b *MemoryBus) Subscribers(code string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[code])
}

// Close stops every subscription; further calls fail with ErrUnavailable
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.topics = make(map[string]map[uint64]*memorySubscription)
	b.retained = make(map[string]json.RawMessage)
	b.tombstones = make(map[string]time.Time)

	return nil
}
