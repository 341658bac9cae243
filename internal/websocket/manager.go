package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MisTAiM/movienights/internal/metrics"
	"github.com/MisTAiM/movienights/internal/room"
	"github.com/MisTAiM/movienights/internal/snapshot"
	"github.com/coder/websocket"
)

var ErrRoomNotFound = errors.New("room not found")

// Manager owns one hub per room code
type Manager struct {
	hubs  sync.Map // map[string]*Hub
	store snapshot.Store
	cfg   HubConfig
	log   *slog.Logger

	// Closed rooms whose hub was removed, kept for ClosedRetention when
	// there is no store to remember them
	mu     sync.Mutex
	closed map[string]*room.Room
}

// NewManager creates a manager. store may be nil, in which case rooms only
// live as long as their hubs.
func NewManager(store snapshot.Store, cfg HubConfig, log *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		cfg:    cfg.withDefaults(),
		log:    log,
		closed: make(map[string]*room.Room),
	}
}

// GetOrCreateHub returns the hub for code, starting one seeded from the
// snapshot store if none is running
func (m *Manager) GetOrCreateHub(ctx context.Context, code string) *Hub {
	if hub, ok := m.hubs.Load(code); ok {
		return hub.(*Hub)
	}

	hub := NewHub(code, m.restore(ctx, code), m.store, m.cfg, m.log)
	hub.onIdle = m.removeHub

	actual, loaded := m.hubs.LoadOrStore(code, hub)
	if !loaded {
		// We created a new hub, start it
		go hub.Run()
		metrics.ActiveRooms.Inc()
		m.log.Info("created new hub", "room_code", code)
	}

	return actual.(*Hub)
}

// restore returns the last known state of code. A closed room is returned
// while it is within ClosedRetention and forgotten after that.
func (m *Manager) restore(ctx context.Context, code string) *room.Room {
	if m.store == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		r, ok := m.closed[code]
		if !ok {
			return nil
		}
		if m.expired(r) {
			delete(m.closed, code)
			return nil
		}
		return r.Clone()
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()

	r, err := m.store.Load(ctx, code)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		return nil
	case err != nil:
		m.log.Error("failed to load room snapshot", "room_code", code, "error", err)
		return nil
	case r.Closed() && m.expired(r):
		if err := m.store.Delete(ctx, code); err != nil {
			m.log.Warn("failed to delete expired room snapshot", "room_code", code, "error", err)
		}
		return nil
	}

	m.log.Info("restored room from snapshot", "room_code", code, "closed", r.Closed())
	return r
}

// expired reports whether a closed room has outlived ClosedRetention
func (m *Manager) expired(r *room.Room) bool {
	return m.cfg.Clock().Sub(r.LastActivityAt) > m.cfg.ClosedRetention
}

// removeHub runs on the hub's own goroutine, so it must not wait for it
func (m *Manager) removeHub(h *Hub) {
	if m.hubs.CompareAndDelete(h.code, h) {
		metrics.ActiveRooms.Dec()
		m.log.Info("removing idle hub", "room_code", h.code)
	}

	if r := h.Snapshot(); m.store == nil && r != nil && r.Closed() {
		m.mu.Lock()
		for code, old := range m.closed {
			if m.expired(old) {
				delete(m.closed, code)
			}
		}
		m.closed[h.code] = r
		m.mu.Unlock()
	}

	h.Shutdown()
}

// Snapshot returns the state of a room from its hub, falling back to the
// snapshot store. A recently closed room is returned closed; unknown rooms
// are ErrRoomNotFound.
func (m *Manager) Snapshot(ctx context.Context, code string) (*room.Room, error) {
	if hub, ok := m.hubs.Load(code); ok {
		if r := hub.(*Hub).Snapshot(); r != nil {
			return r, nil
		}
	}

	if r := m.restore(ctx, code); r != nil {
		return r, nil
	}
	return nil, ErrRoomNotFound
}

// ServeWS upgrades the request and serves the connection until it closes.
// Upgrade failures have already been answered when it returns.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request, participantID, code string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: m.cfg.OriginPatterns,
	})
	if err != nil {
		m.log.Warn("websocket upgrade failed", "room_code", code, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var client *Client
	for client == nil {
		hub := m.GetOrCreateHub(ctx, code)
		c := NewClient(participantID, conn, hub, m.log)

		// Register with hub; a hub removed meanwhile means retry on a fresh one
		select {
		case hub.register <- c:
			client = c
		case <-hub.done:
			m.hubs.CompareAndDelete(code, hub)
		case <-ctx.Done():
			conn.CloseNow()
			return
		}
	}

	go client.writePump(ctx)
	client.readPump(ctx)
}

// Rooms returns the number of running hubs
func (m *Manager) Rooms() int {
	n := 0
	m.hubs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown gracefully shuts down all hubs
func (m *Manager) Shutdown() {
	m.hubs.Range(func(key, value any) bool {
		value.(*Hub).Shutdown()
		m.hubs.Delete(key)
		metrics.ActiveRooms.Dec()
		return true
	})
}
