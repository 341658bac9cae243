package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/MisTAiM/movienights/internal/metrics"
	"github.com/MisTAiM/movienights/internal/room"
	"github.com/MisTAiM/movienights/internal/snapshot"
	"github.com/MisTAiM/movienights/internal/transport"
)

// HubConfig tunes every room hub of a manager
type HubConfig struct {
	// How often the hub sweeps silent participants and checks for idleness
	SweepInterval time.Duration

	// Participants silent for longer than this are marked inactive
	PresenceTimeout time.Duration

	// Hubs with no clients and no activity for this long are removed
	IdleTimeout time.Duration

	// Bound on a single snapshot store call
	StoreTimeout time.Duration

	// How long a closed room keeps its code after it ended. Until then the
	// room cannot be revived by a late snapshot.
	ClosedRetention time.Duration

	// Max mutations per client per second, 0 disables the limit
	RateLimit int

	// Allowed websocket origins, empty means same origin only
	OriginPatterns []string

	Clock func() time.Time
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		SweepInterval:   30 * time.Second,
		PresenceTimeout: 90 * time.Second,
		IdleTimeout:     5 * time.Minute,
		StoreTimeout:    3 * time.Second,
		ClosedRetention: time.Hour,
		RateLimit:       20,
	}
}

func (c HubConfig) withDefaults() HubConfig {
	d := DefaultHubConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = d.PresenceTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.ClosedRetention <= 0 {
		c.ClosedRetention = d.ClosedRetention
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

type inbound struct {
	client   *Client
	mutation transport.Mutation
}

// Hub relays the mutations of one room between its connected clients and
// keeps the merged room state so late joiners and discovery see it
type Hub struct {
	// Room code
	code string

	// Registered clients (only accessed by hub goroutine)
	clients map[*Client]bool

	// Mutations read from clients
	inbound chan inbound

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Shutdown signal
	shutdown chan struct{}

	// Closed once Run has returned
	done chan struct{}

	// Merged room state, nil until the first snapshot arrives. Only the hub
	// goroutine writes it; mu guards reads from elsewhere.
	mu    sync.RWMutex
	state *room.Room

	shutdownOnce sync.Once

	lastActivity time.Time

	// Called from Run when the hub has been idle for IdleTimeout
	onIdle func(*Hub)

	store snapshot.Store
	cfg   HubConfig
	log   *slog.Logger
}

// NewHub creates a hub for code seeded with state, which may be nil
func NewHub(code string, state *room.Room, store snapshot.Store, cfg HubConfig, log *slog.Logger) *Hub {
	cfg = cfg.withDefaults()
	return &Hub{
		code:         code,
		clients:      make(map[*Client]bool),
		inbound:      make(chan inbound, 256),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		state:        state,
		lastActivity: cfg.Clock(),
		store:        store,
		cfg:          cfg,
		log:          log.With("room_code", code),
	}
}

// Run is the main event loop - handles ALL state changes sequentially
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case in := <-h.inbound:
			h.handleInbound(in)

		case <-ticker.C:
			if h.handleSweep() && h.onIdle != nil {
				h.onIdle(h)
			}

		case <-h.shutdown:
			h.handleShutdown()
			return
		}
	}
}

// Snapshot returns a deep copy of the merged state, or nil if the hub has
// not seen the room yet. Safe to call from any goroutine.
func (h *Hub) Snapshot() *room.Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.Clone()
}

func (h *Hub) setState(r *room.Room) {
	h.mu.Lock()
	h.state = r
	h.mu.Unlock()
	h.persist(r)
}

func (h *Hub) now() time.Time {
	return h.cfg.Clock().UTC()
}

func (h *Hub) handleRegister(client *Client) {
	h.clients[client] = true
	h.lastActivity = h.now()
	metrics.ConnectedClients.Inc()

	h.log.Info("client registered",
		"participant_id", client.participantID,
		"total_clients", len(h.clients),
	)

	// Bring the newcomer up to date before anything else reaches it
	switch {
	case h.state == nil:
	case h.state.Closed():
		h.sendTo(client, h.systemMutation(transport.KindRoomDeleted, h.state))
	default:
		h.sendTo(client, h.systemMutation(transport.KindRoomUpdated, h.state))
	}
}

func (h *Hub) handleUnregister(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	close(client.send) // Signal client to stop
	h.lastActivity = h.now()
	metrics.ConnectedClients.Dec()

	h.log.Info("client unregistered",
		"participant_id", client.participantID,
		"remaining_clients", len(h.clients),
	)
}

func (h *Hub) handleInbound(in inbound) {
	m := in.mutation
	h.lastActivity = h.now()

	// Clients cannot speak for anyone else or for another room
	m.Origin = in.client.participantID
	m.RoomCode = h.code
	if m.SentAt.IsZero() {
		m.SentAt = h.now()
	}

	switch m.Kind {
	case transport.KindRoomCreated, transport.KindRoomUpdated:
		incoming, reason := h.decode(m)
		if reason != "" {
			h.reject(m, reason)
			return
		}
		if h.state != nil && h.state.Closed() {
			h.reject(m, "room_closed")
			return
		}
		if h.state != nil && !h.state.Admits(m.Origin, incoming) {
			h.reject(m, "unauthorized")
			return
		}

		h.setState(room.Merge(h.state, incoming))

	case transport.KindRoomDeleted:
		incoming, reason := h.decode(m)
		if reason != "" {
			h.reject(m, reason)
			return
		}
		if !h.admitsDeletion(m.Origin, incoming) {
			h.reject(m, "unauthorized")
			return
		}

		closed := room.Merge(h.state, incoming)
		closed.Status = room.StatusClosed
		h.setState(closed)

	case transport.KindControlRequest:
		if h.state == nil || !h.state.IsActive(m.Origin) {
			h.reject(m, "unauthorized")
			return
		}

	default:
		h.reject(m, "unknown_kind")
		return
	}

	h.broadcast(m)
}

// admitsDeletion accepts a deletion from the host, or from whoever was the
// last active participant
func (h *Hub) admitsDeletion(origin string, incoming *room.Room) bool {
	if h.state == nil {
		return incoming.HostID == origin
	}
	if origin == h.state.HostID {
		return true
	}
	if !h.state.IsActive(origin) {
		return false
	}
	return len(room.Merge(h.state, incoming).ActiveParticipants()) == 0
}

func (h *Hub) decode(m transport.Mutation) (*room.Room, string) {
	r := new(room.Room)
	if err := json.Unmarshal(m.Payload, r); err != nil {
		return nil, "decode"
	}
	if r.Code != h.code {
		return nil, "room_mismatch"
	}
	if r.Participants == nil {
		r.Participants = make(map[string]room.Participant)
	}
	return r, ""
}

func (h *Hub) reject(m transport.Mutation, reason string) {
	metrics.MutationsRejected.WithLabelValues(reason).Inc()
	h.log.Warn("rejected mutation",
		"kind", m.Kind,
		"origin", m.Origin,
		"reason", reason,
	)
}

// handleSweep marks silent participants inactive and closes the room when
// nobody is left. It reports whether the hub is idle and can be removed.
func (h *Hub) handleSweep() bool {
	now := h.now()

	if h.state != nil && !h.state.Closed() {
		next := h.state.Clone()
		res := next.Sweep(now, h.cfg.PresenceTimeout)
		if res.Changed() {
			metrics.PresenceEvictions.Add(float64(len(res.Evicted)))
			h.log.Info("presence sweep",
				"evicted", res.Evicted,
				"exhausted", res.Exhausted,
			)

			kind := transport.KindRoomUpdated
			if res.Exhausted {
				next.Close(transport.SystemOrigin, now)
				kind = transport.KindRoomDeleted
			}
			h.setState(next)
			h.broadcast(h.systemMutation(kind, next))
		}
	}

	return len(h.clients) == 0 && now.Sub(h.lastActivity) > h.cfg.IdleTimeout
}

func (h *Hub) handleShutdown() {
	h.log.Info("shutting down hub", "clients", len(h.clients))

	for client := range h.clients {
		close(client.send)
		metrics.ConnectedClients.Dec()
	}
	h.clients = nil
}

func (h *Hub) systemMutation(kind transport.Kind, r *room.Room) transport.Mutation {
	payload, err := json.Marshal(r)
	if err != nil {
		h.log.Error("failed to marshal room", "error", err)
	}
	return transport.Mutation{
		RoomCode: h.code,
		Kind:     kind,
		Origin:   transport.SystemOrigin,
		Payload:  payload,
		SentAt:   h.now(),
	}
}

// broadcast sends m to every client, the sender included, so each of them
// can confirm its own write
func (h *Hub) broadcast(m transport.Mutation) {
	data, err := json.Marshal(m)
	if err != nil {
		h.log.Error("failed to marshal mutation", "error", err)
		return
	}

	metrics.MutationsRelayed.WithLabelValues(string(m.Kind)).Inc()

	for client := range h.clients {
		h.deliver(client, data)
	}
}

func (h *Hub) sendTo(client *Client, m transport.Mutation) {
	data, err := json.Marshal(m)
	if err != nil {
		h.log.Error("failed to marshal mutation", "error", err)
		return
	}
	h.deliver(client, data)
}

func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		// Client is too slow, disconnect it
		h.log.Warn("client buffer full, disconnecting",
			"participant_id", client.participantID,
		)
		metrics.SlowClientsDropped.Inc()
		h.handleUnregister(client)
	}
}

// persist writes the merged state through to the store. Closed rooms are
// saved too, so a restored hub stays closed until the manager expires it.
func (h *Hub) persist(r *room.Room) {
	if h.store == nil || r == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := h.store.Save(ctx, r)
	metrics.SnapshotStoreLatency.WithLabelValues("save").Observe(time.Since(start).Seconds())

	if err != nil {
		h.log.Error("failed to persist room snapshot", "op", "save", "error", err)
	}
}

// Shutdown stops the hub and disconnects its clients
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}
