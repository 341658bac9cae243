package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/MisTAiM/movienights/internal/room"
	"github.com/MisTAiM/movienights/internal/snapshot"
	"github.com/MisTAiM/movienights/internal/transport"
)

var t0 = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestHub(t *testing.T, state *room.Room) (*Hub, *snapshot.MemoryStore, *testClock) {
	t.Helper()
	clk := &testClock{now: t0}
	store := snapshot.NewMemoryStore()
	cfg := HubConfig{
		PresenceTimeout: 90 * time.Second,
		IdleTimeout:     5 * time.Minute,
		Clock:           clk.Now,
	}
	return NewHub("HUB001", state, store, cfg, slog.New(slog.DiscardHandler)), store, clk
}

func fakeClient(h *Hub, participantID string, buffer int) *Client {
	return &Client{participantID: participantID, hub: h, send: make(chan []byte, buffer)}
}

func received(t *testing.T, c *Client) []transport.Mutation {
	t.Helper()
	var out []transport.Mutation
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var m transport.Mutation
			if err := json.Unmarshal(data, &m); err != nil {
				t.Fatalf("undecodable frame: %v", err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func snapshotMutation(t *testing.T, kind transport.Kind, origin string, r *room.Room) transport.Mutation {
	t.Helper()
	payload, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	return transport.Mutation{RoomCode: r.Code, Kind: kind, Origin: origin, Payload: payload, SentAt: t0}
}

func hostedRoom() *room.Room {
	r := room.New("HUB001", "A", "Alice", t0)
	if err := r.Join("B", "Bob", t0.Add(time.Second)); err != nil {
		panic(err)
	}
	return r
}

func TestHubRegisterSendsRetainedState(t *testing.T) {
	h, _, _ := newTestHub(t, hostedRoom())
	c := fakeClient(h, "B", 4)

	h.handleRegister(c)

	got := received(t, c)
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if got[0].Origin != transport.SystemOrigin || got[0].Kind != transport.KindRoomUpdated {
		t.Fatalf("frame = %+v", got[0])
	}
}

func TestHubRelaysAndRetainsSnapshots(t *testing.T) {
	h, store, _ := newTestHub(t, nil)
	a := fakeClient(h, "A", 4)
	b := fakeClient(h, "B", 4)
	h.handleRegister(a)
	h.handleRegister(b)

	created := room.New("HUB001", "A", "Alice", t0)
	// the origin a client claims is replaced with its ticketed identity
	h.handleInbound(inbound{client: a, mutation: snapshotMutation(t, transport.KindRoomCreated, "someone-else", created)})

	for _, c := range []*Client{a, b} {
		got := received(t, c)
		if len(got) != 1 || got[0].Origin != "A" || got[0].RoomCode != "HUB001" {
			t.Fatalf("%s received %+v", c.participantID, got)
		}
	}

	if s := h.Snapshot(); s == nil || s.HostID != "A" {
		t.Fatalf("retained state = %+v", s)
	}
	saved, err := store.Load(context.Background(), "HUB001")
	if err != nil {
		t.Fatalf("snapshot not persisted: %v", err)
	}
	if saved.HostID != "A" {
		t.Fatalf("persisted host = %q", saved.HostID)
	}
}

func TestHubRejectsUnauthorizedMutations(t *testing.T) {
	h, _, _ := newTestHub(t, hostedRoom())
	a := fakeClient(h, "A", 4)
	z := fakeClient(h, "Z", 4)
	h.handleRegister(a)
	h.handleRegister(z)
	received(t, a)
	received(t, z)

	// Z replays a snapshot it is not part of
	forged := hostedRoom()
	if err := forged.PassControl("A", "B", t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	h.handleInbound(inbound{client: z, mutation: snapshotMutation(t, transport.KindRoomUpdated, "A", forged)})

	// Z asks for control without being in the room
	h.handleInbound(inbound{client: z, mutation: transport.Mutation{Kind: transport.KindControlRequest}})

	// snapshot for another room
	other := room.New("OTHER1", "A", "Alice", t0)
	h.handleInbound(inbound{client: a, mutation: snapshotMutation(t, transport.KindRoomUpdated, "A", other)})

	if got := received(t, a); len(got) != 0 {
		t.Fatalf("rejected mutations were relayed: %+v", got)
	}
	if h.Snapshot().ControllerID != "A" {
		t.Fatal("rejected snapshot changed the retained state")
	}
}

func TestHubDeletion(t *testing.T) {
	t.Run("guest cannot delete", func(t *testing.T) {
		h, store, _ := newTestHub(t, nil)
		b := fakeClient(h, "B", 4)
		h.handleRegister(b)
		h.setState(hostedRoom())

		closed := hostedRoom()
		closed.Close("B", t0.Add(time.Minute))
		h.handleInbound(inbound{client: b, mutation: snapshotMutation(t, transport.KindRoomDeleted, "B", closed)})

		if h.Snapshot().Closed() {
			t.Fatal("guest closed the room")
		}
		if _, err := store.Load(context.Background(), "HUB001"); err != nil {
			t.Fatalf("snapshot dropped: %v", err)
		}
	})

	t.Run("host deletes", func(t *testing.T) {
		h, store, _ := newTestHub(t, nil)
		a := fakeClient(h, "A", 4)
		h.handleRegister(a)
		h.setState(hostedRoom())

		closed := hostedRoom()
		if err := closed.Leave("A", t0.Add(time.Minute)); err != nil {
			t.Fatal(err)
		}
		h.handleInbound(inbound{client: a, mutation: snapshotMutation(t, transport.KindRoomDeleted, "A", closed)})

		if !h.Snapshot().Closed() {
			t.Fatal("room still open")
		}
		saved, err := store.Load(context.Background(), "HUB001")
		if err != nil || !saved.Closed() {
			t.Fatalf("closed room not stored closed: %+v, %v", saved, err)
		}
		if got := received(t, a); len(got) != 1 || got[0].Kind != transport.KindRoomDeleted {
			t.Fatalf("received %+v", got)
		}

		// a stale update cannot resurrect it
		h.handleInbound(inbound{client: a, mutation: snapshotMutation(t, transport.KindRoomUpdated, "A", hostedRoom())})
		if !h.Snapshot().Closed() {
			t.Fatal("update reopened a closed room")
		}
		if saved, _ := store.Load(context.Background(), "HUB001"); !saved.Closed() {
			t.Fatal("update reopened the stored room")
		}

		// a late joiner learns the room is gone
		c := fakeClient(h, "C", 4)
		h.handleRegister(c)
		if got := received(t, c); len(got) != 1 || got[0].Kind != transport.KindRoomDeleted || got[0].Origin != transport.SystemOrigin {
			t.Fatalf("late joiner received %+v", got)
		}
	})

	t.Run("last participant deletes", func(t *testing.T) {
		h, _, _ := newTestHub(t, nil)
		b := fakeClient(h, "B", 4)
		h.handleRegister(b)

		state := hostedRoom()
		if err := state.PassControl("A", "B", t0.Add(time.Minute)); err != nil {
			t.Fatal(err)
		}
		if err := state.Leave("A", t0.Add(2*time.Minute)); err != nil {
			t.Fatal(err)
		}
		h.setState(state)

		closed := state.Clone()
		if err := closed.Leave("B", t0.Add(3*time.Minute)); err != nil {
			t.Fatal(err)
		}
		h.handleInbound(inbound{client: b, mutation: snapshotMutation(t, transport.KindRoomDeleted, "B", closed)})

		if !h.Snapshot().Closed() {
			t.Fatal("last participant could not close the room")
		}
	})
}

func TestHubSweep(t *testing.T) {
	h, store, clk := newTestHub(t, nil)
	a := fakeClient(h, "A", 8)
	h.handleRegister(a)
	h.setState(hostedRoom())

	// A keeps heartbeating, B goes silent
	clk.now = t0.Add(2 * time.Minute)
	fresh := h.Snapshot()
	if err := fresh.Touch("A", clk.now); err != nil {
		t.Fatal(err)
	}
	h.handleInbound(inbound{client: a, mutation: snapshotMutation(t, transport.KindRoomUpdated, "A", fresh)})
	received(t, a)

	if idle := h.handleSweep(); idle {
		t.Fatal("hub with a client reported idle")
	}
	if h.Snapshot().IsActive("B") {
		t.Fatal("silent participant survived the sweep")
	}
	got := received(t, a)
	if len(got) != 1 || got[0].Origin != transport.SystemOrigin || got[0].Kind != transport.KindRoomUpdated {
		t.Fatalf("sweep broadcast %+v", got)
	}

	// everybody silent: the room ends
	h.handleUnregister(a)
	clk.now = t0.Add(time.Hour)
	if idle := h.handleSweep(); !idle {
		t.Fatal("empty hub not idle after IdleTimeout")
	}
	if !h.Snapshot().Closed() {
		t.Fatal("room with nobody left was not closed")
	}
	if saved, err := store.Load(context.Background(), "HUB001"); err != nil || !saved.Closed() {
		t.Fatalf("stored room = %+v, %v, want closed", saved, err)
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	slow := fakeClient(h, "B", 0)
	h.handleRegister(slow)

	h.broadcast(transport.Mutation{RoomCode: "HUB001", Kind: transport.KindRoomUpdated})

	if _, ok := h.clients[slow]; ok {
		t.Fatal("slow client still registered")
	}
	if _, ok := <-slow.send; ok {
		t.Fatal("send channel not closed")
	}
}

func TestClientRateLimit(t *testing.T) {
	c := &Client{rateLimit: 2}

	if !c.allow(t0) || !c.allow(t0.Add(100*time.Millisecond)) {
		t.Fatal("first two mutations refused")
	}
	if c.allow(t0.Add(200 * time.Millisecond)) {
		t.Fatal("third mutation in the window allowed")
	}
	if !c.allow(t0.Add(time.Second)) {
		t.Fatal("new window still limited")
	}
}
