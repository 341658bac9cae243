package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisFromClient(client, time.Minute, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisFanOut(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	a, b, other := make(chan Mutation, 4), make(chan Mutation, 4), make(chan Mutation, 4)
	subA, err := r.Subscribe(ctx, "ROOM01", func(m Mutation) { a <- m })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Subscribe(ctx, "ROOM01", func(m Mutation) { b <- m }); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Subscribe(ctx, "ROOM02", func(m Mutation) { other <- m }); err != nil {
		t.Fatal(err)
	}

	m := Mutation{RoomCode: "ROOM01", Kind: KindControlRequest, Origin: "A", Payload: json.RawMessage(`{"text":"hi"}`)}
	if err := r.Publish(ctx, m); err != nil {
		t.Fatal(err)
	}

	got := receive(t, a)
	if got.Origin != "A" || got.Kind != KindControlRequest || string(got.Payload) != `{"text":"hi"}` {
		t.Fatalf("a got %+v", got)
	}
	receive(t, b)
	select {
	case m := <-other:
		t.Fatalf("mutation leaked to another room: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}

	if err := r.Unsubscribe(subA); err != nil {
		t.Fatal(err)
	}
	if err := r.Publish(ctx, m); err != nil {
		t.Fatal(err)
	}
	receive(t, b)
	select {
	case m := <-a:
		t.Fatalf("delivered after unsubscribe: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisDiscover(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	if _, err := r.Discover(ctx, "ROOM01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// A control request is not a snapshot and is never retained
	if err := r.Publish(ctx, Mutation{RoomCode: "ROOM01", Kind: KindControlRequest, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Discover(ctx, "ROOM01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := r.Publish(ctx, Mutation{RoomCode: "ROOM01", Kind: KindRoomCreated, Payload: json.RawMessage(`{"v":1}`)}); err != nil {
		t.Fatal(err)
	}
	if err := r.Publish(ctx, Mutation{RoomCode: "ROOM01", Kind: KindRoomUpdated, Payload: json.RawMessage(`{"v":2}`)}); err != nil {
		t.Fatal(err)
	}

	got, err := r.Discover(ctx, "ROOM01")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"v":2}` {
		t.Fatalf("Discover = %s", got)
	}

	// The snapshot lapses when no heartbeat refreshes it
	mr.FastForward(2 * time.Minute)
	if _, err := r.Discover(ctx, "ROOM01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after ttl", err)
	}
}

func TestRedisDeletedRoomStaysDeleted(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	seen := make(chan Mutation, 8)
	if _, err := r.Subscribe(ctx, "ROOM01", func(m Mutation) { seen <- m }); err != nil {
		t.Fatal(err)
	}

	stale := Mutation{RoomCode: "ROOM01", Kind: KindRoomUpdated, Origin: "B", Payload: json.RawMessage(`{"v":1}`)}
	for _, m := range []Mutation{
		stale,
		{RoomCode: "ROOM01", Kind: KindRoomDeleted, Origin: "A", Payload: json.RawMessage(`{"v":2,"status":"closed"}`)},
		stale,
	} {
		if err := r.Publish(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	// Every mutation still reaches subscribers; only retention is refused
	for range 3 {
		receive(t, seen)
	}

	got, err := r.Discover(ctx, "ROOM01")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"v":2,"status":"closed"}` {
		t.Fatalf("Discover = %s, want the closed snapshot", got)
	}
	if !mr.Exists(closedKey("ROOM01")) {
		t.Fatal("closed marker missing")
	}

	mr.FastForward(closedRetention)
	if _, err := r.Discover(ctx, "ROOM01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after retention", err)
	}

	// Once the marker lapses the code can be reused
	if err := r.Publish(ctx, Mutation{RoomCode: "ROOM01", Kind: KindRoomCreated, Payload: json.RawMessage(`{"v":9}`)}); err != nil {
		t.Fatal(err)
	}
	got, err = r.Discover(ctx, "ROOM01")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"v":9}` {
		t.Fatalf("Discover = %s", got)
	}
}

func TestRedisUnavailable(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := r.Publish(ctx, Mutation{RoomCode: "ROOM01", Kind: KindControlRequest, Payload: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
