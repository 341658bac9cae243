package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies what a mutation carries
type Kind string

const (
	KindRoomCreated    Kind = "ROOM_CREATED"
	KindRoomUpdated    Kind = "ROOM_UPDATED"
	KindRoomDeleted    Kind = "ROOM_DELETED"
	KindControlRequest Kind = "CONTROL_REQUEST"

	// KindConnectivity is delivered locally by a backend that lost its link
	// to a room. It is never published; LinkError returns the cause.
	KindConnectivity Kind = "CONNECTIVITY"
)

// closedRetention is how long a backend remembers a deleted room. While the
// tombstone lasts, Discover answers with the closed snapshot and later
// snapshots for the code are not retained.
const closedRetention = time.Hour

// SystemOrigin marks mutations produced by a backend rather than a participant
// (for example the relay's server-side presence sweep).
const SystemOrigin = "@system"

var (
	// ErrNotFound is returned by Discover when no live room answers for a code
	ErrNotFound = errors.New("room not found")

	// ErrUnavailable wraps any failure to reach the backend
	ErrUnavailable = errors.New("transport unavailable")
)

// Mutation is the envelope moved between clients of one room
type Mutation struct {
	RoomCode string          `json:"room_code"`
	Kind     Kind            `json:"kind"`
	Origin   string          `json:"origin"`
	Payload  json.RawMessage `json:"payload"`
	SentAt   time.Time       `json:"sent_at"`
}

// Snapshot reports whether the mutation carries a full room snapshot
func (m Mutation) Snapshot() bool {
	return m.Kind == KindRoomCreated || m.Kind == KindRoomUpdated
}

// LinkError returns the failure carried by a KindConnectivity mutation
func (m Mutation) LinkError() error {
	if m.Kind != KindConnectivity {
		return nil
	}
	var msg string
	if err := json.Unmarshal(m.Payload, &msg); err != nil || msg == "" {
		msg = "connection lost"
	}
	return fmt.Errorf("%s: %w", msg, ErrUnavailable)
}

func connectivityMutation(code string, cause error) Mutation {
	payload, _ := json.Marshal(cause.Error())
	return Mutation{
		RoomCode: code,
		Kind:     KindConnectivity,
		Origin:   SystemOrigin,
		Payload:  payload,
		SentAt:   time.Now().UTC(),
	}
}

// Handler receives every mutation published to a subscribed room code.
// Delivery is at-least-once and unordered across publishers, so handlers
// must be idempotent.
type Handler func(Mutation)

// Subscription is an opaque handle returned by Subscribe
type Subscription interface {
	RoomCode() string
}

// Transport is the pluggable publish/subscribe primitive the session engine
// is written against.
type Transport interface {
	Publish(ctx context.Context, m Mutation) error
	Subscribe(ctx context.Context, code string, h Handler) (Subscription, error)
	Unsubscribe(sub Subscription) error

	// Discover returns the latest known snapshot of a room, or ErrNotFound.
	// A recently deleted room answers with its closed snapshot. It must not
	// block past ctx.
	Discover(ctx context.Context, code string) (json.RawMessage, error)

	Close() error
}
