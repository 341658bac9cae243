package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultSnapshotTTL = 10 * time.Minute

// Redis is a networked backend: the latest snapshot of each room lives in a
// key with a TTL (refreshed by every heartbeat), and mutations travel over
// redis pub/sub.
type Redis struct {
	client      *redis.Client
	snapshotTTL time.Duration
	log         *slog.Logger

	mu   sync.Mutex
	subs map[*redisSubscription]struct{}
}

type redisSubscription struct {
	code   string
	pubsub *redis.PubSub
}

func (s *redisSubscription) RoomCode() string { return s.code }

// snapshotKey returns the key holding a room's latest snapshot.
func snapshotKey(code string) string {
	return fmt.Sprintf("room:%s:snapshot", code)
}

// closedKey marks a recently deleted room.
func closedKey(code string) string {
	return fmt.Sprintf("room:%s:closed", code)
}

// mutationsChannel returns the pub/sub channel of a room.
func mutationsChannel(code string) string {
	return fmt.Sprintf("room:%s:mutations", code)
}

// NewRedis connects to redisURL and pings it
func NewRedis(ctx context.Context, redisURL string, snapshotTTL time.Duration, log *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w: %w", ErrUnavailable, err)
	}

	return NewRedisFromClient(client, snapshotTTL, log), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client, snapshotTTL time.Duration, log *slog.Logger) *Redis {
	if snapshotTTL <= 0 {
		snapshotTTL = defaultSnapshotTTL
	}
	return &Redis{
		client:      client,
		snapshotTTL: snapshotTTL,
		log:         log,
		subs:        make(map[*redisSubscription]struct{}),
	}
}

// publishScript retains the snapshot and publishes the envelope atomically.
// A snapshot is not retained while the room's closed marker exists; a
// deletion sets the marker and keeps the closed snapshot for as long.
//
// KEYS: snapshot key, closed key
// ARGV: mode (snapshot|deleted|none), payload, snapshot ttl ms, closed ttl ms, channel, envelope
var publishScript = redis.NewScript(`
local mode = ARGV[1]
if mode == 'snapshot' then
	if redis.call('EXISTS', KEYS[2]) == 0 then
		redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	end
elseif mode == 'deleted' then
	redis.call('SET', KEYS[2], '1', 'PX', ARGV[4])
	if ARGV[2] == '' then
		redis.call('DEL', KEYS[1])
	else
		redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[4])
	end
end
return redis.call('PUBLISH', ARGV[5], ARGV[6])
`)

// Publish stores snapshots and publishes the envelope in one script call
func (r *Redis) Publish(ctx context.Context, m Mutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}

	mode := "none"
	switch {
	case m.Snapshot():
		mode = "snapshot"
	case m.Kind == KindRoomDeleted:
		mode = "deleted"
	}

	err = publishScript.Run(ctx, r.client,
		[]string{snapshotKey(m.RoomCode), closedKey(m.RoomCode)},
		mode,
		string(m.Payload),
		r.snapshotTTL.Milliseconds(),
		closedRetention.Milliseconds(),
		mutationsChannel(m.RoomCode),
		string(data),
	).Err()
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w: %w", m.Kind, m.RoomCode, ErrUnavailable, err)
	}

	return nil
}

// Subscribe opens a pub/sub subscription and dispatches decoded mutations to h
func (r *Redis) Subscribe(ctx context.Context, code string, h Handler) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, mutationsChannel(code))

	// Wait for the subscription confirmation so no mutation published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w: %w", code, ErrUnavailable, err)
	}

	sub := &redisSubscription{
		code:   code,
		pubsub: pubsub,
	}

	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go r.dispatch(sub, h)

	return sub, nil
}

func (r *Redis) dispatch(sub *redisSubscription, h Handler) {
	for msg := range sub.pubsub.Channel() {
		var m Mutation
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			r.log.Warn("dropping undecodable mutation",
				"room_code", sub.code,
				"error", err,
			)
			continue
		}
		h(m)
	}
}

// Unsubscribe closes the pub/sub connection behind sub
func (r *Redis) Unsubscribe(sub Subscription) error {
	rs, ok := sub.(*redisSubscription)
	if !ok {
		return fmt.Errorf("foreign subscription type %T", sub)
	}

	r.mu.Lock()
	delete(r.subs, rs)
	r.mu.Unlock()

	return rs.pubsub.Close()
}

// Discover reads the stored snapshot of code
func (r *Redis) Discover(ctx context.Context, code string) (json.RawMessage, error) {
	data, err := r.client.Get(ctx, snapshotKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("discover %s: %w: %w", code, ErrUnavailable, err)
	}
	return json.RawMessage(data), nil
}

// Ping checks the redis connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close drops every subscription and the client
func (r *Redis) Close() error {
	r.mu.Lock()
	subs := make([]*redisSubscription, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[*redisSubscription]struct{})
	r.mu.Unlock()

	for _, sub := range subs {
		sub.pubsub.Close()
	}

	return r.client.Close()
}
