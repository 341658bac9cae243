package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MisTAiM/movienights/internal/transport"
)

const noticeBuffer = 64

type Config struct {
	HeartbeatPeriod  time.Duration
	TimeoutMultiple  int
	DiscoveryTimeout time.Duration
	PublishTimeout   time.Duration
	MaxCodeAttempts  int

	// Clock and NewCode default to time.Now and GenerateCode
	Clock   func() time.Time
	NewCode func() (string, error)
}

func DefaultConfig() Config {
	return Config{
		HeartbeatPeriod:  30 * time.Second,
		TimeoutMultiple:  3,
		DiscoveryTimeout: 5 * time.Second,
		PublishTimeout:   5 * time.Second,
		MaxCodeAttempts:  8,
	}
}

// PresenceTimeout is how long a participant may go without a heartbeat
func (c Config) PresenceTimeout() time.Duration {
	return c.HeartbeatPeriod * time.Duration(c.TimeoutMultiple)
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = d.HeartbeatPeriod
	}
	if c.TimeoutMultiple <= 0 {
		c.TimeoutMultiple = d.TimeoutMultiple
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = d.DiscoveryTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.MaxCodeAttempts <= 0 {
		c.MaxCodeAttempts = d.MaxCodeAttempts
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewCode == nil {
		c.NewCode = GenerateCode
	}
	return c
}

type NoticeKind string

const (
	NoticeRoomChanged      NoticeKind = "room_changed"
	NoticeControlRequested NoticeKind = "control_requested"
	NoticeSessionEnded     NoticeKind = "session_ended"
	NoticeConnectivity     NoticeKind = "connectivity"
)

// Notice is something the UI should show the user
type Notice struct {
	Kind    NoticeKind
	Room    *Room
	Request *ControlRequest
	Err     error
}

// Session is one client's view of one room. It keeps a local mirror of the
// room, validates every local action against it, publishes accepted changes
// and merges whatever other clients publish.
type Session struct {
	transport transport.Transport
	self      string
	cfg       Config
	log       *slog.Logger
	notices   chan Notice

	mu           sync.Mutex
	room         *Room
	sub          transport.Subscription
	stopPresence context.CancelFunc
}

func NewSession(t transport.Transport, participantID string, cfg Config, log *slog.Logger) *Session {
	return &Session{
		transport: t,
		self:      participantID,
		cfg:       cfg.withDefaults(),
		log:       log.With("participant_id", participantID),
		notices:   make(chan Notice, noticeBuffer),
	}
}

// Self returns this client's participant id
func (s *Session) Self() string { return s.self }

// Notices delivers UI notifications. Slow readers miss notices, never block the session.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Code returns the current room code, or "" when not in a room
func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.Code
}

// Snapshot returns a deep copy of the local mirror, or nil when not in a room
func (s *Session) Snapshot() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.Clone()
}

func (s *Session) now() time.Time {
	return s.cfg.Clock().UTC()
}

// CreateRoom creates a room hosted by this client and returns its code.
// A publish failure still leaves the room live locally; the code is returned
// together with an ErrTransportUnavailable error.
func (s *Session) CreateRoom(ctx context.Context, hostName string) (string, error) {
	if s.joined() {
		return "", ErrAlreadyJoined
	}

	code, err := s.reserveCode(ctx)
	if err != nil {
		return "", err
	}

	sub, err := s.transport.Subscribe(ctx, code, s.handleMutation)
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w: %w", code, ErrTransportUnavailable, err)
	}

	r := New(code, s.self, hostName, s.now())

	s.mu.Lock()
	if s.room != nil {
		s.mu.Unlock()
		s.transport.Unsubscribe(sub)
		return "", ErrAlreadyJoined
	}
	s.room = r
	s.sub = sub
	snapshot := r.Clone()
	s.startPresenceLocked()
	s.mu.Unlock()

	s.log.Info("room created", "room_code", code)

	if err := s.publish(ctx, transport.KindRoomCreated, snapshot); err != nil {
		return code, err
	}
	return code, nil
}

// reserveCode generates codes until one is not answered by a live room
func (s *Session) reserveCode(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= s.cfg.MaxCodeAttempts; attempt++ {
		code, err := s.cfg.NewCode()
		if err != nil {
			return "", err
		}

		// A recently deleted room still holds its code
		_, err = s.discover(ctx, code)
		switch {
		case errors.Is(err, ErrRoomNotFound):
			return code, nil
		case errors.Is(err, ErrRoomClosed):
		case err != nil:
			return "", err
		}

		s.log.Debug("room code collision, regenerating",
			"room_code", code,
			"attempt", attempt,
			"error", ErrRoomCreationConflict,
		)
	}

	return "", ErrCodeSpaceExhausted
}

// discover asks the transport for a live room, bounded by DiscoveryTimeout.
// A room the backend still remembers as deleted yields ErrRoomClosed.
func (s *Session) discover(ctx context.Context, code string) (*Room, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DiscoveryTimeout)
	defer cancel()

	raw, err := s.transport.Discover(dctx, code)
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrNotFound):
			return nil, ErrRoomNotFound
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("discover %s: %w: %w", code, ErrTransportUnavailable, err)
	}

	found := new(Room)
	if err := json.Unmarshal(raw, found); err != nil {
		s.log.Warn("discarding undecodable room snapshot",
			"room_code", code,
			"error", err,
		)
		return nil, ErrRoomNotFound
	}
	if found.Code != code {
		return nil, ErrRoomNotFound
	}
	if found.Closed() {
		return nil, ErrRoomClosed
	}
	if found.Participants == nil {
		found.Participants = make(map[string]Participant)
	}

	return found, nil
}

// JoinRoom joins a live room and returns a snapshot of it
func (s *Session) JoinRoom(ctx context.Context, code, displayName string) (*Room, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, ErrRoomNotFound
	}
	if s.joined() {
		return nil, ErrAlreadyJoined
	}

	found, err := s.discover(ctx, code)
	if errors.Is(err, ErrRoomClosed) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	sub, err := s.transport.Subscribe(ctx, code, s.handleMutation)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w: %w", code, ErrTransportUnavailable, err)
	}

	s.mu.Lock()
	if s.room != nil {
		s.mu.Unlock()
		s.transport.Unsubscribe(sub)
		return nil, ErrAlreadyJoined
	}
	r := Merge(nil, found)
	if err := r.Join(s.self, displayName, s.now()); err != nil {
		s.mu.Unlock()
		s.transport.Unsubscribe(sub)
		return nil, err
	}
	s.room = r
	s.sub = sub
	snapshot := r.Clone()
	s.startPresenceLocked()
	s.mu.Unlock()

	s.log.Info("joined room", "room_code", code)

	if err := s.publish(ctx, transport.KindRoomUpdated, snapshot); err != nil {
		return snapshot.Clone(), err
	}
	return snapshot.Clone(), nil
}

// Leave leaves the current room. The room closes when the host leaves while
// holding control or when this client was the last active participant.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return ErrNotJoined
	}

	r := s.room.Clone()
	if err := r.Leave(s.self, s.now()); err != nil {
		s.mu.Unlock()
		return err
	}

	kind := transport.KindRoomUpdated
	if r.Closed() {
		kind = transport.KindRoomDeleted
	}
	sub := s.detachLocked()
	s.mu.Unlock()

	s.log.Info("left room", "room_code", r.Code, "closed", r.Closed())

	err := s.publish(ctx, kind, r)
	s.unsubscribe(sub)

	return err
}

// TerminateStaleRoom closes the current room unconditionally
func (s *Session) TerminateStaleRoom(ctx context.Context) error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return ErrNotJoined
	}

	r := s.room.Clone()
	r.Close(s.self, s.now())
	sub := s.detachLocked()
	s.mu.Unlock()

	s.log.Info("terminating stale room", "room_code", r.Code)

	err := s.publish(ctx, transport.KindRoomDeleted, r)
	s.unsubscribe(sub)
	s.notify(Notice{Kind: NoticeSessionEnded, Room: r})

	return err
}

// detachLocked drops the local mirror and stops presence. The caller
// unsubscribes the returned subscription after releasing the lock.
func (s *Session) detachLocked() transport.Subscription {
	if s.stopPresence != nil {
		s.stopPresence()
		s.stopPresence = nil
	}
	sub := s.sub
	s.sub = nil
	s.room = nil
	return sub
}

func (s *Session) unsubscribe(sub transport.Subscription) {
	if sub == nil {
		return
	}
	if err := s.transport.Unsubscribe(sub); err != nil {
		s.log.Warn("failed to unsubscribe",
			"room_code", sub.RoomCode(),
			"error", err,
		)
	}
}

func (s *Session) joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room != nil
}

// mutate applies fn to a copy of the mirror. A rejected change touches
// nothing and is never published.
func (s *Session) mutate(ctx context.Context, op string, fn func(r *Room, now time.Time) error) error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return ErrNotJoined
	}

	r := s.room.Clone()
	if err := fn(r, s.now()); err != nil {
		s.mu.Unlock()
		s.log.Debug("mutation rejected",
			"op", op,
			"room_code", r.Code,
			"error", err,
		)
		return err
	}
	s.room = r
	snapshot := r.Clone()
	s.mu.Unlock()

	return s.publish(ctx, transport.KindRoomUpdated, snapshot)
}

func (s *Session) PassControl(ctx context.Context, toID string) error {
	return s.mutate(ctx, "pass_control", func(r *Room, now time.Time) error {
		return r.PassControl(s.self, toID, now)
	})
}

func (s *Session) ReclaimControl(ctx context.Context) error {
	return s.mutate(ctx, "reclaim_control", func(r *Room, now time.Time) error {
		return r.ReclaimControl(s.self, now)
	})
}

// RequestControl asks the current controller for the token. Nothing obliges
// the controller to answer.
func (s *Session) RequestControl(ctx context.Context) error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return ErrNotJoined
	}
	req, err := s.room.NewControlRequest(s.self, s.now())
	code := s.room.Code
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return s.publishTo(ctx, code, transport.KindControlRequest, req)
}

func (s *Session) SetVideo(ctx context.Context, url string, content *ContentMetadata) error {
	return s.mutate(ctx, "set_video", func(r *Room, now time.Time) error {
		return r.SetVideo(s.self, url, content, now)
	})
}

func (s *Session) SetPlaying(ctx context.Context, playing bool) error {
	return s.mutate(ctx, "set_playing", func(r *Room, now time.Time) error {
		return r.SetPlaying(s.self, playing, now)
	})
}

func (s *Session) Seek(ctx context.Context, positionSeconds float64) error {
	return s.mutate(ctx, "seek", func(r *Room, now time.Time) error {
		return r.Seek(s.self, positionSeconds, now)
	})
}

// ResetVideo clears playback state. Host only.
func (s *Session) ResetVideo(ctx context.Context) error {
	return s.mutate(ctx, "reset_video", func(r *Room, now time.Time) error {
		return r.ResetVideo(s.self, now)
	})
}

func (s *Session) SendChat(ctx context.Context, text string) error {
	return s.mutate(ctx, "chat", func(r *Room, now time.Time) error {
		return r.Chat(s.self, text, now)
	})
}

func (s *Session) SendReaction(ctx context.Context, emoji string) error {
	return s.mutate(ctx, "reaction", func(r *Room, now time.Time) error {
		return r.React(s.self, emoji, now)
	})
}

// Heartbeat refreshes this client's presence and republishes the room
func (s *Session) Heartbeat(ctx context.Context) error {
	return s.mutate(ctx, "heartbeat", func(r *Room, now time.Time) error {
		return r.Touch(s.self, now)
	})
}

// Sweep evicts timed-out participants if this client is the elected
// sweeper. The sweeper is itself fresh, so a sweep never empties the room;
// a room nobody is left to sweep is ended by TerminateStaleRoom or the relay.
func (s *Session) Sweep(ctx context.Context) error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return ErrNotJoined
	}

	now := s.now()
	timeout := s.cfg.PresenceTimeout()
	if s.room.Sweeper(now, timeout) != s.self {
		s.mu.Unlock()
		return nil
	}

	r := s.room.Clone()
	res := r.Sweep(now, timeout)
	if !res.Changed() {
		s.mu.Unlock()
		return nil
	}
	s.room = r
	snapshot := r.Clone()
	s.mu.Unlock()

	s.log.Info("evicted timed-out participants",
		"room_code", snapshot.Code,
		"evicted", res.Evicted,
		"controller_id", snapshot.ControllerID,
	)

	return s.publish(ctx, transport.KindRoomUpdated, snapshot)
}

func (s *Session) startPresenceLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopPresence = cancel
	go s.runPresence(ctx)
}

func (s *Session) runPresence(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Heartbeat(ctx); err != nil && !errors.Is(err, ErrNotJoined) {
				s.log.Warn("heartbeat failed", "error", err)
			}
			if err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrNotJoined) {
				s.log.Warn("presence sweep failed", "error", err)
			}
		}
	}
}

func (s *Session) publish(ctx context.Context, kind transport.Kind, r *Room) error {
	return s.publishTo(ctx, r.Code, kind, r)
}

// publishTo sends payload as a mutation. Failures become a connectivity
// notice; the local mirror is kept either way.
func (s *Session) publishTo(ctx context.Context, code string, kind transport.Kind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	err = s.transport.Publish(pctx, transport.Mutation{
		RoomCode: code,
		Kind:     kind,
		Origin:   s.self,
		Payload:  data,
		SentAt:   s.now(),
	})
	if err != nil {
		s.log.Warn("publish failed, keeping local state",
			"room_code", code,
			"kind", kind,
			"error", err,
		)
		err = fmt.Errorf("publish %s: %w: %w", kind, ErrTransportUnavailable, err)
		s.notify(Notice{Kind: NoticeConnectivity, Err: err})
		return err
	}

	return nil
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		s.log.Debug("notice dropped, buffer full", "kind", n.Kind)
	}
}

func (s *Session) handleMutation(m transport.Mutation) {
	switch m.Kind {
	case transport.KindRoomCreated, transport.KindRoomUpdated, transport.KindRoomDeleted:
		s.handleSnapshot(m)
	case transport.KindControlRequest:
		s.handleControlRequest(m)
	case transport.KindConnectivity:
		if s.Code() != m.RoomCode {
			return
		}
		err := m.LinkError()
		s.log.Warn("lost link to room", "room_code", m.RoomCode, "error", err)
		s.notify(Notice{Kind: NoticeConnectivity, Err: fmt.Errorf("%w: %w", ErrTransportUnavailable, err)})
	default:
		s.log.Debug("ignoring unknown mutation kind", "kind", m.Kind, "room_code", m.RoomCode)
	}
}

func (s *Session) handleSnapshot(m transport.Mutation) {
	incoming := new(Room)
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, incoming); err != nil {
			s.log.Warn("dropping undecodable snapshot",
				"room_code", m.RoomCode,
				"origin", m.Origin,
				"error", err,
			)
			return
		}
	}

	s.mu.Lock()
	if s.room == nil || m.RoomCode != s.room.Code {
		s.mu.Unlock()
		return
	}

	if !s.acceptLocked(m, incoming) {
		s.mu.Unlock()
		s.log.Warn("rejected mutation from unauthorized origin",
			"room_code", m.RoomCode,
			"kind", m.Kind,
			"origin", m.Origin,
		)
		return
	}

	merged := Merge(s.room, incoming)
	if m.Kind == transport.KindRoomDeleted {
		merged.Status = StatusClosed
	}

	if merged.Closed() {
		sub := s.detachLocked()
		s.mu.Unlock()

		s.log.Info("room closed remotely", "room_code", m.RoomCode, "origin", m.Origin)

		// Unsubscribing may wait on the delivery goroutine running this handler.
		go s.unsubscribe(sub)
		s.notify(Notice{Kind: NoticeSessionEnded, Room: merged})
		return
	}

	s.room = merged
	snapshot := merged.Clone()
	s.mu.Unlock()

	if m.Origin != s.self {
		s.notify(Notice{Kind: NoticeRoomChanged, Room: snapshot})
	}
}

// acceptLocked decides whether a snapshot's origin may change the mirror.
// Deletion is reserved to the host and the system origin.
func (s *Session) acceptLocked(m transport.Mutation, incoming *Room) bool {
	if m.Origin == transport.SystemOrigin {
		return true
	}
	if m.Kind == transport.KindRoomDeleted {
		return m.Origin == s.room.HostID
	}
	return m.Origin == s.self || s.room.Admits(m.Origin, incoming)
}

func (s *Session) handleControlRequest(m transport.Mutation) {
	var req ControlRequest
	if err := json.Unmarshal(m.Payload, &req); err != nil {
		s.log.Warn("dropping undecodable control request",
			"room_code", m.RoomCode,
			"error", err,
		)
		return
	}

	s.mu.Lock()
	relevant := s.room != nil &&
		m.RoomCode == s.room.Code &&
		req.TargetControllerID == s.self &&
		req.RequesterID == m.Origin &&
		s.room.IsActive(m.Origin)
	s.mu.Unlock()

	if !relevant {
		return
	}

	s.log.Debug("control requested", "room_code", m.RoomCode, "requester_id", req.RequesterID)
	s.notify(Notice{Kind: NoticeControlRequested, Request: &req})
}
