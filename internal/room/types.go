package room

import (
	"maps"
	"slices"
	"strings"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

type EventType string

const (
	EventSystem   EventType = "system"
	EventChat     EventType = "chat"
	EventReaction EventType = "reaction"
)

// Stamp orders writes to a last-writer-wins register: by time, then by writer id
type Stamp struct {
	At time.Time `json:"at"`
	By string    `json:"by"`
}

// After reports whether s wins over o
func (s Stamp) After(o Stamp) bool {
	if !s.At.Equal(o.At) {
		return s.At.After(o.At)
	}
	return s.By > o.By
}

// nextTime returns now, or prev plus one nanosecond when the clock has not
// moved past prev. Keeps local writes ahead of the value they replace.
func nextTime(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}

type Room struct {
	Code           string                 `json:"code"`
	HostID         string                 `json:"host_id"`
	ControllerID   string                 `json:"controller_id"`
	ControlStamp   Stamp                  `json:"control_stamp"`
	Participants   map[string]Participant `json:"participants"`
	Video          VideoState             `json:"video"`
	Events         EventLog               `json:"events"`
	Status         Status                 `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	LastActivityAt time.Time              `json:"last_activity_at"`
}

type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	IsHost      bool      `json:"is_host"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Active      bool      `json:"active"`

	// UpdatedAt stamps the last membership change (join, leave, eviction,
	// reactivation). Heartbeats only move LastSeenAt.
	UpdatedAt time.Time `json:"updated_at"`
}

// ContentMetadata is opaque display information about what is playing
type ContentMetadata struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	PosterURL string `json:"poster_url,omitempty"`
}

type VideoState struct {
	URL             string           `json:"url"`
	IsPlaying       bool             `json:"is_playing"`
	PositionSeconds float64          `json:"position_seconds"`
	Content         *ContentMetadata `json:"content,omitempty"`
	LastUpdatedAt   time.Time        `json:"last_updated_at"`
	LastUpdatedBy   string           `json:"last_updated_by"`
}

func (v VideoState) stamp() Stamp {
	return Stamp{At: v.LastUpdatedAt, By: v.LastUpdatedBy}
}

func (v VideoState) clone() VideoState {
	if v.Content != nil {
		c := *v.Content
		v.Content = &c
	}
	return v
}

type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Payload    string    `json:"payload"`
	Timestamp  time.Time `json:"timestamp"`
}

// ControlRequest travels out-of-band and is never stored in the room
type ControlRequest struct {
	RequesterID        string    `json:"requester_id"`
	RequesterName      string    `json:"requester_name"`
	TargetControllerID string    `json:"target_controller_id"`
	Timestamp          time.Time `json:"timestamp"`
}

// Clone returns a deep copy of r
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	out.Participants = maps.Clone(r.Participants)
	if out.Participants == nil {
		out.Participants = make(map[string]Participant)
	}
	out.Events = slices.Clone(r.Events)
	out.Video = r.Video.clone()
	return &out
}

func (r *Room) Closed() bool {
	return r.Status == StatusClosed
}

// IsActive reports whether id is an active participant
func (r *Room) IsActive(id string) bool {
	p, ok := r.Participants[id]
	return ok && p.Active
}

// ActiveParticipants returns active participants ordered by join time, then id
func (r *Room) ActiveParticipants() []Participant {
	out := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.Active {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, byJoinOrder)
	return out
}

func byJoinOrder(a, b Participant) int {
	if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func (r *Room) displayName(id string) string {
	if p, ok := r.Participants[id]; ok && p.DisplayName != "" {
		return p.DisplayName
	}
	return id
}
