package room

import (
	"fmt"
	"strings"
	"time"
)

// New builds a room with hostID as both host and controller
func New(code, hostID, hostName string, now time.Time) *Room {
	r := &Room{
		Code:         code,
		HostID:       hostID,
		ControllerID: hostID,
		ControlStamp: Stamp{At: now, By: hostID},
		Participants: map[string]Participant{
			hostID: {
				ID:          hostID,
				DisplayName: hostName,
				IsHost:      true,
				JoinedAt:    now,
				LastSeenAt:  now,
				Active:      true,
				UpdatedAt:   now,
			},
		},
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	r.appendSystem(hostID, fmt.Sprintf("%s created room %s", hostName, code), now)

	return r
}

// Join adds id to the room or reactivates its existing entry
func (r *Room) Join(id, name string, now time.Time) error {
	if r.Closed() {
		return ErrRoomClosed
	}

	p, known := r.Participants[id]
	if !known {
		p = Participant{
			ID:       id,
			IsHost:   id == r.HostID,
			JoinedAt: now,
		}
	}
	if name != "" {
		p.DisplayName = name
	}
	p.Active = true
	p.LastSeenAt = now
	p.UpdatedAt = nextTime(p.UpdatedAt, now)
	r.Participants[id] = p

	verb := "joined"
	if known {
		verb = "rejoined"
	}
	r.appendSystem(id, fmt.Sprintf("%s %s", p.DisplayName, verb), now)
	r.normalize()

	return nil
}

// Leave marks id inactive. The room closes when the host leaves while
// holding control, or when nobody active remains.
func (r *Room) Leave(id string, now time.Time) error {
	if r.Closed() {
		return ErrRoomClosed
	}
	if !r.IsActive(id) {
		return ErrNotJoined
	}

	wasController := r.ControllerID == id
	r.deactivate(id, now)
	r.appendSystem(id, fmt.Sprintf("%s left", r.displayName(id)), now)

	switch {
	case id == r.HostID && wasController:
		r.Close(id, now)
	case len(r.ActiveParticipants()) == 0:
		r.Close(id, now)
	case wasController:
		r.reassignControl(id, now)
	}

	return nil
}

// Close moves the room to its terminal state
func (r *Room) Close(by string, now time.Time) {
	if r.Closed() {
		return
	}
	r.Status = StatusClosed
	r.appendSystem(by, "room closed", now)
}

// Chat appends a chat message from id
func (r *Room) Chat(id, text string, now time.Time) error {
	return r.appendFrom(id, EventChat, text, now)
}

// React appends a reaction from id
func (r *Room) React(id, emoji string, now time.Time) error {
	return r.appendFrom(id, EventReaction, emoji, now)
}

func (r *Room) appendFrom(id string, typ EventType, payload string, now time.Time) error {
	if r.Closed() {
		return ErrRoomClosed
	}
	if !r.IsActive(id) {
		return ErrNotJoined
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return ErrEmptyMessage
	}

	r.Events.Append(Event{
		Type:       typ,
		AuthorID:   id,
		AuthorName: r.displayName(id),
		Payload:    payload,
	}, now)
	r.LastActivityAt = now

	return nil
}

func (r *Room) appendSystem(actorID, text string, now time.Time) Event {
	e, _ := r.Events.Append(Event{
		Type:       EventSystem,
		AuthorID:   actorID,
		AuthorName: r.displayName(actorID),
		Payload:    text,
	}, now)
	r.LastActivityAt = now
	return e
}

func (r *Room) deactivate(id string, now time.Time) {
	p := r.Participants[id]
	p.Active = false
	p.UpdatedAt = nextTime(p.UpdatedAt, now)
	r.Participants[id] = p
}
