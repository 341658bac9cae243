package room

import (
	"fmt"
	"time"
)

// PassControl hands the control token from fromID to toID. fromID must be
// the current controller or the host.
func (r *Room) PassControl(fromID, toID string, now time.Time) error {
	if r.Closed() {
		return ErrRoomClosed
	}
	if !r.IsActive(fromID) || (fromID != r.ControllerID && fromID != r.HostID) {
		return ErrNotAuthorized
	}
	if !r.IsActive(toID) {
		return ErrParticipantNotFound
	}

	r.setController(toID, fromID, now)
	r.appendSystem(fromID, fmt.Sprintf("%s passed control to %s", r.displayName(fromID), r.displayName(toID)), now)

	return nil
}

// ReclaimControl gives the token back to the host unconditionally
func (r *Room) ReclaimControl(hostID string, now time.Time) error {
	if r.Closed() {
		return ErrRoomClosed
	}
	if hostID != r.HostID || !r.IsActive(hostID) {
		return ErrNotAuthorized
	}

	r.setController(hostID, hostID, now)
	r.appendSystem(hostID, fmt.Sprintf("%s reclaimed control", r.displayName(hostID)), now)

	return nil
}

// NewControlRequest builds a request addressed to the current controller.
// The room itself is not modified.
func (r *Room) NewControlRequest(requesterID string, now time.Time) (ControlRequest, error) {
	if r.Closed() {
		return ControlRequest{}, ErrRoomClosed
	}
	if !r.IsActive(requesterID) {
		return ControlRequest{}, ErrNotJoined
	}
	if r.ControllerID == requesterID {
		return ControlRequest{}, ErrAlreadyController
	}

	return ControlRequest{
		RequesterID:        requesterID,
		RequesterName:      r.displayName(requesterID),
		TargetControllerID: r.ControllerID,
		Timestamp:          now,
	}, nil
}

func (r *Room) setController(id, by string, now time.Time) {
	r.ControllerID = id
	r.ControlStamp = Stamp{At: nextTime(r.ControlStamp.At, now), By: by}
}

// fallbackController picks the host if active, else the earliest-joined
// active participant. Empty when nobody is active.
func (r *Room) fallbackController() string {
	if r.IsActive(r.HostID) {
		return r.HostID
	}
	if active := r.ActiveParticipants(); len(active) > 0 {
		return active[0].ID
	}
	return ""
}

// reassignControl moves the token off a departed controller
func (r *Room) reassignControl(departedID string, now time.Time) {
	next := r.fallbackController()
	if next == "" {
		return
	}
	r.setController(next, departedID, now)
	r.appendSystem(next, fmt.Sprintf("control passed to %s", r.displayName(next)), now)
}
