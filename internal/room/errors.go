package room

import "errors"

var (
	// ErrRoomNotFound is returned when no live room answers for a code
	ErrRoomNotFound = errors.New("room not found")

	// ErrNotAuthorized is returned for administrative actions by a non-privileged participant
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotController is returned for video changes attempted without the control token
	ErrNotController = errors.New("not the controller")

	// ErrTransportUnavailable wraps publish/subscribe/discover failures
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrRoomCreationConflict marks a room code collision. Never surfaced by CreateRoom.
	ErrRoomCreationConflict = errors.New("room code already in use")

	ErrCodeSpaceExhausted  = errors.New("could not find a free room code")
	ErrNotJoined           = errors.New("not in a room")
	ErrAlreadyJoined       = errors.New("already in a room")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrAlreadyController   = errors.New("already the controller")
	ErrInvalidPosition     = errors.New("invalid playback position")
	ErrRoomClosed          = errors.New("room is closed")
	ErrEmptyMessage        = errors.New("message is empty")
)
