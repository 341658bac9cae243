package room

import (
	"fmt"
	"math"
	"time"
)

// SetVideo switches the room to url, starting from the beginning
func (r *Room) SetVideo(by, url string, content *ContentMetadata, now time.Time) error {
	if err := r.requireController(by); err != nil {
		return err
	}

	var meta *ContentMetadata
	if content != nil {
		c := *content
		meta = &c
	}

	r.Video = VideoState{
		URL:             url,
		IsPlaying:       true,
		PositionSeconds: 0,
		Content:         meta,
		LastUpdatedAt:   nextTime(r.Video.LastUpdatedAt, now),
		LastUpdatedBy:   by,
	}

	title := url
	if meta != nil && meta.Title != "" {
		title = meta.Title
	}
	r.appendSystem(by, fmt.Sprintf("%s started %s", r.displayName(by), title), now)

	return nil
}

// SetPlaying pauses or resumes playback
func (r *Room) SetPlaying(by string, playing bool, now time.Time) error {
	if err := r.requireController(by); err != nil {
		return err
	}

	r.Video.IsPlaying = playing
	r.stampVideo(by, now)

	verb := "paused"
	if playing {
		verb = "resumed"
	}
	r.appendSystem(by, fmt.Sprintf("%s %s playback", r.displayName(by), verb), now)

	return nil
}

// Seek moves the playback position
func (r *Room) Seek(by string, positionSeconds float64, now time.Time) error {
	if err := r.requireController(by); err != nil {
		return err
	}
	if positionSeconds < 0 || math.IsNaN(positionSeconds) || math.IsInf(positionSeconds, 0) {
		return ErrInvalidPosition
	}

	r.Video.PositionSeconds = positionSeconds
	r.stampVideo(by, now)
	r.appendSystem(by, fmt.Sprintf("%s jumped to %s", r.displayName(by), FormatPosition(positionSeconds)), now)

	return nil
}

// ResetVideo clears the video state. Host only, regardless of who controls.
func (r *Room) ResetVideo(hostID string, now time.Time) error {
	if r.Closed() {
		return ErrRoomClosed
	}
	if hostID != r.HostID || !r.IsActive(hostID) {
		return ErrNotAuthorized
	}

	r.Video = VideoState{
		LastUpdatedAt: nextTime(r.Video.LastUpdatedAt, now),
		LastUpdatedBy: hostID,
	}
	r.appendSystem(hostID, fmt.Sprintf("%s reset the video", r.displayName(hostID)), now)

	return nil
}

func (r *Room) requireController(by string) error {
	if r.Closed() {
		return ErrRoomClosed
	}
	if by != r.ControllerID || !r.IsActive(by) {
		return ErrNotController
	}
	return nil
}

func (r *Room) stampVideo(by string, now time.Time) {
	r.Video.LastUpdatedAt = nextTime(r.Video.LastUpdatedAt, now)
	r.Video.LastUpdatedBy = by
}

// FormatPosition renders a playback position as M:SS or H:MM:SS
func FormatPosition(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
