package room

import (
	"fmt"
	"slices"
	"time"
)

// SweepResult describes what a presence sweep changed
type SweepResult struct {
	Evicted []string

	// Exhausted is set when no active participant remains
	Exhausted bool
}

func (s SweepResult) Changed() bool {
	return len(s.Evicted) > 0 || s.Exhausted
}

// Touch refreshes id's heartbeat. An evicted participant that is still
// alive is reactivated.
func (r *Room) Touch(id string, now time.Time) error {
	if r.Closed() {
		return ErrRoomClosed
	}
	p, ok := r.Participants[id]
	if !ok {
		return ErrParticipantNotFound
	}

	if now.After(p.LastSeenAt) {
		p.LastSeenAt = now
	}

	if !p.Active {
		p.Active = true
		p.UpdatedAt = nextTime(p.UpdatedAt, now)
		r.Participants[id] = p
		r.appendSystem(id, fmt.Sprintf("%s reconnected", p.DisplayName), now)
		r.normalize()
		return nil
	}

	r.Participants[id] = p
	return nil
}

// Sweep marks participants whose heartbeat is older than timeout inactive
// and moves control off them.
func (r *Room) Sweep(now time.Time, timeout time.Duration) SweepResult {
	var res SweepResult
	if r.Closed() {
		return res
	}

	cutoff := now.Add(-timeout)
	controllerEvicted := ""

	ids := make([]string, 0, len(r.Participants))
	for id := range r.Participants {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		p := r.Participants[id]
		if !p.Active || !p.LastSeenAt.Before(cutoff) {
			continue
		}
		r.deactivate(id, now)
		r.appendSystem(id, fmt.Sprintf("%s timed out", p.DisplayName), now)
		res.Evicted = append(res.Evicted, id)
		if id == r.ControllerID {
			controllerEvicted = id
		}
	}

	if controllerEvicted != "" {
		r.reassignControl(controllerEvicted, now)
	}

	res.Exhausted = len(r.ActiveParticipants()) == 0

	return res
}

// Sweeper returns the participant responsible for sweeping: the host while
// its heartbeat is fresh, else the earliest-joined fresh participant.
func (r *Room) Sweeper(now time.Time, timeout time.Duration) string {
	cutoff := now.Add(-timeout)
	fresh := func(p Participant) bool {
		return p.Active && !p.LastSeenAt.Before(cutoff)
	}

	if host, ok := r.Participants[r.HostID]; ok && fresh(host) {
		return host.ID
	}
	for _, p := range r.ActiveParticipants() {
		if fresh(p) {
			return p.ID
		}
	}
	return ""
}
