package room

// Merge folds incoming into local and returns the result. Neither argument
// is modified. Merge is commutative, associative and idempotent over the
// snapshots of one room, so mutations may arrive duplicated and in any order.
//
//   - code, host and creation time never change once set
//   - closed status is sticky
//   - control token and video state are independent last-writer-wins registers
//   - participants merge per id on UpdatedAt; LastSeenAt is the max of both
//   - event logs are unioned by id
func Merge(local, incoming *Room) *Room {
	if local == nil {
		out := incoming.Clone()
		if out != nil {
			out.normalize()
		}
		return out
	}

	out := local.Clone()
	if incoming == nil {
		return out
	}
	if out.Code != "" && incoming.Code != "" && out.Code != incoming.Code {
		return out
	}

	if out.Code == "" {
		out.Code = incoming.Code
	}
	if out.HostID == "" {
		out.HostID = incoming.HostID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = incoming.CreatedAt
	}

	if incoming.Status == StatusClosed || out.Status == "" {
		out.Status = incoming.Status
	}

	if incoming.ControlStamp.After(out.ControlStamp) {
		out.ControllerID = incoming.ControllerID
		out.ControlStamp = incoming.ControlStamp
	}

	if incoming.Video.stamp().After(out.Video.stamp()) {
		out.Video = incoming.Video.clone()
	}

	for id, in := range incoming.Participants {
		cur, ok := out.Participants[id]
		if !ok {
			out.Participants[id] = in
			continue
		}
		out.Participants[id] = mergeParticipant(cur, in)
	}

	out.Events = out.Events.Merge(incoming.Events)

	if incoming.LastActivityAt.After(out.LastActivityAt) {
		out.LastActivityAt = incoming.LastActivityAt
	}

	out.normalize()

	return out
}

// Admits reports whether a snapshot published by origin may be merged into r.
// Active participants may always publish; an inactive or unknown origin only
// with a snapshot carrying its own newer join or rejoin.
func (r *Room) Admits(origin string, incoming *Room) bool {
	if r.IsActive(origin) {
		return true
	}
	if incoming == nil {
		return false
	}

	remote, ok := incoming.Participants[origin]
	if !ok || !remote.Active {
		return false
	}
	local, known := r.Participants[origin]
	return !known || remote.UpdatedAt.After(local.UpdatedAt)
}

func mergeParticipant(a, b Participant) Participant {
	winner := a
	switch {
	case b.UpdatedAt.After(a.UpdatedAt):
		winner = b
	case b.UpdatedAt.Equal(a.UpdatedAt):
		switch {
		case b.LastSeenAt.After(a.LastSeenAt):
			winner = b
		case b.LastSeenAt.Before(a.LastSeenAt):
		case a.Active != b.Active:
			// inactive wins a full tie
			if !b.Active {
				winner = b
			}
		case b.DisplayName > a.DisplayName:
			winner = b
		}
	}

	if a.LastSeenAt.After(winner.LastSeenAt) {
		winner.LastSeenAt = a.LastSeenAt
	}
	if b.LastSeenAt.After(winner.LastSeenAt) {
		winner.LastSeenAt = b.LastSeenAt
	}
	return winner
}

// normalize restores the single-controller invariant after a merge. The
// repair stamp is derived from merged state only, so replicas holding the
// same state repair it identically.
func (r *Room) normalize() {
	if r.Closed() || r.IsActive(r.ControllerID) {
		return
	}

	next := r.fallbackController()
	if next == "" {
		return
	}

	at := r.ControlStamp.At
	if departed, ok := r.Participants[r.ControllerID]; ok {
		at = nextTime(at, departed.UpdatedAt)
	} else {
		at = nextTime(at, at)
	}

	r.ControllerID = next
	r.ControlStamp = Stamp{At: at, By: next}
}
