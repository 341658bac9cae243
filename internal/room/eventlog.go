package room

import (
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventLog is an append-only list of events ordered by (timestamp, id)
type EventLog []Event

func compareEvents(a, b Event) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// NewEventID returns a ULID whose time component is at
func NewEventID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

// Append inserts e in order, assigning an id and timestamp when absent.
// Returns the stored event and false if an event with the same id already exists.
func (l *EventLog) Append(e Event, now time.Time) (Event, bool) {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.ID == "" {
		e.ID = NewEventID(e.Timestamp)
	}

	if l.Contains(e.ID) {
		return e, false
	}

	i, _ := slices.BinarySearchFunc(*l, e, compareEvents)
	*l = slices.Insert(*l, i, e)

	return e, true
}

func (l EventLog) Contains(id string) bool {
	return slices.ContainsFunc(l, func(e Event) bool { return e.ID == id })
}

// Merge returns the union of l and incoming sorted by (timestamp, id).
// On duplicate ids the copy already in l is kept.
func (l EventLog) Merge(incoming EventLog) EventLog {
	out := make(EventLog, 0, len(l)+len(incoming))
	seen := make(map[string]struct{}, len(l)+len(incoming))

	for _, src := range []EventLog{l, incoming} {
		for _, e := range src {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}

	slices.SortStableFunc(out, compareEvents)
	return out
}

// Tail returns at most the last n events
func (l EventLog) Tail(n int) EventLog {
	if n <= 0 || n >= len(l) {
		return l
	}
	return l[len(l)-n:]
}
