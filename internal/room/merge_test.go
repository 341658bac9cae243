package room

import (
	"reflect"
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

// twoPeople returns a room with host A and guest B, both active, A in control
func twoPeople() *Room {
	r := New("MERGE1", "A", "Alice", t0)
	if err := r.Join("B", "Bob", at(time.Second)); err != nil {
		panic(err)
	}
	return r
}

func TestMergeIsIdempotent(t *testing.T) {
	base := twoPeople()

	incoming := base.Clone()
	if err := incoming.PassControl("A", "B", at(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := incoming.Chat("B", "hello", at(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	once := Merge(base, incoming)
	twice := Merge(once, incoming)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merging twice differs from merging once\nonce:  %+v\ntwice: %+v", once, twice)
	}
	if once.ControllerID != "B" {
		t.Errorf("controller = %q, want B", once.ControllerID)
	}
}

func TestMergeIsOrderInsensitive(t *testing.T) {
	base := twoPeople()

	fromA := base.Clone()
	if err := fromA.SetVideo("A", "movie-a", nil, at(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := fromA.Chat("A", "popcorn ready", at(time.Minute)); err != nil {
		t.Fatal(err)
	}

	fromB := base.Clone()
	if err := fromB.Chat("B", "brb", at(30*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := fromB.Touch("B", at(90*time.Second)); err != nil {
		t.Fatal(err)
	}

	ab := Merge(Merge(base, fromA), fromB)
	ba := Merge(Merge(base, fromB), fromA)

	if !reflect.DeepEqual(ab, ba) {
		t.Fatalf("merge order changed the result\nab: %+v\nba: %+v", ab, ba)
	}
	if ab.Video.URL != "movie-a" {
		t.Errorf("video = %q", ab.Video.URL)
	}
	if got := ab.Participants["B"].LastSeenAt; !got.Equal(at(90 * time.Second)) {
		t.Errorf("B last seen = %v", got)
	}
}

func TestMergeControlAndVideoAreIndependent(t *testing.T) {
	base := twoPeople()

	handoff := base.Clone()
	if err := handoff.PassControl("A", "B", at(time.Minute)); err != nil {
		t.Fatal(err)
	}

	// A video change made by A before it saw its own handoff replicate
	video := base.Clone()
	if err := video.SetVideo("A", "late-video", nil, at(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	merged := Merge(handoff, video)
	if merged.ControllerID != "B" {
		t.Errorf("delayed video update reverted control to %q", merged.ControllerID)
	}
	if merged.Video.URL != "late-video" {
		t.Errorf("video = %q, want late-video", merged.Video.URL)
	}
}

func TestMergeControlTieBreaksOnWriter(t *testing.T) {
	base := twoPeople()
	if err := base.Join("C", "Carol", at(time.Second)); err != nil {
		t.Fatal(err)
	}

	x := base.Clone()
	x.setController("B", "A", at(time.Minute))
	y := base.Clone()
	y.setController("C", "B", at(time.Minute))

	if got := Merge(x, y).ControllerID; got != "C" {
		t.Errorf("Merge(x, y) controller = %q, want C", got)
	}
	if got := Merge(y, x).ControllerID; got != "C" {
		t.Errorf("Merge(y, x) controller = %q, want C", got)
	}
}

func TestMergeClosedIsSticky(t *testing.T) {
	base := twoPeople()

	closed := base.Clone()
	closed.Close("A", at(time.Minute))

	later := base.Clone()
	if err := later.Chat("B", "hello?", at(time.Hour)); err != nil {
		t.Fatal(err)
	}

	if !Merge(closed, later).Closed() {
		t.Error("newer active snapshot reopened a closed room")
	}
	if !Merge(later, closed).Closed() {
		t.Error("closed snapshot did not close the room")
	}
}

func TestMergeNormalizesDepartedController(t *testing.T) {
	base := twoPeople()
	if err := base.PassControl("A", "B", at(time.Minute)); err != nil {
		t.Fatal(err)
	}

	// One replica sees B leave, another concurrently hands B nothing new
	left := base.Clone()
	p := left.Participants["B"]
	p.Active = false
	p.UpdatedAt = at(2 * time.Minute)
	left.Participants["B"] = p

	merged := Merge(base, left)
	if merged.ControllerID != "A" {
		t.Fatalf("controller = %q, want A after B departed", merged.ControllerID)
	}
	if !merged.ControlStamp.After(base.ControlStamp) {
		t.Fatal("repair stamp does not supersede the departed controller's stamp")
	}

	again := Merge(left, base)
	if !reflect.DeepEqual(merged.ControlStamp, again.ControlStamp) || again.ControllerID != "A" {
		t.Fatalf("replicas repaired control differently: %+v vs %+v", merged.ControlStamp, again.ControlStamp)
	}
}

func TestMergeIgnoresOtherRooms(t *testing.T) {
	a := New("AAAAAA", "A", "Alice", t0)
	b := New("BBBBBB", "B", "Bob", t0)

	merged := Merge(a, b)
	if !reflect.DeepEqual(merged, a) {
		t.Fatal("snapshot of another room was merged")
	}
}

func TestMergeParticipantLastWriterWins(t *testing.T) {
	tests := []struct {
		name       string
		a, b       Participant
		wantActive bool
		wantSeen   time.Time
	}{
		{
			name:       "newer membership change wins",
			a:          Participant{ID: "B", Active: true, UpdatedAt: at(time.Minute), LastSeenAt: at(5 * time.Minute)},
			b:          Participant{ID: "B", Active: false, UpdatedAt: at(2 * time.Minute), LastSeenAt: at(time.Minute)},
			wantActive: false,
			wantSeen:   at(5 * time.Minute),
		},
		{
			name:       "tie goes to later heartbeat",
			a:          Participant{ID: "B", Active: false, UpdatedAt: at(time.Minute), LastSeenAt: at(time.Minute)},
			b:          Participant{ID: "B", Active: true, UpdatedAt: at(time.Minute), LastSeenAt: at(3 * time.Minute)},
			wantActive: true,
			wantSeen:   at(3 * time.Minute),
		},
		{
			name:       "full tie goes to inactive",
			a:          Participant{ID: "B", Active: true, UpdatedAt: at(time.Minute), LastSeenAt: at(time.Minute)},
			b:          Participant{ID: "B", Active: false, UpdatedAt: at(time.Minute), LastSeenAt: at(time.Minute)},
			wantActive: false,
			wantSeen:   at(time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, got := range []Participant{mergeParticipant(tt.a, tt.b), mergeParticipant(tt.b, tt.a)} {
				if got.Active != tt.wantActive {
					t.Errorf("active = %v, want %v", got.Active, tt.wantActive)
				}
				if !got.LastSeenAt.Equal(tt.wantSeen) {
					t.Errorf("last seen = %v, want %v", got.LastSeenAt, tt.wantSeen)
				}
			}
		})
	}
}

func TestAdmits(t *testing.T) {
	r := twoPeople()
	r.deactivate("B", at(time.Minute))

	stale := r.Clone()
	rejoin := r.Clone()
	if err := rejoin.Join("B", "Bob", at(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	stranger := r.Clone()
	if err := stranger.Join("Z", "Zed", at(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		origin   string
		incoming *Room
		want     bool
	}{
		{name: "active participant", origin: "A", incoming: stale, want: true},
		{name: "departed participant replaying old state", origin: "B", incoming: stale, want: false},
		{name: "departed participant rejoining", origin: "B", incoming: rejoin, want: true},
		{name: "newcomer joining", origin: "Z", incoming: stranger, want: true},
		{name: "newcomer without own entry", origin: "Z", incoming: stale, want: false},
		{name: "no snapshot", origin: "Z", incoming: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Admits(tt.origin, tt.incoming); got != tt.want {
				t.Fatalf("Admits(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
