package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MisTAiM/movienights/internal/content"
	"github.com/MisTAiM/movienights/internal/room"
	"github.com/MisTAiM/movienights/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testSessionConfig() room.Config {
	cfg := room.DefaultConfig()
	cfg.HeartbeatPeriod = time.Hour
	cfg.DiscoveryTimeout = 200 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// hostAndGuest returns Alice hosting a room on a memory bus and Bob joined to it
func hostAndGuest(t *testing.T) (host, guest *room.Session) {
	t.Helper()

	bus := transport.NewMemoryBus(testLogger())
	t.Cleanup(func() { bus.Close() })

	ctx := context.Background()
	host = room.NewSession(bus, "A", testSessionConfig(), testLogger())
	code, err := host.CreateRoom(ctx, "Alice")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	guest = room.NewSession(bus, "B", testSessionConfig(), testLogger())
	if _, err := guest.JoinRoom(ctx, code, "Bob"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	waitFor(t, "host to see guest", func() bool {
		return host.Snapshot().IsActive("B")
	})
	return host, guest
}

func TestREPLGuestSession(t *testing.T) {
	host, guest := hostAndGuest(t)

	in := strings.NewReader("chat hello there\nseek 1:30\nwho\nbogus\nleave\n")
	var out bytes.Buffer

	if err := NewREPL(guest, nil, in, &out).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Bob: hello there",
		"only the controller can do that",
		"Alice (host, controller)",
		"Bob (you)",
		`unknown command "bogus"`,
		"left the room",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	waitFor(t, "host to see the chat and the departure", func() bool {
		snap := host.Snapshot()
		if snap.IsActive("B") {
			return false
		}
		for _, e := range snap.Events {
			if e.Type == room.EventChat && e.Payload == "hello there" {
				return true
			}
		}
		return false
	})
	if host.Snapshot().Closed() {
		t.Fatal("guest leaving closed the room")
	}
}

func TestREPLControllerCommands(t *testing.T) {
	host, guest := hostAndGuest(t)

	titles := content.NewStaticSource(content.Title{
		ID: "nosferatu", Title: "Nosferatu", PlayableURL: "https://cdn.example/nosferatu.mp4",
	})
	in := strings.NewReader(strings.Join([]string{
		"play nosferatu",
		"seek 90",
		"pause",
		"status",
		"pass bob",
		"resume",
		"exit",
	}, "\n"))
	var out bytes.Buffer

	if err := NewREPL(host, titles, in, &out).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Alice started Nosferatu",
		"paused Nosferatu at 1:30",
		"https://cdn.example/nosferatu.mp4",
		"only the controller can do that",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	waitFor(t, "guest to receive control", func() bool {
		return guest.Snapshot().ControllerID == "B"
	})
	if v := guest.Snapshot().Video; v.URL != "https://cdn.example/nosferatu.mp4" || v.IsPlaying {
		t.Fatalf("guest video = %+v", v)
	}
}

func TestREPLStopsWhenRoomEnds(t *testing.T) {
	host, guest := hostAndGuest(t)

	// input that never ends
	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- NewREPL(guest, nil, pr, &out).Run(context.Background())
	}()

	// host holds control, so leaving ends the room
	if err := host.Leave(context.Background()); err != nil {
		t.Fatalf("host Leave: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("REPL still running after the room ended")
	}
	if !strings.Contains(out.String(), "the room has ended") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestREPLLeavesOnCancel(t *testing.T) {
	host, guest := hostAndGuest(t)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewREPL(guest, nil, pr, &bytes.Buffer{}).Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("REPL ignored cancellation")
	}
	waitFor(t, "host to see the guest leave", func() bool {
		return !host.Snapshot().IsActive("B")
	})
}
