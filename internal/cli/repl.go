package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/MisTAiM/movienights/internal/content"
	"github.com/MisTAiM/movienights/internal/room"
)

const (
	leaveTimeout = 5 * time.Second
	defaultTail  = 20
)

const helpText = `commands:
  who                      list who is watching
  status                   show what is playing
  log [n]                  show the last n events
  titles                   list the catalog
  play <title-id>          play a catalog title          (controller)
  video <url> [title]      play any url                  (controller)
  pause | resume           pause or resume playback      (controller)
  seek <position>          jump to 95, 1:35 or 1:02:05   (controller)
  pass <name>              hand control to someone       (controller or host)
  reclaim                  take control back             (host)
  request                  ask the controller for control
  reset                    clear the video               (host)
  chat <text> | say <text> send a message
  react <emoji>            send a reaction
  leave | quit | exit      leave the room
`

// REPL drives one session from line-based input and renders the room to out
type REPL struct {
	session *room.Session
	titles  content.Source
	in      io.Reader
	out     io.Writer

	mu   sync.Mutex // guards out and seen
	seen map[string]bool
}

// NewREPL creates a REPL. titles may be nil when no catalog is available.
func NewREPL(session *room.Session, titles content.Source, in io.Reader, out io.Writer) *REPL {
	return &REPL{
		session: session,
		titles:  titles,
		in:      in,
		out:     out,
		seen:    make(map[string]bool),
	}
}

// Run reads commands until the user leaves, input ends, ctx is canceled or
// the room ends. Except when the room ended, it leaves the room on the way out.
func (r *REPL) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	ended := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.watch(watchCtx, ended)
	}()
	defer func() {
		stopWatch()
		wg.Wait()
	}()

	r.printf("type help for commands\n")
	r.showLog(defaultTail)

	for {
		select {
		case <-ctx.Done():
			return r.leave()

		case <-ended:
			return nil

		case line, ok := <-lines:
			if !ok {
				return r.leave()
			}
			done, err := r.exec(ctx, line)
			if done {
				return err
			}
			if err != nil {
				r.printf("! %s\n", describe(err))
			}
			r.flushEvents()
		}
	}
}

// watch renders notices until ctx is done; it closes ended when the room ends
func (r *REPL) watch(ctx context.Context, ended chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-r.session.Notices():
			switch n.Kind {
			case room.NoticeRoomChanged:
				r.flushEvents()
			case room.NoticeControlRequested:
				r.printf("* %s asks for control, type: pass %s\n", n.Request.RequesterName, quoteArg(n.Request.RequesterName))
			case room.NoticeConnectivity:
				r.printf("! connection problem: %v\n", n.Err)
			case room.NoticeSessionEnded:
				r.flushEvents()
				r.printf("* the room has ended\n")
				close(ended)
				return
			}
		}
	}
}

func (r *REPL) exec(ctx context.Context, line string) (bool, error) {
	args, err := shellwords.Parse(line)
	if err != nil {
		return false, fmt.Errorf("cannot parse input: %w", err)
	}
	if len(args) == 0 {
		return false, nil
	}

	cmd, rest := strings.ToLower(args[0]), args[1:]
	s := r.session

	switch cmd {
	case "help", "?":
		r.printf("%s", helpText)
	case "who":
		r.who()
	case "status":
		r.status()
	case "log":
		n := defaultTail
		if len(rest) > 0 {
			if v, err := strconv.Atoi(rest[0]); err == nil && v > 0 {
				n = v
			}
		}
		r.showLog(n)
	case "titles":
		return false, r.listTitles(ctx)
	case "play":
		if len(rest) != 1 {
			return false, errors.New("usage: play <title-id>")
		}
		return false, r.play(ctx, rest[0])
	case "video":
		if len(rest) == 0 {
			return false, errors.New("usage: video <url> [title]")
		}
		var meta *room.ContentMetadata
		if len(rest) > 1 {
			meta = &room.ContentMetadata{Title: strings.Join(rest[1:], " ")}
		}
		return false, s.SetVideo(ctx, rest[0], meta)
	case "pause":
		return false, s.SetPlaying(ctx, false)
	case "resume":
		return false, s.SetPlaying(ctx, true)
	case "seek":
		if len(rest) != 1 {
			return false, errors.New("usage: seek <position>")
		}
		pos, err := ParsePosition(rest[0])
		if err != nil {
			return false, err
		}
		return false, s.Seek(ctx, pos)
	case "pass":
		if len(rest) == 0 {
			return false, errors.New("usage: pass <name>")
		}
		return false, s.PassControl(ctx, r.resolve(strings.Join(rest, " ")))
	case "reclaim":
		return false, s.ReclaimControl(ctx)
	case "request":
		if err := s.RequestControl(ctx); err != nil {
			return false, err
		}
		r.printf("* asked for control\n")
	case "reset":
		return false, s.ResetVideo(ctx)
	case "chat", "say":
		return false, s.SendChat(ctx, strings.Join(rest, " "))
	case "react":
		if len(rest) != 1 {
			return false, errors.New("usage: react <emoji>")
		}
		return false, s.SendReaction(ctx, rest[0])
	case "leave", "quit", "exit":
		return true, r.leave()
	default:
		return false, fmt.Errorf("unknown command %q, type help", cmd)
	}

	return false, nil
}

func (r *REPL) leave() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	err := r.session.Leave(ctx)
	if errors.Is(err, room.ErrNotJoined) {
		return nil
	}
	if err != nil && !errors.Is(err, room.ErrTransportUnavailable) {
		return err
	}
	r.printf("* left the room\n")
	return nil
}

func (r *REPL) play(ctx context.Context, id string) error {
	if r.titles == nil {
		return errors.New("no title catalog with this transport, use: video <url> [title]")
	}
	t, err := r.titles.Get(ctx, id)
	if err != nil {
		return err
	}
	return r.session.SetVideo(ctx, t.PlayableURL, &room.ContentMetadata{
		ID:        t.ID,
		Title:     t.Title,
		PosterURL: t.PosterURL,
	})
}

func (r *REPL) listTitles(ctx context.Context) error {
	if r.titles == nil {
		return errors.New("no title catalog with this transport")
	}
	titles, err := r.titles.List(ctx)
	if err != nil {
		return err
	}
	if len(titles) == 0 {
		r.printf("the catalog is empty\n")
		return nil
	}
	for _, t := range titles {
		r.printf("  %-20s %s\n", t.ID, t.Title)
	}
	return nil
}

// resolve maps a display name to a participant id; ids pass through
func (r *REPL) resolve(nameOrID string) string {
	snap := r.session.Snapshot()
	if snap == nil {
		return nameOrID
	}
	if _, ok := snap.Participants[nameOrID]; ok {
		return nameOrID
	}

	match := ""
	for _, p := range snap.ActiveParticipants() {
		if strings.EqualFold(p.DisplayName, nameOrID) {
			if match != "" {
				// ambiguous, let the session reject it
				return nameOrID
			}
			match = p.ID
		}
	}
	if match == "" {
		return nameOrID
	}
	return match
}

func (r *REPL) who() {
	snap := r.session.Snapshot()
	if snap == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "room %s\n", snap.Code)
	for _, p := range snap.ActiveParticipants() {
		var tags []string
		if p.IsHost {
			tags = append(tags, "host")
		}
		if p.ID == snap.ControllerID {
			tags = append(tags, "controller")
		}
		if p.ID == r.session.Self() {
			tags = append(tags, "you")
		}
		line := "  " + p.DisplayName
		if len(tags) > 0 {
			line += " (" + strings.Join(tags, ", ") + ")"
		}
		fmt.Fprintln(r.out, line)
	}
}

func (r *REPL) status() {
	snap := r.session.Snapshot()
	if snap == nil {
		return
	}

	v := snap.Video
	if v.URL == "" {
		r.printf("nothing is playing\n")
		return
	}

	name := v.URL
	if v.Content != nil && v.Content.Title != "" {
		name = v.Content.Title
	}
	state := "paused"
	if v.IsPlaying {
		state = "playing"
	}
	r.printf("%s %s at %s\n  %s\n", state, name, room.FormatPosition(v.PositionSeconds), v.URL)
}

func (r *REPL) showLog(n int) {
	snap := r.session.Snapshot()
	if snap == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range snap.Events.Tail(n) {
		fmt.Fprintln(r.out, formatEvent(e))
	}
	for _, e := range snap.Events {
		r.seen[e.ID] = true
	}
}

// flushEvents prints events not shown yet
func (r *REPL) flushEvents() {
	snap := r.session.Snapshot()
	if snap == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range snap.Events {
		if r.seen[e.ID] {
			continue
		}
		r.seen[e.ID] = true
		fmt.Fprintln(r.out, formatEvent(e))
	}
}

func (r *REPL) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func formatEvent(e room.Event) string {
	ts := e.Timestamp.Local().Format(time.TimeOnly)
	switch e.Type {
	case room.EventChat:
		return fmt.Sprintf("[%s] %s: %s", ts, e.AuthorName, e.Payload)
	case room.EventReaction:
		return fmt.Sprintf("[%s] %s reacted %s", ts, e.AuthorName, e.Payload)
	default:
		return fmt.Sprintf("[%s] * %s", ts, e.Payload)
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, room.ErrNotController):
		return "only the controller can do that"
	case errors.Is(err, room.ErrNotAuthorized):
		return "you are not allowed to do that"
	case errors.Is(err, room.ErrParticipantNotFound):
		return "nobody by that name is watching"
	case errors.Is(err, room.ErrAlreadyController):
		return "you already have control"
	case errors.Is(err, room.ErrTransportUnavailable):
		return "connection problem, the change is kept locally: " + err.Error()
	case errors.Is(err, content.ErrTitleNotFound):
		return "no such title"
	default:
		return err.Error()
	}
}

func quoteArg(s string) string {
	if strings.ContainsAny(s, " \t'\"") {
		return strconv.Quote(s)
	}
	return s
}
