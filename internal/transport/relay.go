package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	relayReadLimit   = 1 << 20
	relayHTTPTimeout = 10 * time.Second

	// Backoff between attempts to restore a lost room connection
	relayRedialMin = 250 * time.Millisecond
	relayRedialMax = 30 * time.Second
)

// Relay talks to the relay server: one websocket per room code carries
// mutations both ways, tickets and discovery go over plain HTTP.
//
// Handlers belong to the room code, not to a connection. When a connection
// is lost its handlers get a KindConnectivity mutation and the client redials
// in the background; the relay resends the room state on every connect.
type Relay struct {
	baseURL       *url.URL
	participantID string
	httpClient    *http.Client
	log           *slog.Logger

	mu        sync.Mutex
	conns     map[string]*relayConn
	handlers  map[string]map[uint64]Handler
	redialing map[string]bool
	nextID    uint64
	closed    bool
	done      chan struct{}
}

type relayConn struct {
	code   string
	conn   *websocket.Conn
	cancel context.CancelFunc
}

type relaySubscription struct {
	id   uint64
	code string
}

func (s *relaySubscription) RoomCode() string { return s.code }

type ticketRequest struct {
	RoomCode      string `json:"room_code"`
	ParticipantID string `json:"participant_id"`
}

type ticketResponse struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRelay creates a relay client acting as participantID
func NewRelay(baseURL, participantID string, log *slog.Logger) (*Relay, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url must be http or https, got %q", u.Scheme)
	}

	return &Relay{
		baseURL:       u,
		participantID: participantID,
		httpClient:    &http.Client{Timeout: relayHTTPTimeout},
		log:           log,
		conns:         make(map[string]*relayConn),
		handlers:      make(map[string]map[uint64]Handler),
		redialing:     make(map[string]bool),
		done:          make(chan struct{}),
	}, nil
}

func (r *Relay) endpoint(path string) string {
	u := *r.baseURL
	u.Path = path
	u.RawQuery = ""
	return u.String()
}

func (r *Relay) socketURL(ticket string) string {
	u := *r.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"ticket": {ticket}}.Encode()
	return u.String()
}

// ticket asks the relay for a connection ticket bound to (code, participant)
func (r *Relay) ticket(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(ticketRequest{RoomCode: code, ParticipantID: r.participantID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint("/api/tickets"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request ticket: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("request ticket: unexpected status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var tr ticketResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode ticket: %w", err)
	}

	return tr.Ticket, nil
}

// conn returns the open connection for code, dialing one if needed
func (r *Relay) conn(ctx context.Context, code string) (*relayConn, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("relay client closed: %w", ErrUnavailable)
	}
	if c, ok := r.conns[code]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	ticket, err := r.ticket(ctx, code)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.Dial(ctx, r.socketURL(ticket), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w: %w", ErrUnavailable, err)
	}
	ws.SetReadLimit(relayReadLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &relayConn{
		code:   code,
		conn:   ws,
		cancel: cancel,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		ws.Close(websocket.StatusNormalClosure, "client closing")
		return nil, fmt.Errorf("relay client closed: %w", ErrUnavailable)
	}
	if existing, ok := r.conns[code]; ok {
		// Lost a dial race; keep the first connection.
		r.mu.Unlock()
		cancel()
		ws.Close(websocket.StatusNormalClosure, "")
		return existing, nil
	}
	r.conns[code] = c
	r.mu.Unlock()

	go r.readLoop(readCtx, c)

	r.log.Debug("relay connection established", "room_code", code)

	return c, nil
}

// handlersLocked copies the handlers of code. r.mu must be held.
func (r *Relay) handlersLocked(code string) []Handler {
	hs := make([]Handler, 0, len(r.handlers[code]))
	for _, h := range r.handlers[code] {
		hs = append(hs, h)
	}
	return hs
}

func (r *Relay) readLoop(ctx context.Context, c *relayConn) {
	for {
		var m Mutation
		if err := wsjson.Read(ctx, c.conn, &m); err != nil {
			c.conn.CloseNow()
			if ctx.Err() != nil {
				// Hung up on purpose
				return
			}
			r.lost(c, err)
			return
		}

		r.mu.Lock()
		handlers := r.handlersLocked(c.code)
		r.mu.Unlock()

		for _, h := range handlers {
			h(m)
		}
	}
}

// lost forgets a connection the relay or the network closed, tells its
// handlers and starts restoring it
func (r *Relay) lost(c *relayConn, err error) {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		r.log.Info("relay closed connection", "room_code", c.code, "status", status)
	} else {
		r.log.Warn("relay read failed", "room_code", c.code, "error", err)
	}

	r.mu.Lock()
	if r.conns[c.code] == c {
		delete(r.conns, c.code)
	}
	handlers := r.handlersLocked(c.code)
	r.mu.Unlock()
	c.cancel()

	m := connectivityMutation(c.code, err)
	for _, h := range handlers {
		h(m)
	}

	r.scheduleRedial(c.code)
}

// drop discards a connection that failed a write. The caller reports the
// failure, so handlers are not told.
func (r *Relay) drop(c *relayConn) {
	r.mu.Lock()
	if r.conns[c.code] == c {
		delete(r.conns, c.code)
	}
	r.mu.Unlock()
	c.cancel()
	c.conn.CloseNow()

	r.scheduleRedial(c.code)
}

// scheduleRedial starts one background redial per code while anyone listens
func (r *Relay) scheduleRedial(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.redialing[code] || len(r.handlers[code]) == 0 {
		return
	}
	r.redialing[code] = true
	go r.redial(code)
}

func (r *Relay) redial(code string) {
	delay := relayRedialMin
	for attempt := 1; ; attempt++ {
		select {
		case <-time.After(delay):
		case <-r.done:
			return
		}

		r.mu.Lock()
		_, connected := r.conns[code]
		if r.closed || connected || len(r.handlers[code]) == 0 {
			delete(r.redialing, code)
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), relayHTTPTimeout)
		_, err := r.conn(ctx, code)
		cancel()

		if err == nil {
			r.log.Info("relay connection restored", "room_code", code, "attempt", attempt)

			r.mu.Lock()
			delete(r.redialing, code)
			_, connected = r.conns[code]
			r.mu.Unlock()

			// Lost again before the flag was cleared
			if !connected {
				r.scheduleRedial(code)
			}
			return
		}

		r.log.Warn("relay redial failed",
			"room_code", code,
			"attempt", attempt,
			"error", err,
		)
		delay = min(delay*2, relayRedialMax)
	}
}

// Publish sends m over the room's websocket
func (r *Relay) Publish(ctx context.Context, m Mutation) error {
	c, err := r.conn(ctx, m.RoomCode)
	if err != nil {
		return err
	}

	if err := wsjson.Write(ctx, c.conn, m); err != nil {
		r.drop(c)
		return fmt.Errorf("publish %s to %s: %w: %w", m.Kind, m.RoomCode, ErrUnavailable, err)
	}

	return nil
}

// Subscribe attaches h to the room code and connects if needed
func (r *Relay) Subscribe(ctx context.Context, code string, h Handler) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("relay client closed: %w", ErrUnavailable)
	}
	r.nextID++
	sub := &relaySubscription{id: r.nextID, code: code}
	if r.handlers[code] == nil {
		r.handlers[code] = make(map[uint64]Handler)
	}
	r.handlers[code][sub.id] = h
	r.mu.Unlock()

	if _, err := r.conn(ctx, code); err != nil {
		r.Unsubscribe(sub)
		return nil, err
	}

	return sub, nil
}

// Unsubscribe detaches sub and closes the connection when nothing listens
func (r *Relay) Unsubscribe(sub Subscription) error {
	rs, ok := sub.(*relaySubscription)
	if !ok {
		return fmt.Errorf("foreign subscription type %T", sub)
	}

	r.mu.Lock()
	delete(r.handlers[rs.code], rs.id)
	if len(r.handlers[rs.code]) > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.handlers, rs.code)
	c, ok := r.conns[rs.code]
	delete(r.conns, rs.code)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "unsubscribed")
}

// Discover asks the relay for the room's retained snapshot
func (r *Relay) Discover(ctx context.Context, code string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint("/api/rooms/"+url.PathEscape(code)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("discover %s: %w: %w", code, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("discover %s: unexpected status %d: %w", code, resp.StatusCode, ErrUnavailable)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, relayReadLimit))
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w: %w", code, ErrUnavailable, err)
	}

	return json.RawMessage(data), nil
}

// Close hangs up every room connection and stops redialing
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	conns := make([]*relayConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*relayConn)
	r.handlers = make(map[string]map[uint64]Handler)
	r.mu.Unlock()

	for _, c := range conns {
		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "client closing")
	}

	return nil
}
