package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MisTAiM/movienights/internal/metrics"
	"github.com/MisTAiM/movienights/internal/transport"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Send pings to peer with this period
	pingPeriod = 30 * time.Second

	// Snapshots carry the whole event log
	maxMessageSize = 1 << 20
)

// Client represents a single WebSocket connection
type Client struct {
	participantID string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	log           *slog.Logger

	rateLimit   int
	mu          sync.Mutex
	windowStart time.Time
	windowCount int
}

// NewClient creates a new client instance
func NewClient(participantID string, conn *websocket.Conn, hub *Hub, log *slog.Logger) *Client {
	return &Client{
		participantID: participantID,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 256),
		log:           log.With("participant_id", participantID, "room_code", hub.code),
		rateLimit:     hub.cfg.RateLimit,
	}
}

// readPump pumps mutations from the WebSocket connection to the hub
func (c *Client) readPump(ctx context.Context) {
	status, reason := websocket.StatusNormalClosure, ""
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close(status, reason)
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		var m transport.Mutation
		if err := wsjson.Read(ctx, c.conn, &m); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure ||
				status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				c.log.Debug("client disconnected normally")
			} else {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}

		// The client is told why instead of losing writes silently
		if !c.allow(time.Now()) {
			metrics.MutationsRejected.WithLabelValues("rate_limited").Inc()
			c.log.Warn("closing client over rate limit", "kind", m.Kind, "limit", c.rateLimit)
			status, reason = websocket.StatusPolicyViolation, "rate limit exceeded"
			return
		}

		select {
		case c.hub.inbound <- inbound{client: c, mutation: m}:
		case <-c.hub.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.CloseNow()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				c.conn.Close(websocket.StatusGoingAway, "hub closed channel")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()

			if err != nil {
				c.log.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(writeCtx)
			cancel()

			if err != nil {
				c.log.Warn("failed to send ping", "error", err)
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// allow applies a fixed one-second window rate limit
func (c *Client) allow(now time.Time) bool {
	if c.rateLimit <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.windowStart) >= time.Second {
		c.windowStart = now
		c.windowCount = 0
	}
	if c.windowCount >= c.rateLimit {
		return false
	}
	c.windowCount++
	return true
}
