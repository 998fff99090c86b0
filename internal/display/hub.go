package display

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxtap/internal/observe"
)

const (
	// clientBuffer is the number of snapshots queued per client before new
	// ones are dropped for that client.
	clientBuffer = 8

	writeTimeout = 5 * time.Second
)

// HubOption is a functional option for [NewHub].
type HubOption func(*Hub)

// WithHubMetrics tracks connected clients in m.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns allows cross-origin websocket connections from hosts
// matching patterns.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// Hub is a [Screen] that broadcasts snapshots as JSON text messages to every
// connected websocket client. A new client first receives the last snapshot.
type Hub struct {
	metrics *observe.Metrics
	origins []string

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	closed  bool
}

type client struct {
	send chan []byte
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{clients: make(map[*client]struct{})}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the websocket endpoint at GET /status/ws.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.Handle("GET /status/ws", h)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Render implements [Screen].
func (h *Hub) Render(_ context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("display: marshal snapshot: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; it catches up with the next snapshot.
		}
	}
	return nil
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request and streams snapshots until the client goes
// away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("display: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan []byte, clientBuffer)}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(c)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				slog.Debug("display: websocket write failed", "err", err)
				return
			}
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	if h.metrics != nil {
		h.metrics.DisplayClients.Add(context.Background(), 1)
	}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		// Already dropped by Close.
		if h.metrics != nil {
			h.metrics.DisplayClients.Add(context.Background(), -1)
		}
		return
	}
	delete(h.clients, c)
	if h.metrics != nil {
		h.metrics.DisplayClients.Add(context.Background(), -1)
	}
}
