package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/squeezewatch/squeezewatch/internal/alerts"
	"github.com/squeezewatch/squeezewatch/internal/watchlist"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the connection
	// as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 32
)

// Event names carried in Message.Event.
const (
	EventSnapshot = "snapshot"
	EventAlert    = "alert"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; restrict at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Source provides the state shown in snapshots.
type Source interface {
	Watchlist() []watchlist.Item
	Alerts() []alerts.Alert
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Snapshot is the payload of a snapshot event.
type Snapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Watchlist   []watchlist.Item `json:"watchlist"`
	Alerts      []alerts.Alert   `json:"alerts"`
}

// Hub manages banner clients. It pushes alert events as they fire and a full
// snapshot on connect and every interval.
//
// Hub implements notify.Channel under the name "banner".
type Hub struct {
	interval time.Duration

	mu      sync.RWMutex
	source  Source
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that broadcasts a snapshot every interval. The source
// is attached later with SetSource; until then snapshots are empty.
func New(interval time.Duration) *Hub {
	return &Hub{
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// SetSource attaches the state provider.
func (h *Hub) SetSource(src Source) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = src
}

// Name implements notify.Channel.
func (h *Hub) Name() string { return "banner" }

// Send implements notify.Channel by broadcasting an alert event. Having no
// connected clients is not a failure.
func (h *Hub) Send(_ context.Context, a alerts.Alert) error {
	data, err := json.Marshal(Message{Event: EventAlert, Data: a})
	if err != nil {
		return fmt.Errorf("ws: encode alert: %w", err)
	}
	h.broadcast(data)
	return nil
}

// Run starts the snapshot ticker loop. It blocks until ctx is cancelled, then
// closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			data, err := h.snapshotMessage()
			if err != nil {
				slog.Error("ws: build snapshot", "err", err)
				continue
			}
			h.broadcast(data)
		}
	}
}

// ServeHTTP upgrades the connection and serves the client until it closes.
// The current snapshot is sent immediately so a fresh banner has data.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	if data, err := h.snapshotMessage(); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast queues data on every client. Clients whose buffer is full are
// disconnected. Sends happen under the read lock so no send channel can be
// closed concurrently.
func (h *Hub) broadcast(data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) snapshotMessage() ([]byte, error) {
	h.mu.RLock()
	src := h.source
	h.mu.RUnlock()

	snap := Snapshot{
		GeneratedAt: time.Now().UTC(),
		Watchlist:   []watchlist.Item{},
		Alerts:      []alerts.Alert{},
	}
	if src != nil {
		if items := src.Watchlist(); items != nil {
			snap.Watchlist = items
		}
		if hist := src.Alerts(); hist != nil {
			snap.Alerts = hist
		}
	}
	return json.Marshal(Message{Event: EventSnapshot, Data: snap})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump forwards queued messages to the connection and sends pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
