// Package websocket streams provider state transitions to operator
// consoles. The hub implements dispatch.EventPublisher so it plugs straight
// into the service; consoles pair the stream with the REST snapshot
// endpoints for initial state.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
)

const (
	// writeWait bounds one frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a subscriber may stay silent before the
	// connection is considered dead. Pings go out inside that window.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// The feed is one-way; inbound frames beyond control traffic are noise.
	maxMessageSize = 512

	// sendBuffer is the per-subscriber backlog before it is dropped.
	sendBuffer = 32
)

// Hub fans provider events out to every connected subscriber.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds an empty hub. Origin enforcement is left to the edge proxy;
// the gateway itself serves internal operator tooling.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and registers the subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket subscriber connected",
		zap.String("client_id", c.id),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("subscribers", count),
	)

	go c.writePump()
	go c.readPump()
}

// PublishProviderEvent broadcasts one event to every subscriber. Dispatch
// calls this on its own goroutine, so blocking briefly is fine, but a
// subscriber that cannot keep up is dropped rather than allowed to stall
// the feed.
func (h *Hub) PublishProviderEvent(event dispatch.ProviderEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal provider event", zap.Error(err))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket subscriber", zap.String("client_id", c.id))
		h.unregister(c)
	}
}

// Subscribers reports the live connection count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

// unregister removes the client and closes its send channel. Closing under
// the write lock excludes concurrent broadcasters, so nothing can send on
// the closed channel. Safe to call more than once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Info("websocket subscriber disconnected",
			zap.String("client_id", c.id),
			zap.Int("subscribers", count),
		)
	}
}

// writePump owns all writes on the connection: events from the send channel
// and keepalive pings. A closed send channel means the hub dropped us; say
// goodbye cleanly.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump exists to process pongs and detect disconnects; subscriber
// frames are discarded.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debug("websocket read ended",
					zap.String("client_id", c.id),
					zap.Error(err),
				)
			}
			return
		}
	}
}
