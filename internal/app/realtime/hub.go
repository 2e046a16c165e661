package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qltv/library_service/internal/app/system"
	"github.com/qltv/library_service/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 32
	defaultHistory = 100
)

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub keeps the last events in memory and broadcasts new ones to websocket
// clients. Slow clients are disconnected instead of blocking publishers.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	history []Event
	max     int
	closed  bool
	now     func() time.Time
}

var _ Publisher = (*Hub)(nil)
var _ system.Service = (*Hub)(nil)

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(log *logger.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if log == nil {
		log = logger.NewDefault("realtime")
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[*client]struct{}),
		max:     defaultHistory,
		now:     time.Now,
	}
}

func (h *Hub) Name() string { return "realtime-hub" }

func (h *Hub) Start(context.Context) error {
	h.mu.Lock()
	h.closed = false
	h.mu.Unlock()
	return nil
}

// Stop disconnects every client.
func (h *Hub) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	return nil
}

// Publish records the event and queues it for every client.
func (h *Hub) Publish(_ context.Context, eventType string, data interface{}) {
	evt := Event{Type: eventType, Time: h.now().UTC(), Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, evt)
	if len(h.history) > h.max {
		h.history = h.history[len(h.history)-h.max:]
	}
	for c := range h.clients {
		select {
		case c.send <- evt:
		default:
			close(c.send)
			delete(h.clients, c)
			h.log.Warn("dropping slow realtime client")
		}
	}
}

// Recent returns up to limit of the newest events, oldest first.
func (h *Hub) Recent(limit int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.history) {
		limit = len(h.history)
	}
	out := make([]Event, limit)
	copy(out, h.history[len(h.history)-limit:])
	return out
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Event, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case evt, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}
