// Package livefeed pushes slot state changes to connected browsers over
// websockets so availability grids update without polling.
package livefeed

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/consult-slots/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// SlotEvent is one slot state change.
type SlotEvent struct {
	AppointmentID string     `json:"appointment_id"`
	SlotID        string     `json:"slot_id"`
	Status        string     `json:"status"`
	HoldUntil     *time.Time `json:"hold_until"`
	At            time.Time  `json:"at"`
}

type client struct {
	conn          *websocket.Conn
	send          chan []byte
	appointmentID string
}

// Hub fans slot events out to subscribed websocket clients. Slow clients
// whose buffers fill up are disconnected rather than blocking publishers.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewHub creates a hub. An empty allowedOrigins accepts any origin.
func NewHub(allowedOrigins []string, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	h := &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.WithComponent("livefeed"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
		},
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers evt to every client subscribed to its appointment (or to all).
func (h *Hub) Publish(evt SlotEvent) {
	if h == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("livefeed: marshal event", "error", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.appointmentID != "" && c.appointmentID != evt.AppointmentID {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("livefeed: dropping slow client", "appointment_id", c.appointmentID)
		h.remove(c)
	}
}

// ServeWS upgrades the request; ?appointment_id= narrows the subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("livefeed: upgrade failed", "error", err)
		return
	}
	c := &client{
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		appointmentID: strings.TrimSpace(r.URL.Query().Get("appointment_id")),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump discards inbound messages and detects disconnects.
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
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
