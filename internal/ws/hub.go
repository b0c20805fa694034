package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client wraps a connection with a write lock. gorilla/websocket allows at
// most one concurrent writer per connection, and two broadcasts (say a
// new_message and a gate unlock) can target the same connection at once.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(payload)
}

// Hub manages active WebSocket connections keyed by user ID and provides
// helper methods to broadcast events to one or more users. Delivery is
// best-effort, at-most-once: a disconnected user simply misses the push and
// converges via the gate status query.
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]map[*websocket.Conn]*client
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[int64]map[*websocket.Conn]*client),
	}
}

// Register adds a connection for the given user.
func (h *Hub) Register(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]*client)
	}
	h.conns[userID][conn] = &client{conn: conn}
}

// Unregister removes a connection for the given user.
func (h *Hub) Unregister(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
}

// BroadcastToUsers sends the given payload to all active connections of the
// provided user IDs. Connections that fail will be cleaned up.
func (h *Hub) BroadcastToUsers(userIDs []int64, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, uid := range userIDs {
		conns, ok := h.conns[uid]
		if !ok {
			continue
		}
		for _, c := range conns {
			if err := c.writeJSON(payload); err != nil {
				c.conn.Close()
				// actual removal is best-effort; it's okay if a stale conn lingers
			}
		}
	}
}

// BroadcastAll sends the payload to all connected users.
func (h *Hub) BroadcastAll(payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.conns {
		for _, c := range conns {
			if err := c.writeJSON(payload); err != nil {
				c.conn.Close()
				// best-effort cleanup; hub will be updated on next Register/Unregister
			}
		}
	}
}
