// Package push delivers real-time payloads to connected clients over
// websockets. The hub is an injected capability, not a package
// singleton, so the dispatcher can run against a fake in tests.
package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 3 * time.Second

// client wraps a connection with its write lock. Gorilla allows at
// most one concurrent writer per connection, and Send runs on a
// goroutine per committed transition, so every write goes through
// client.write.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks live websocket connections per user and fans payloads out
// to them. Delivery is best effort: a dead connection is dropped, never
// retried.
type Hub struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[*websocket.Conn]*client
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns: make(map[uuid.UUID]map[*websocket.Conn]*client),
		log:   log.With().Str("component", "push-hub").Logger(),
	}
}

// Register attaches a connection for a user. The caller owns the read
// loop and must call Unregister when it ends.
func (h *Hub) Register(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*websocket.Conn]*client)
		h.conns[userID] = set
	}
	set[conn] = &client{conn: conn}
}

func (h *Hub) Unregister(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[userID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.conns, userID)
	}
}

// Send implements notify.Pusher. Returns true if the payload reached at
// least one live connection.
func (h *Hub) Send(ctx context.Context, userID uuid.UUID, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal push payload")
		return false
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.conns[userID]))
	for _, c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return false
	}

	delivered := false
	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.log.Debug().Err(err).Stringer("user_id", userID).Msg("dropping dead push connection")
			h.Unregister(userID, c.conn)
			_ = c.conn.Close()
			continue
		}
		delivered = true
	}

	return delivered
}

// ConnectedUsers reports how many users currently hold at least one
// connection. Used by the readiness handler.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
