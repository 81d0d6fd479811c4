package notify

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// UnreadEvent is pushed to browser clients when a viewer's flag changes.
type UnreadEvent struct {
	Type   string `json:"type"`
	Unread bool   `json:"unread"`
}

// NewUnreadEvent builds the event for a flag value.
func NewUnreadEvent(unread bool) UnreadEvent {
	return UnreadEvent{Type: "unread", Unread: unread}
}

// client serializes writes; a websocket.Conn allows one writer at a time.
type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcaster manages browser WebSocket connections per viewer.
type Broadcaster struct {
	mu          sync.RWMutex
	connections map[string]map[*websocket.Conn]*client // viewer -> connections
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		connections: make(map[string]map[*websocket.Conn]*client),
	}
}

// Subscribe registers a WebSocket connection for a viewer.
func (b *Broadcaster) Subscribe(viewer string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connections[viewer] == nil {
		b.connections[viewer] = make(map[*websocket.Conn]*client)
	}
	b.connections[viewer][conn] = &client{conn: conn}
}

// Unsubscribe removes a WebSocket connection from all viewers.
func (b *Broadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for viewer, conns := range b.connections {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(b.connections, viewer)
		}
	}
}

// Send writes event to a single connection of viewer.
func (b *Broadcaster) Send(viewer string, conn *websocket.Conn, event UnreadEvent) error {
	b.mu.RLock()
	c, ok := b.connections[viewer][conn]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Broadcast sends event to every connection of viewer.
func (b *Broadcaster) Broadcast(viewer string, event UnreadEvent) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.connections[viewer]))
	for _, c := range b.connections[viewer] {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	// Serialize event once
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal unread event", "error", err)
		return
	}

	for _, c := range clients {
		if err := c.write(data); err != nil {
			slog.Warn("failed to send message to websocket client",
				"error", err,
				"viewer", viewer,
			)
			// Connection will be cleaned up when client disconnects
		}
	}
}

// ConnectionCount returns the number of active WebSocket connections for a viewer.
func (b *Broadcaster) ConnectionCount(viewer string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections[viewer])
}
