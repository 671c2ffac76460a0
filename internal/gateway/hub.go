package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub fans vault events out to connected websocket observers. It satisfies
// messaging.Sink so the service can treat it like any other event target.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*wsClient
}

type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

type wsEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]*wsClient)}
}

// Publish broadcasts an event to all connected clients. Slow clients are
// skipped rather than blocking the publisher.
func (h *Hub) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(wsEnvelope{Type: subject, Data: data, Timestamp: time.Now()})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
	return nil
}

func (h *Hub) attach(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	go h.readPump(c)
	go h.writePump(c)
	return c
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		close(c.done)
		c.conn.Close()
	}()

	for {
		// Observers only listen; reads just detect disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
