package api

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub maintains active WebSocket connections and broadcasts market events
// (book updates, trades, settlements) to every client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	stopped bool
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if !h.stopped {
		h.clients[client] = true
	}
	h.mu.Unlock()
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

// Stop disconnects all clients and prevents new registrations.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

func (c *Client) WritePump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		// Clients don't send anything we act on; the read loop exists to
		// detect disconnects.
	}
}
