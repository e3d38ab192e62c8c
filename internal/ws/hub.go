package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a connected WebSocket client
type Client struct {
	conn      *websocket.Conn
	accountID string
	send      chan []byte
}

// Hub maintains the set of active clients keyed by account id. A reconnect
// replaces the previous connection for the same account.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes register/unregister events. Call in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if prev, exists := h.clients[client.accountID]; exists {
				close(prev.send)
			}
			h.clients[client.accountID] = client
			h.mu.Unlock()
			log.Printf("[WS] account %s connected", client.accountID)

		case client := <-h.unregister:
			h.mu.Lock()
			if current, exists := h.clients[client.accountID]; exists && current == client {
				delete(h.clients, client.accountID)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("[WS] account %s disconnected", client.accountID)
		}
	}
}

// Envelope is the frame pushed to clients: the event subject plus its payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SendToAccount delivers a message to a connected account. Messages to offline
// accounts are dropped; clients resynchronize from the game state endpoint on
// reconnect.
func (h *Hub) SendToAccount(accountID string, message Envelope) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, exists := h.clients[accountID]
	if !exists {
		return
	}

	select {
	case client.send <- data:
	default:
		log.Printf("[WS] send buffer full for account %s, dropping message", accountID)
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed, connection is being replaced or cleaned up.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] write error for account %s: %v", c.accountID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] ping error for account %s: %v", c.accountID, err)
				return
			}
		}
	}
}

// readPump discards inbound frames and tears down the client on error. The
// gateway is push-only; all commands go through the HTTP API.
func (c *Client) readPump(hub *Hub) {
	defer func() {
		hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
