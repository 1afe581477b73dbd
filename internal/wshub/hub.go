package wshub

import (
	"context"
	"errors"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"wevote/internal/events"
	"wevote/internal/metrics"
)

// Client represents a single push channel websocket in the hub.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("push write failed")
				return
			}
		}
	}
}

var ErrHubClosed = errors.New("hub closed")

// Hub manages the push channel websockets of one room.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register adds a client to the hub. A closed hub refuses new clients.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.clients[c.ID] = c
	metrics.SocketsConnected.Inc()
	return nil
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	close(c.Send)
	delete(h.clients, id)
	metrics.SocketsConnected.Dec()
}

// Close unregisters every client, ending their write pumps.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		close(c.Send)
		delete(h.clients, id)
		metrics.SocketsConnected.Dec()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an action to every client. Non-blocking: drops if a channel is full.
func (h *Hub) Broadcast(a events.Action) {
	data, err := events.Encode(a)
	if err != nil {
		log.Error().Err(err).Str("action", string(a)).Msg("encoding push message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		select {
		case c.Send <- data:
		default:
			log.Warn().Str("client_id", id).Str("action", string(a)).Msg("send buffer full, dropping push message")
		}
	}
}
