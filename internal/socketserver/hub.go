package socketserver

import (
	"sync"

	"github.com/codefionn/tempo/internal/logger"
)

// Hub maintains the set of active clients and handles broadcasting
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan *BaseMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *BaseMessage, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	logger.Debug("Socket hub started")
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-h.done:
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	logger.Debug("Socket client registered: %s (total: %d)", client.ID, len(h.clients))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		logger.Debug("Socket client unregistered: %s (total: %d)", client.ID, len(h.clients))
	}
}

func (h *Hub) broadcastMessage(message *BaseMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(message)
	}
}

// RegisterClient adds a client (called from client goroutine)
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// UnregisterClient removes a client (called from client goroutine)
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for every connected client.
func (h *Hub) Broadcast(msg *BaseMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		logger.Warn("Broadcast queue full, dropping %s", msg.Type)
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Shutdown closes all client connections and stops the loop.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		h.mu.RLock()
		clients := make([]*Client, 0, len(h.clients))
		for client := range h.clients {
			clients = append(clients, client)
		}
		h.mu.RUnlock()

		logger.Debug("Shutting down hub, closing %d connections", len(clients))
		close(h.done)
		for _, client := range clients {
			client.Close()
		}
	})
}
