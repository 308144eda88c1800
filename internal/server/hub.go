package server

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"go-book-download/internal/models"
)

// allJobs is the subscription key of clients that follow every job.
const allJobs = "all"

// Hub fans job transitions out to websocket clients.
type Hub struct {
	// Registered clients keyed by the job id they follow
	clients map[string]map[*Client]bool

	broadcast  chan models.StatusMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a hub. Call Run to start delivering messages.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan models.StatusMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run delivers messages until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for key, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, key)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.jobID] == nil {
				h.clients[client.jobID] = make(map[*Client]bool)
			}
			h.clients[client.jobID][client] = true
			h.mu.Unlock()
			log.WithField("job", client.jobID).Debug("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client.jobID, client)
			h.mu.Unlock()
			log.WithField("job", client.jobID).Debug("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			h.deliver(message.ID, message)
			h.deliver(allJobs, message)
			h.mu.Unlock()
		}
	}
}

// deliver sends to every client under key; slow clients are dropped.
func (h *Hub) deliver(key string, message models.StatusMessage) {
	for client := range h.clients[key] {
		select {
		case client.send <- message:
		default:
			h.drop(key, client)
		}
	}
}

func (h *Hub) drop(key string, client *Client) {
	clients, ok := h.clients[key]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, key)
	}
}

// Broadcast queues msg for delivery without blocking the caller.
func (h *Hub) Broadcast(msg models.StatusMessage) {
	select {
	case h.broadcast <- msg:
	default:
		log.WithField("id", msg.ID).Warn("WebSocket broadcast channel full, dropping message")
	}
}

func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}
