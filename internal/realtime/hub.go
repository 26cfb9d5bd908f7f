// Package realtime fans announcements and position updates out to websocket
// observers. The hub sits strictly downstream of the host's drain loop: it is
// fed after an announcement has been spoken and never back-pressures the
// engine. Slow clients are disconnected rather than buffered without bound.
package realtime

import (
	"sync"

	realtimeTypes "github.com/deckvoice/deckvoice/pkg/realtime"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID()] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()

	if ok {
		client.Close()
	}
}

// Publish queues msg to every client subscribed to topic. A client whose
// outbound buffer is full is dropped.
func (h *Hub) Publish(topic string, msg realtimeTypes.ServerEnvelope) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.IsSubscribed(topic) {
			continue
		}
		if client.Queue(msg) {
			continue
		}
		h.Unregister(client.ID())
	}
}

func (h *Hub) Subscribe(clientID string, topics []string) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	client.Subscribe(topics)
	return true
}

func (h *Hub) Unsubscribe(clientID string, topics []string) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	client.Unsubscribe(topics)
	return true
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
