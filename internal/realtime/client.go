package realtime

import (
	"sync"

	"github.com/gorilla/websocket"

	realtimeTypes "github.com/deckvoice/deckvoice/pkg/realtime"
)

const outboundBufferSize = 64

type Client struct {
	id   string
	conn *websocket.Conn
	send chan realtimeTypes.ServerEnvelope

	mu     sync.RWMutex
	topics map[string]struct{}
	closed bool
}

func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan realtimeTypes.ServerEnvelope, outboundBufferSize),
		topics: make(map[string]struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Queue attempts a non-blocking send to the client's outbound buffer. The
// send happens under the read lock: Close takes the write lock before closing
// the channel, so a publish racing a disconnect cannot send on a closed
// channel.
func (c *Client) Queue(msg realtimeTypes.ServerEnvelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) WriteLoop() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// Close is idempotent and safe against concurrent Queue calls.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
	close(c.send)
}

func (c *Client) Subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		c.topics[topic] = struct{}{}
	}
}

func (c *Client) Unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.topics, topic)
	}
}

func (c *Client) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}
