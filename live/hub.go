package live

import (
	"encoding/json"
	"fmt"
	"sync"

	"dutydesk/models"

	jww "github.com/spf13/jwalterweatherman"
)

// Client is one open event stream. Messages are queued in a bounded buffer;
// when it is full the oldest pending message is discarded.
type Client struct {
	UserID string
	ch     chan []byte
	done   <-chan struct{}
	drops  int
}

// Messages yields encoded frames ready to be written to the stream.
func (c *Client) Messages() <-chan []byte {
	return c.ch
}

// Done is closed when the hub shuts down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Hub is the registry of connected event stream clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	buffer  int
	done    chan struct{}
	closed  bool
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		buffer:  buffer,
		done:    make(chan struct{}),
	}
}

// Encode renders an event as a stream frame: "data: <json>\n\n".
func Encode(ev models.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", ev.Type, err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// Subscribe registers a client for userID and queues greeting as its first
// message.
func (h *Hub) Subscribe(userID string, greeting models.Event) *Client {
	c := &Client{UserID: userID, ch: make(chan []byte, h.buffer), done: h.done}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	if frame, err := Encode(greeting); err == nil {
		c.ch <- frame
	} else {
		jww.ERROR.Printf("❌ %v", err)
	}
	jww.DEBUG.Printf("🔌 Stream opened for %s (%d connected)", userID, len(h.clients))
	return c
}

// Unsubscribe removes c. Later broadcasts skip it.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if c.drops > 0 {
		jww.WARN.Printf("⚠️  Stream for %s dropped %d messages", c.UserID, c.drops)
	}
	jww.DEBUG.Printf("🔌 Stream closed for %s (%d connected)", c.UserID, len(h.clients))
}

// Broadcast queues ev on every connected client and returns how many
// clients it reached. It never blocks on a slow client.
func (h *Hub) Broadcast(ev models.Event) int {
	frame, err := Encode(ev)
	if err != nil {
		jww.ERROR.Printf("❌ %v", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.ch <- frame:
			continue
		default:
		}
		// Full: drop the oldest frame to make room.
		select {
		case <-c.ch:
			c.drops++
		default:
		}
		select {
		case c.ch <- frame:
		default:
			c.drops++
		}
	}
	return len(h.clients)
}

// Close signals every client, current and future, to stop streaming.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	jww.INFO.Printf("🔌 Closing %d event streams", len(h.clients))
}

// Count is the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Connected reports whether userID has at least one open stream.
func (h *Hub) Connected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c.UserID == userID {
			return true
		}
	}
	return false
}
