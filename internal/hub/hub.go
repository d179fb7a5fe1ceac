// Package hub fans pipeline events out to an unbounded set of subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the
// event, and a disconnected subscriber affects nobody else.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

const defaultBufferSize = 64

// Hub is the broadcast channel from the orchestrator to observers.
type Hub struct {
	logger  *slog.Logger
	bufSize int

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// New creates a Hub. bufSize is the per-subscriber channel buffer; values
// <= 0 use the default.
func New(logger *slog.Logger, bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return &Hub{
		logger:      logger,
		bufSize:     bufSize,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel receiving JSON-encoded events. The caller
// must call Unsubscribe when done.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, h.bufSize) // Buffer so publishing never blocks.
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it. Unsubscribing a
// channel twice or one the hub does not know is a no-op.
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	_, known := h.subscribers[ch]
	delete(h.subscribers, ch)
	h.mu.Unlock()
	if known {
		close(ch)
	}
}

// Publish JSON-encodes v and delivers it to every current subscriber.
// Events for subscribers with a full buffer are dropped.
func (h *Hub) Publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("hub: marshal event", "error", err)
		return
	}
	h.broadcast(data)
}

// broadcast holds only the read lock for the duration of the fan-out; the
// non-blocking send means a slow subscriber cannot extend that window.
func (h *Hub) broadcast(event []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop this event for them.
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
