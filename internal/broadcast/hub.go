package broadcast

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Hub fans messages out to in-process subscribers keyed by channel.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Message
	next int
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Message)}
}

// Subscribe registers a subscriber for channel. The returned channel is closed when ctx
// ends.
func (h *Hub) Subscribe(ctx context.Context, channel string) <-chan Message {
	ch := make(chan Message, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[int]chan Message)
	}
	h.subs[channel][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[channel], id)
		if len(h.subs[channel]) == 0 {
			delete(h.subs, channel)
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers msg to every subscriber of its channel and reports how many received it.
func (h *Hub) Publish(msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, ch := range h.subs[msg.Channel] {
		select {
		case ch <- msg:
			delivered++
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
	return delivered
}

// Subscribers reports the number of listeners on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}
