// Package hub fans structured messages out to live subscribers.
package hub

import (
	"sync"

	"telemetryhub/internal/logger"
	"telemetryhub/internal/observability"
	"telemetryhub/pkg/models"
)

// Subscriber is one live observer connection. Any send error is treated as a
// disconnect.
type Subscriber interface {
	Send(msg models.HubMessage) error
	Close() error
}

// Hub holds the dynamic subscriber set. Register, Unregister, and Broadcast
// are safe to call concurrently; the REST surface and the stream consumer
// both reach into it.
type Hub struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[Subscriber]struct{})}
}

// Register adds a subscriber to the active set.
func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	observability.LiveSubscribers.Set(float64(n))
	logger.Debugf("Subscriber registered (total=%d)", n)
}

// Unregister removes a subscriber from the active set. Removing an unknown
// subscriber is a no-op.
func (h *Hub) Unregister(s Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	observability.LiveSubscribers.Set(float64(n))
	logger.Debugf("Subscriber removed (total=%d)", n)
}

// Count returns the current subscriber count.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast delivers msg to every current subscriber, best effort. The
// subscriber set is snapshotted before iterating so sends never race with
// removal; a subscriber whose send fails is pruned and closed, and never
// blocks delivery to the rest.
func (h *Hub) Broadcast(msg models.HubMessage) {
	h.mu.Lock()
	snapshot := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()

	for _, s := range snapshot {
		if err := s.Send(msg); err != nil {
			logger.Debugf("Dropping subscriber after send error: %v", err)
			h.Unregister(s)
			_ = s.Close()
		}
	}
	observability.Broadcasts.Inc()
}
