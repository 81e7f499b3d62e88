package channel

import (
	"sync"

	"github.com/delfinzap/realtime/internal/metrics"
	"github.com/real-rm/golog"
)

// Subscriber is the surface the hub needs from a connection: an emitter
// that delivers one event and reports whether delivery was accepted.
type Subscriber interface {
	// Emit queues an event for delivery. Returns false when the
	// subscriber is closing or its buffer is full.
	Emit(event string, payload interface{}) bool
	// ID identifies the subscriber for logging.
	ID() string
}

// Hub is the process-wide registry of broadcast channels. It is constructed
// once at startup and passed by reference to the gateway; business code
// publishes tenant/queue/ticket events through it and the gateway
// subscribes and unsubscribes connections as membership changes.
type Hub struct {
	channels map[string]map[Subscriber]struct{}
	logger   *golog.Logger
	mu       sync.RWMutex
}

// NewHub creates an empty hub
func NewHub(logger *golog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[Subscriber]struct{}),
		logger:   logger.WithGroup("channel"),
	}
}

// Subscribe adds a subscriber to a channel. Subscribing twice is a no-op;
// reference counting is the caller's concern (see CounterManager).
func (h *Hub) Subscribe(name string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// No else needed: initialize if needed (lazy initialization)
	if h.channels[name] == nil {
		h.channels[name] = make(map[Subscriber]struct{})
	}

	// No else needed: optional operation (metric only on first subscription)
	if _, exists := h.channels[name][sub]; !exists {
		h.channels[name][sub] = struct{}{}
		metrics.ChannelSubscriptions.Inc()
	}

	h.logger.Debug("Subscribed to channel",
		"channel", name,
		"subscriber", sub.ID(),
		"occupancy", len(h.channels[name]))
}

// Unsubscribe removes a subscriber from a channel. Unknown pairs are a no-op.
func (h *Hub) Unsubscribe(name string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[name]
	// No else needed: early return pattern (guard clause)
	if !ok {
		return
	}

	// No else needed: early return pattern (guard clause)
	if _, exists := subs[sub]; !exists {
		return
	}

	delete(subs, sub)
	metrics.ChannelSubscriptions.Dec()

	// Drop empty channels so the map does not accumulate dead keys
	if len(subs) == 0 {
		delete(h.channels, name)
	}

	h.logger.Debug("Unsubscribed from channel",
		"channel", name,
		"subscriber", sub.ID(),
		"occupancy", len(subs))
}

// ReleaseAll removes a subscriber from every channel it is a member of.
// Called on disconnect.
func (h *Hub) ReleaseAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, subs := range h.channels {
		// No else needed: optional operation (only members are released)
		if _, exists := subs[sub]; exists {
			delete(subs, sub)
			metrics.ChannelSubscriptions.Dec()
			if len(subs) == 0 {
				delete(h.channels, name)
			}
		}
	}
}

// Publish delivers an event to every subscriber of a channel. Delivery is
// best-effort: subscribers whose buffers are full drop the event and are
// counted, never blocked on.
func (h *Hub) Publish(name, event string, payload interface{}) {
	// Snapshot under the read lock to avoid holding it during emits
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.channels[name]))
	for sub := range h.channels[name] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		// No else needed: optional operation (accounting for dropped events)
		if !sub.Emit(event, payload) {
			metrics.EventsDropped.Inc()
			h.logger.Warn("Dropped event for subscriber, buffer full or closing",
				"channel", name,
				"event", event,
				"subscriber", sub.ID())
		}
	}
}

// Len returns the number of subscribers currently in a channel.
func (h *Hub) Len(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[name])
}

// Occupancy returns a snapshot of channel names to subscriber counts.
// Used by the admin introspection endpoint.
func (h *Hub) Occupancy() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snapshot := make(map[string]int, len(h.channels))
	for name, subs := range h.channels {
		snapshot[name] = len(subs)
	}
	return snapshot
}
