// Package channel provides the broadcast channel registry (Hub) and the
// per-connection reference-counted membership bookkeeping (CounterManager).
package channel

import "sync"

// CounterManager tracks reference counts for a single connection's channel
// memberships. Multiple logical reasons for being in a channel (repeated
// join intents, several browser tabs funneled through one connection)
// collapse to one underlying subscription: the caller subscribes the
// transport exactly when Increment returns 1 and unsubscribes exactly when
// Decrement returns 0.
//
// A CounterManager is owned by one connection and discarded on disconnect.
// Handlers normally run on that connection's read loop only, but access is
// serialized anyway so state cannot corrupt on a multi-threaded host.
type CounterManager struct {
	counters map[string]int
	mu       sync.Mutex
}

// NewCounterManager creates an empty counter manager
func NewCounterManager() *CounterManager {
	return &CounterManager{
		counters: make(map[string]int),
	}
}

// Increment increases the reference count for a key and returns the new count.
func (cm *CounterManager) Increment(key string) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.counters[key]++
	return cm.counters[key]
}

// Decrement decreases the reference count for a key and returns the new count.
// Decrementing a key at zero is a no-op returning 0.
func (cm *CounterManager) Decrement(key string) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	count, ok := cm.counters[key]
	// No else needed: early return pattern (guard clause)
	if !ok || count <= 0 {
		return 0
	}

	count--
	if count == 0 {
		delete(cm.counters, key)
	} else {
		cm.counters[key] = count
	}
	return count
}

// Count returns the current reference count for a key.
func (cm *CounterManager) Count(key string) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.counters[key]
}
