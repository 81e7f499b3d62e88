// Package ratelimit provides rate limiting for WebSocket connections and events.
// EventLimiter throttles inbound events per (principal, event name); ConnectionLimiter
// caps concurrent connections per principal.
package ratelimit

import (
	"sync"
	"time"

	"github.com/real-rm/golog"
)

// ConnectionLimiter limits the number of concurrent connections per principal
type ConnectionLimiter struct {
	connections map[string]int // principalID -> connection count
	maxPerUser  int
	mu          sync.RWMutex
}

// NewConnectionLimiter creates a new connection limiter
func NewConnectionLimiter(maxPerUser int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[string]int),
		maxPerUser:  maxPerUser,
	}
}

// Allow checks if a new connection is allowed for the principal
func (cl *ConnectionLimiter) Allow(principalID string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	count := cl.connections[principalID]
	if count >= cl.maxPerUser {
		return false
	}

	cl.connections[principalID] = count + 1
	return true
}

// Release decrements the connection count for a principal
func (cl *ConnectionLimiter) Release(principalID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if count, ok := cl.connections[principalID]; ok {
		if count <= 1 {
			delete(cl.connections, principalID)
		} else {
			cl.connections[principalID] = count - 1
		}
	}
}

// GetCount returns the current connection count for a principal
func (cl *ConnectionLimiter) GetCount(principalID string) int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.connections[principalID]
}

// limitEntry holds the counter state for one (principal, event) pair
type limitEntry struct {
	count       int
	windowStart time.Time
}

// EventLimiter throttles events per (principal id, event name) pair using a
// fixed window that resets once the window has fully elapsed. Entries are
// created lazily and purged by a background sweep once they have been idle
// for twice the window, bounding memory for principals that disconnect
// without cleanup.
type EventLimiter struct {
	entries map[string]*limitEntry // "principalID:event" -> entry
	window  time.Duration
	max     int
	logger  *golog.Logger
	mu      sync.Mutex

	// Sweep goroutine management
	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepWg       sync.WaitGroup
	stopOnce      sync.Once
}

// NewEventLimiter creates a new per-event rate limiter.
// window: time window for rate limiting (e.g. 1 second)
// max: maximum number of events allowed in the window
// sweepInterval: how often idle entries are purged
func NewEventLimiter(window time.Duration, max int, sweepInterval time.Duration, logger *golog.Logger) *EventLimiter {
	return &EventLimiter{
		entries:       make(map[string]*limitEntry),
		window:        window,
		max:           max,
		logger:        logger,
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
	}
}

// Allow checks whether an event from a principal is within the rate limit.
// Returns true if allowed, false if throttled. A throttled event does not
// increment the counter.
func (el *EventLimiter) Allow(principalID, event string) bool {
	key := principalID + ":" + event
	now := time.Now()

	el.mu.Lock()
	defer el.mu.Unlock()

	entry, ok := el.entries[key]
	// No else needed: lazy initialization on first event for this key
	if !ok {
		el.entries[key] = &limitEntry{count: 1, windowStart: now}
		return true
	}

	// Window elapsed: reset the counter
	if now.Sub(entry.windowStart) > el.window {
		entry.count = 1
		entry.windowStart = now
		return true
	}

	if entry.count >= el.max {
		// No else needed: optional operation (warn log when a logger is configured)
		if el.logger != nil {
			el.logger.Warn("Rate limit exceeded",
				"principal_id", principalID,
				"event", event,
				"limit", el.max,
				"window", el.window,
				"component", "ratelimit")
		}
		return false
	}

	entry.count++
	return true
}

// RetryAfter returns the time in milliseconds until the window for the given
// key resets. Returns 0 when the key is unknown or already below the limit.
func (el *EventLimiter) RetryAfter(principalID, event string) int {
	key := principalID + ":" + event

	el.mu.Lock()
	defer el.mu.Unlock()

	entry, ok := el.entries[key]
	if !ok || entry.count < el.max {
		return 0
	}

	remaining := el.window - time.Since(entry.windowStart)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Milliseconds())
}

// Reset clears the rate limit state for a principal/event pair
func (el *EventLimiter) Reset(principalID, event string) {
	key := principalID + ":" + event
	el.mu.Lock()
	defer el.mu.Unlock()
	delete(el.entries, key)
}

// Sweep removes entries whose window started more than twice the window ago.
// Called periodically by the background sweep goroutine; exported so tests
// can trigger it directly.
func (el *EventLimiter) Sweep() {
	now := time.Now()

	el.mu.Lock()
	defer el.mu.Unlock()

	for key, entry := range el.entries {
		if now.Sub(entry.windowStart) > 2*el.window {
			delete(el.entries, key)
		}
	}
}

// EntryCount returns the number of tracked (principal, event) entries
func (el *EventLimiter) EntryCount() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.entries)
}

// StartSweep starts a background goroutine that periodically purges idle entries
func (el *EventLimiter) StartSweep() {
	el.sweepWg.Add(1)
	go func() {
		defer el.sweepWg.Done()
		ticker := time.NewTicker(el.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				el.Sweep()
			case <-el.stopSweep:
				return
			}
		}
	}()
}

// StopSweep stops the sweep goroutine and waits for it to finish.
// Safe to call more than once.
func (el *EventLimiter) StopSweep() {
	el.stopOnce.Do(func() {
		close(el.stopSweep)
	})
	el.sweepWg.Wait()
}
