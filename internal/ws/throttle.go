package ws

import (
	"sync"
	"time"
)

// StrokeThrottle limits how often one connection may send strokes.
type StrokeThrottle struct {
	interval time.Duration
	mu       sync.Mutex
	last     map[string]time.Time
}

// NewStrokeThrottle creates a throttle that admits one stroke per interval per connection.
func NewStrokeThrottle(interval time.Duration) *StrokeThrottle {
	return &StrokeThrottle{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether a stroke from connID at now may proceed, and records
// now as the last accepted stroke when it may.
func (t *StrokeThrottle) Allow(connID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[connID]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[connID] = now
	return true
}

// Forget drops the connection's entry.
func (t *StrokeThrottle) Forget(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, connID)
}

// Len returns the number of tracked connections.
func (t *StrokeThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}
