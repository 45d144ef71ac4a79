// Package buffer provides a bounded ring used for per-session stroke history.
package buffer

import (
	"sync"
)

// Ring is a thread-safe bounded sequence that keeps the most recent items up to
// a fixed capacity. When the ring is full, the oldest item is discarded to make
// room for the new one.
//
// This is used for the canvas stroke history, so a reconnecting device receives
// the latest strokes in a snapshot without the history growing without bound.
type Ring[T any] struct {
	items    []T
	start    int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewRing creates a new Ring with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// NewRingFrom creates a Ring and pushes the given items in order. If there are
// more items than capacity, only the last capacity items are kept.
func NewRingFrom[T any](capacity int, items []T) *Ring[T] {
	r := NewRing[T](capacity)
	r.Push(items...)
	return r
}

// Push appends items in order, evicting the oldest entries on overflow.
// It returns the number of items evicted.
func (r *Ring[T]) Push(items ...T) int {
	if len(items) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for _, item := range items {
		end := (r.start + r.size) % r.capacity
		r.items[end] = item
		if r.size < r.capacity {
			r.size++
			continue
		}
		// Full: the slot we just wrote was the oldest one.
		r.start = (r.start + 1) % r.capacity
		evicted++
	}
	return evicted
}

// Items returns a copy of the items in insertion order, oldest first.
// The returned slice is never nil.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		result[i] = r.items[(r.start+i)%r.capacity]
	}
	return result
}

// Len returns the current number of items in the ring.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.size
}

// Cap returns the capacity of the ring.
func (r *Ring[T]) Cap() int {
	return r.capacity
}
