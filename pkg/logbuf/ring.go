// Package logbuf holds the supervisor's bounded in-memory logs: a generic
// FIFO ring that evicts its oldest element on push, the operational log
// entry type, and the filter applied when reading logs back.
package logbuf

import "sync"

// Ring is a bounded FIFO buffer. When full, the oldest element is evicted to
// make room for the new one. It is safe for concurrent use.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	cap   int
}

// NewRing creates a ring with the given maximum capacity (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	capacity = max(capacity, 1)
	return &Ring[T]{
		items: make([]T, 0, capacity),
		cap:   capacity,
	}
}

// Push appends v, evicting the oldest element if the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) >= r.cap {
		copy(r.items, r.items[1:])
		r.items[len(r.items)-1] = v
	} else {
		r.items = append(r.items, v)
	}
}

// Snapshot returns a copy of the contents, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Newest returns up to n elements that satisfy keep, newest first. A nil
// keep accepts everything.
func (r *Ring[T]) Newest(n int, keep func(T) bool) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, min(n, len(r.items)))
	for i := len(r.items) - 1; i >= 0 && len(out) < n; i-- {
		if keep == nil || keep(r.items[i]) {
			out = append(out, r.items[i])
		}
	}
	return out
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
