// Package framering implements a bounded drop-oldest FIFO shared between one producer
// and one consumer.
//
// Philosophy: "Drop the oldest, never block the producer."
//
// Design:
//   - Push never blocks; at capacity the oldest unit is evicted
//   - Pop blocks on a sync.Cond until a unit arrives, the context ends or Close is called
//   - TryPop is the non-blocking variant for loops paced by their own timer
//   - A single mutex guards the ring; counters are atomic so Stats never waits on it
package framering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Pop once the ring is closed and drained.
var ErrClosed = errors.New("framering: ring is closed")

// Ring is a fixed-capacity FIFO that evicts the oldest element on overflow.
//
// Invariants:
//   - Len() <= Cap() at all times
//   - after any push sequence the retained elements are the Cap() most recent, in
//     push order
//
// Thread-safety: all methods are safe for concurrent use.
type Ring[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // index of the oldest element
	size   int
	closed bool

	pushed  atomic.Uint64
	popped  atomic.Uint64
	evicted atomic.Uint64
}

// Stats is a snapshot of ring counters.
type Stats struct {
	Pushed  uint64
	Popped  uint64
	Evicted uint64
	Len     int
	Cap     int
}

// New creates a ring holding at most capacity elements.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("framering: capacity must be >= 1, got %d", capacity)
	}
	r := &Ring[T]{buf: make([]T, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r, nil
}

// Push appends v, evicting the oldest element when the ring is full.
//
// Returns true when an element was evicted. Push on a closed ring is a no-op that
// reports no eviction.
func (r *Ring[T]) Push(v T) (evicted bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}

	if r.size == len(r.buf) {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		evicted = true
		r.evicted.Add(1)
	}

	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	r.pushed.Add(1)

	r.cond.Signal()
	r.mu.Unlock()
	return evicted
}

// popLocked removes the oldest element. Caller holds mu and has checked size > 0.
func (r *Ring[T]) popLocked() T {
	v := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	r.popped.Add(1)
	return v
}

// TryPop removes and returns the oldest element without blocking.
func (r *Ring[T]) TryPop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.popLocked(), true
}

// Pop removes and returns the oldest element, blocking until one is available.
//
// Returns ctx.Err() if the context ends first, or ErrClosed if the ring is closed and
// empty. Elements pushed before Close are still delivered.
func (r *Ring[T]) Pop(ctx context.Context) (T, error) {
	// Wake the waiter when the context ends. The broadcast is taken under mu so it
	// cannot slip in between the ctx check and cond.Wait below.
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.size == 0 {
		if r.closed {
			var zero T
			return zero, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		r.cond.Wait()
	}
	return r.popLocked(), nil
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Reset discards all buffered elements. Discarded elements are not counted as evicted.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}

// Close stops accepting pushes and wakes blocked Pop calls.
//
// Idempotent: safe to call multiple times.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.cond.Broadcast()
}

// Stats returns a snapshot of the ring counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Pushed:  r.pushed.Load(),
		Popped:  r.popped.Load(),
		Evicted: r.evicted.Load(),
		Len:     r.Len(),
		Cap:     r.Cap(),
	}
}
