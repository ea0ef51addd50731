package framebus

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Bus distributes values to multiple subscribers with a drop-new policy.
type Bus[T any] interface {
	// Subscribe registers a channel to receive published values.
	// Returns error if id already exists, ch is nil, or the bus is closed.
	Subscribe(id string, ch chan<- T) error

	// Unsubscribe removes a subscriber by id.
	// Returns error if id not found or if bus is closed.
	Unsubscribe(id string) error

	// Publish sends v to all subscribers (non-blocking) and returns how many received it.
	// Subscribers whose channels are full miss the value; it is counted as dropped.
	// Publish on a closed bus delivers nothing.
	Publish(v T) int

	// Stats returns current bus statistics snapshot.
	Stats() BusStats

	// Close stops the bus and prevents further operations.
	// Subsequent Subscribe/Unsubscribe return ErrBusClosed.
	Close() error
}

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("framebus: subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with unknown id.
	ErrSubscriberNotFound = errors.New("framebus: subscriber id not found")

	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("framebus: bus is closed")

	// ErrNilChannel is returned when Subscribe is given a nil channel.
	ErrNilChannel = errors.New("framebus: subscriber channel cannot be nil")
)

// BusStats contains global and per-subscriber metrics.
type BusStats struct {
	// TotalPublished is the number of Publish() calls
	TotalPublished uint64

	// TotalSent is the sum of values sent to all subscribers
	TotalSent uint64

	// TotalDropped is the sum of values dropped across all subscribers
	TotalDropped uint64

	// AfterClose counts Publish calls made after Close
	AfterClose uint64

	// Subscribers contains per-subscriber breakdown
	Subscribers map[string]SubscriberStats
}

// SubscriberStats tracks metrics for a single subscriber.
type SubscriberStats struct {
	// Sent is the number of values successfully sent to this subscriber
	Sent uint64

	// Dropped is the number of values dropped due to a full channel
	Dropped uint64
}

type subscriber[T any] struct {
	ch      chan<- T
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber[T]
	closed      bool

	totalPublished atomic.Uint64
	afterClose     atomic.Uint64
}

// New creates a new Bus for values of type T.
func New[T any]() Bus[T] {
	return &bus[T]{
		subscribers: make(map[string]*subscriber[T]),
	}
}

// Subscribe registers a channel to receive values.
func (b *bus[T]) Subscribe(id string, ch chan<- T) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber[T]{ch: ch}
	return nil
}

// Unsubscribe removes a subscriber by id.
func (b *bus[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}

	delete(b.subscribers, id)
	return nil
}

// Publish sends v to all subscribers (non-blocking).
//
// For each subscriber:
//   - If channel has space: value is sent, Sent counter incremented
//   - If channel is full: value is dropped, Dropped counter incremented
//
// This method never blocks, even if all subscribers are slow.
func (b *bus[T]) Publish(v T) int {
	b.totalPublished.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.afterClose.Add(1)
		return 0
	}

	delivered := 0
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- v:
			sub.sent.Add(1)
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// Stats returns current bus statistics snapshot.
//
// Concurrent Publish operations may increment counters after Stats() returns.
func (b *bus[T]) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := BusStats{
		TotalPublished: b.totalPublished.Load(),
		AfterClose:     b.afterClose.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}

	for id, sub := range b.subscribers {
		sent := sub.sent.Load()
		dropped := sub.dropped.Load()

		result.TotalSent += sent
		result.TotalDropped += dropped
		result.Subscribers[id] = SubscriberStats{Sent: sent, Dropped: dropped}
	}

	return result
}

// Close stops the bus.
//
// Close does NOT close subscriber channels; each subscriber owns its channel.
// Idempotent.
func (b *bus[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}
