package engine

import (
	"context"
	"sync"
)

// Mailbox is a single-slot channel that keeps only the newest value. A Put that
// finds an unconsumed value replaces it, so the producer never blocks and the
// consumer always sees the freshest state. Values that are replaced are lost.
//
// Any number of producers may call Put. A single consumer is expected.
type Mailbox[T any] struct {
	mu sync.Mutex
	ch chan T
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1)}
}

// Put stores v and reports whether it replaced a value the consumer had not yet
// taken.
func (m *Mailbox[T]) Put(v T) (replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.ch:
		replaced = true
	default:
	}
	// The slot is empty and only Put sends, so this cannot block.
	m.ch <- v
	return replaced
}

// Take blocks until a value is available or ctx is done.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	select {
	case v := <-m.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryTake returns the pending value, if any, without blocking.
func (m *Mailbox[T]) TryTake() (T, bool) {
	select {
	case v := <-m.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// C exposes the slot for use in a select statement.
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}
