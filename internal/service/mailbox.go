package service

import "sync"

// mailbox is a single-slot channel where a newer value replaces an
// undelivered one. Values are never reordered, only coalesced.
type mailbox[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{ch: make(chan T, 1)}
}

func (m *mailbox[T]) C() <-chan T {
	return m.ch
}

func (m *mailbox[T]) put(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	select {
	case <-m.ch:
	default:
	}
	m.ch <- v
	return true
}

// close drops any undelivered value so nothing is received after it returns.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	select {
	case <-m.ch:
	default:
	}
	close(m.ch)
}
