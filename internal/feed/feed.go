// Package feed holds the real-time room feeds: the ordered chat message feed
// and the presence feed. Both deliver a full snapshot on subscribe followed by
// upserts, in the order the feed observed them.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/immxrtalbeast/streamroom/internal/domain"
)

var (
	ErrSlowConsumer = errors.New("feed subscriber fell behind")
	ErrDisconnected = errors.New("feed disconnected")
	ErrRoomRequired = errors.New("room id is required")
)

type EventKind int

const (
	EventSnapshot EventKind = iota
	EventUpsert
)

func (k EventKind) String() string {
	if k == EventSnapshot {
		return "snapshot"
	}
	return "upsert"
}

type ChatEvent struct {
	Kind     EventKind
	Messages []domain.ChatMessage
}

type PresenceEvent struct {
	Kind         EventKind
	Participants []domain.Participant
}

// Subscription is a live feed subscription. Events is closed when the
// subscription ends; Err then reports why (nil after Close).
type Subscription[E any] interface {
	Events() <-chan E
	Err() error
	Close() error
}

type ChatFeed interface {
	Append(ctx context.Context, draft domain.ChatDraft) (domain.ChatMessage, error)
	Subscribe(ctx context.Context, roomID string, limit int) (Subscription[ChatEvent], error)
}

type PresenceFeed interface {
	Announce(ctx context.Context, roomID string, participant domain.Participant) error
	Depart(ctx context.Context, roomID string, uid string) error
	Subscribe(ctx context.Context, roomID string) (Subscription[PresenceEvent], error)
}

type stream[E any] struct {
	mu      sync.Mutex
	events  chan E
	err     error
	closed  bool
	onClose func()
}

func newStream[E any](buffer int, onClose func()) *stream[E] {
	if buffer < 1 {
		buffer = 1
	}
	return &stream[E]{
		events:  make(chan E, buffer),
		onClose: onClose,
	}
}

func (s *stream[E]) Events() <-chan E {
	return s.events
}

func (s *stream[E]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream[E]) Close() error {
	s.finish(nil)
	return nil
}

// push never blocks; it reports false when the subscriber is full or gone.
func (s *stream[E]) push(e E) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

func (s *stream[E]) finish(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose()
	}
}
