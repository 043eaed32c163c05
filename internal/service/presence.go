package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/feed"
)

// PresenceUpdate is the full room roster in arrival order.
type PresenceUpdate struct {
	RoomID       string
	Participants []domain.Participant
	Online       int
	State        FeedState
	Err          error
}

type presenceKey struct {
	roomID string
	uid    string
}

// PresenceTracker counts local connections per user and room; a user only
// goes offline when their last connection to the room departs.
type PresenceTracker struct {
	feed  feed.PresenceFeed
	retry RetryPolicy
	log   *slog.Logger

	mu    sync.Mutex
	conns map[presenceKey]int
}

func NewPresenceTracker(f feed.PresenceFeed, retry RetryPolicy, log *slog.Logger) *PresenceTracker {
	if log == nil {
		log = slog.Default()
	}
	return &PresenceTracker{feed: f, retry: retry, log: log, conns: make(map[presenceKey]int)}
}

func (t *PresenceTracker) Open(ctx context.Context, roomID string) (*PresenceSubscription, error) {
	const op = "service.presence.open"

	if !domain.ValidRoomID(roomID) {
		return nil, ErrInvalidRoomID
	}

	log := t.log.With(slog.String("op", op), slog.String("room_id", roomID))

	sub := &PresenceSubscription{roomID: roomID, roster: make(map[string]domain.Participant)}
	sub.live = startLive(ctx, log, t.retry,
		func(ctx context.Context) (feed.Subscription[feed.PresenceEvent], error) {
			return t.feed.Subscribe(ctx, roomID)
		},
		sub.apply,
		sub.view,
	)
	return sub, nil
}

// Announce marks user online in the room and counts one more connection
// for them, even when the feed write fails.
func (t *PresenceTracker) Announce(ctx context.Context, roomID string, user *domain.User) error {
	const op = "service.presence.announce"

	if user == nil {
		return ErrUnauthenticated
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.conns[presenceKey{roomID, user.UID}]++
	if err := t.feed.Announce(ctx, roomID, domain.NewParticipant(user)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Depart releases one connection of uid and marks them offline once none
// remain. The participant stays on the roster.
func (t *PresenceTracker) Depart(ctx context.Context, roomID, uid string) error {
	const op = "service.presence.depart"

	t.mu.Lock()
	defer t.mu.Unlock()

	key := presenceKey{roomID, uid}
	if n := t.conns[key]; n > 1 {
		t.conns[key] = n - 1
		t.log.Debug("participant still connected",
			slog.String("op", op),
			slog.String("room_id", roomID),
			slog.String("uid", uid),
			slog.Int("connections", n-1),
		)
		return nil
	}
	delete(t.conns, key)

	if err := t.feed.Depart(ctx, roomID, uid); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type PresenceSubscription struct {
	roomID string
	roster map[string]domain.Participant
	live   *live[feed.PresenceEvent, PresenceUpdate]
}

func (s *PresenceSubscription) RoomID() string {
	return s.roomID
}

func (s *PresenceSubscription) Updates() <-chan PresenceUpdate {
	return s.live.box.C()
}

func (s *PresenceSubscription) Current() PresenceUpdate {
	return s.live.current()
}

func (s *PresenceSubscription) Close() error {
	s.live.close()
	return nil
}

func (s *PresenceSubscription) apply(e feed.PresenceEvent) {
	if e.Kind == feed.EventSnapshot {
		clear(s.roster)
	}
	for _, p := range e.Participants {
		s.roster[p.UID] = p
	}
}

func (s *PresenceSubscription) view(state FeedState, err error) PresenceUpdate {
	participants := make([]domain.Participant, 0, len(s.roster))
	online := 0
	for _, p := range s.roster {
		participants = append(participants, p)
		if p.Online {
			online++
		}
	}
	slices.SortFunc(participants, domain.CompareParticipants)

	return PresenceUpdate{
		RoomID:       s.roomID,
		Participants: participants,
		Online:       online,
		State:        state,
		Err:          err,
	}
}
