package feed

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/streamroom/internal/domain"
)

const defaultSubscriberBuffer = 64

type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	clock       func() time.Time
	buffer      int
	provisional bool
}

func WithClock(clock func() time.Time) MemoryOption {
	return func(o *memoryOptions) { o.clock = clock }
}

func WithSubscriberBuffer(n int) MemoryOption {
	return func(o *memoryOptions) { o.buffer = n }
}

// WithProvisionalEcho makes Append publish a pending copy of each message
// before the confirmed one, the way latency-compensated document stores do.
func WithProvisionalEcho() MemoryOption {
	return func(o *memoryOptions) { o.provisional = true }
}

func buildMemoryOptions(opts []MemoryOption) memoryOptions {
	o := memoryOptions{clock: time.Now, buffer: defaultSubscriberBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type chatRoom struct {
	messages []domain.ChatMessage
	subs     map[*stream[ChatEvent]]struct{}
}

// MemoryChatFeed is a process-local chat feed. Messages are kept for the
// lifetime of the feed.
type MemoryChatFeed struct {
	mu    sync.Mutex
	opts  memoryOptions
	rooms map[string]*chatRoom
	last  time.Time
	fail  error
}

func NewMemoryChatFeed(opts ...MemoryOption) *MemoryChatFeed {
	return &MemoryChatFeed{
		opts:  buildMemoryOptions(opts),
		rooms: make(map[string]*chatRoom),
	}
}

// FailAppends makes every Append return err until called with nil.
func (f *MemoryChatFeed) FailAppends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *MemoryChatFeed) Append(ctx context.Context, draft domain.ChatDraft) (domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChatMessage{}, err
	}
	if draft.RoomID == "" {
		return domain.ChatMessage{}, ErrRoomRequired
	}

	f.mu.Lock()
	if f.fail != nil {
		err := f.fail
		f.mu.Unlock()
		return domain.ChatMessage{}, err
	}

	room := f.room(draft.RoomID)
	id := uuid.NewString()
	var slow []*stream[ChatEvent]

	if f.opts.provisional {
		pending := draft.Message(id, f.opts.clock())
		pending.Pending = true
		slow = append(slow, f.publish(room, pending)...)
	}

	msg := draft.Message(id, f.nextTimestamp())
	room.messages = append(room.messages, msg)
	slow = append(slow, f.publish(room, msg)...)
	f.mu.Unlock()

	for _, s := range slow {
		s.finish(ErrSlowConsumer)
	}
	return msg, nil
}

func (f *MemoryChatFeed) Subscribe(ctx context.Context, roomID string, limit int) (Subscription[ChatEvent], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, ErrRoomRequired
	}
	if limit <= 0 {
		limit = domain.ChatWindowSize
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	room := f.room(roomID)
	start := max(len(room.messages)-limit, 0)
	snapshot := slices.Clone(room.messages[start:])

	var s *stream[ChatEvent]
	var stop func() bool
	s = newStream[ChatEvent](f.opts.buffer, func() {
		f.mu.Lock()
		delete(room.subs, s)
		f.mu.Unlock()
		stop()
	})
	stop = context.AfterFunc(ctx, func() { s.finish(ctx.Err()) })

	s.push(ChatEvent{Kind: EventSnapshot, Messages: snapshot})
	room.subs[s] = struct{}{}
	return s, nil
}

// Drop ends every live subscription on the room with ErrDisconnected.
func (f *MemoryChatFeed) Drop(roomID string) {
	f.mu.Lock()
	room, ok := f.rooms[roomID]
	var subs []*stream[ChatEvent]
	if ok {
		for s := range room.subs {
			subs = append(subs, s)
		}
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.finish(ErrDisconnected)
	}
}

// Subscribers reports the number of live subscriptions on a room.
func (f *MemoryChatFeed) Subscribers(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[roomID]; ok {
		return len(room.subs)
	}
	return 0
}

func (f *MemoryChatFeed) room(roomID string) *chatRoom {
	room, ok := f.rooms[roomID]
	if !ok {
		room = &chatRoom{subs: make(map[*stream[ChatEvent]]struct{})}
		f.rooms[roomID] = room
	}
	return room
}

func (f *MemoryChatFeed) publish(room *chatRoom, msg domain.ChatMessage) []*stream[ChatEvent] {
	var slow []*stream[ChatEvent]
	event := ChatEvent{Kind: EventUpsert, Messages: []domain.ChatMessage{msg}}
	for s := range room.subs {
		if !s.push(event) {
			slow = append(slow, s)
		}
	}
	return slow
}

func (f *MemoryChatFeed) nextTimestamp() time.Time {
	now := f.opts.clock().UTC()
	if !now.After(f.last) {
		now = f.last.Add(time.Nanosecond)
	}
	f.last = now
	return now
}

type presenceRoom struct {
	participants map[string]domain.Participant
	subs         map[*stream[PresenceEvent]]struct{}
}

// MemoryPresenceFeed is a process-local presence feed.
type MemoryPresenceFeed struct {
	mu    sync.Mutex
	opts  memoryOptions
	rooms map[string]*presenceRoom
}

func NewMemoryPresenceFeed(opts ...MemoryOption) *MemoryPresenceFeed {
	return &MemoryPresenceFeed{
		opts:  buildMemoryOptions(opts),
		rooms: make(map[string]*presenceRoom),
	}
}

func (f *MemoryPresenceFeed) Announce(ctx context.Context, roomID string, participant domain.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if roomID == "" {
		return ErrRoomRequired
	}

	f.mu.Lock()
	room := f.room(roomID)
	now := f.opts.clock().UTC()
	if existing, ok := room.participants[participant.UID]; ok {
		participant.JoinedAt = existing.JoinedAt
	} else if participant.JoinedAt.IsZero() {
		participant.JoinedAt = now
	}
	participant.Online = true
	participant.LastSeen = now
	room.participants[participant.UID] = participant
	slow := f.publish(room, participant)
	f.mu.Unlock()

	for _, s := range slow {
		s.finish(ErrSlowConsumer)
	}
	return nil
}

func (f *MemoryPresenceFeed) Depart(ctx context.Context, roomID string, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	room, ok := f.rooms[roomID]
	if !ok {
		f.mu.Unlock()
		return nil
	}
	participant, ok := room.participants[uid]
	if !ok || !participant.Online {
		f.mu.Unlock()
		return nil
	}
	participant.Online = false
	participant.LastSeen = f.opts.clock().UTC()
	room.participants[uid] = participant
	slow := f.publish(room, participant)
	f.mu.Unlock()

	for _, s := range slow {
		s.finish(ErrSlowConsumer)
	}
	return nil
}

func (f *MemoryPresenceFeed) Subscribe(ctx context.Context, roomID string) (Subscription[PresenceEvent], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, ErrRoomRequired
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	room := f.room(roomID)
	snapshot := make([]domain.Participant, 0, len(room.participants))
	for _, p := range room.participants {
		snapshot = append(snapshot, p)
	}
	slices.SortFunc(snapshot, domain.CompareParticipants)

	var s *stream[PresenceEvent]
	var stop func() bool
	s = newStream[PresenceEvent](f.opts.buffer, func() {
		f.mu.Lock()
		delete(room.subs, s)
		f.mu.Unlock()
		stop()
	})
	stop = context.AfterFunc(ctx, func() { s.finish(ctx.Err()) })

	s.push(PresenceEvent{Kind: EventSnapshot, Participants: snapshot})
	room.subs[s] = struct{}{}
	return s, nil
}

// Drop ends every live subscription on the room with ErrDisconnected.
func (f *MemoryPresenceFeed) Drop(roomID string) {
	f.mu.Lock()
	room, ok := f.rooms[roomID]
	var subs []*stream[PresenceEvent]
	if ok {
		for s := range room.subs {
			subs = append(subs, s)
		}
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.finish(ErrDisconnected)
	}
}

func (f *MemoryPresenceFeed) Subscribers(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[roomID]; ok {
		return len(room.subs)
	}
	return 0
}

func (f *MemoryPresenceFeed) room(roomID string) *presenceRoom {
	room, ok := f.rooms[roomID]
	if !ok {
		room = &presenceRoom{
			participants: make(map[string]domain.Participant),
			subs:         make(map[*stream[PresenceEvent]]struct{}),
		}
		f.rooms[roomID] = room
	}
	return room
}

func (f *MemoryPresenceFeed) publish(room *presenceRoom, p domain.Participant) []*stream[PresenceEvent] {
	var slow []*stream[PresenceEvent]
	event := PresenceEvent{Kind: EventUpsert, Participants: []domain.Participant{p}}
	for s := range room.subs {
		if !s.push(event) {
			slow = append(slow, s)
		}
	}
	return slow
}
