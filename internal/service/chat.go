package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/feed"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
)

// ChatUpdate is a full, ordered view of a room's chat window.
type ChatUpdate struct {
	RoomID   string
	Messages []domain.ChatMessage
	State    FeedState
	Err      error
}

type ChatOption func(*ChatStream)

func WithChatWindow(size int) ChatOption {
	return func(s *ChatStream) {
		if size > 0 {
			s.window = size
		}
	}
}

func WithMaxMessageLength(n int) ChatOption {
	return func(s *ChatStream) {
		if n > 0 {
			s.maxLength = n
		}
	}
}

func WithChatRetry(policy RetryPolicy) ChatOption {
	return func(s *ChatStream) { s.retry = policy }
}

type ChatStream struct {
	feed      feed.ChatFeed
	window    int
	maxLength int
	retry     RetryPolicy
	log       *slog.Logger
}

func NewChatStream(f feed.ChatFeed, log *slog.Logger, opts ...ChatOption) *ChatStream {
	if log == nil {
		log = slog.Default()
	}
	s := &ChatStream{
		feed:      f,
		window:    domain.ChatWindowSize,
		maxLength: domain.MaxChatMessageLength,
		retry:     DefaultRetryPolicy(),
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open subscribes to the room's chat feed. It returns immediately; the window
// arrives on Updates once the feed delivers its snapshot.
func (s *ChatStream) Open(ctx context.Context, roomID string) (*ChatSubscription, error) {
	const op = "service.chat.open"

	if !domain.ValidRoomID(roomID) {
		return nil, ErrInvalidRoomID
	}

	log := s.log.With(slog.String("op", op), slog.String("room_id", roomID))

	sub := &ChatSubscription{roomID: roomID, window: chatWindow{size: s.window}}
	sub.live = startLive(ctx, log, s.retry,
		func(ctx context.Context) (feed.Subscription[feed.ChatEvent], error) {
			return s.feed.Subscribe(ctx, roomID, s.window)
		},
		sub.apply,
		sub.view,
	)

	log.Debug("chat subscription opened")
	return sub, nil
}

// Send validates and appends one message. It never retries; a failed send
// leaves the caller free to try again.
func (s *ChatStream) Send(ctx context.Context, roomID string, author *domain.User, text string) (domain.ChatMessage, error) {
	const op = "service.chat.send"

	if author == nil || author.UID == "" {
		return domain.ChatMessage{}, &SendError{Reason: SendUnauthenticated, Err: ErrUnauthenticated}
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return domain.ChatMessage{}, &SendError{Reason: SendEmpty}
	}
	if utf8.RuneCountInString(trimmed) > s.maxLength {
		return domain.ChatMessage{}, &SendError{Reason: SendTooLong}
	}
	if !domain.ValidRoomID(roomID) {
		return domain.ChatMessage{}, &SendError{Reason: SendRejected, Err: ErrInvalidRoomID}
	}

	log := s.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID),
		slog.String("uid", author.UID),
	)

	msg, err := s.feed.Append(ctx, domain.NewChatDraft(roomID, author, trimmed))
	if err != nil {
		log.Error("failed to append chat message", sl.Err(err))
		return domain.ChatMessage{}, &SendError{Reason: SendRejected, Err: err}
	}

	log.Debug("chat message sent", slog.String("message_id", msg.ID))
	return msg, nil
}

// ChatSubscription is a live chat window for one room.
type ChatSubscription struct {
	roomID string
	window chatWindow
	live   *live[feed.ChatEvent, ChatUpdate]
}

func (s *ChatSubscription) RoomID() string {
	return s.roomID
}

// Updates delivers the latest window. Intermediate windows may be skipped.
// The channel is closed by Close.
func (s *ChatSubscription) Updates() <-chan ChatUpdate {
	return s.live.box.C()
}

func (s *ChatSubscription) Current() ChatUpdate {
	return s.live.current()
}

// Close is idempotent; once it returns nothing more is delivered.
func (s *ChatSubscription) Close() error {
	s.live.close()
	return nil
}

func (s *ChatSubscription) apply(e feed.ChatEvent) {
	if e.Kind == feed.EventSnapshot {
		s.window.reset(e.Messages)
		return
	}
	s.window.upsert(e.Messages)
}

func (s *ChatSubscription) view(state FeedState, err error) ChatUpdate {
	return ChatUpdate{
		RoomID:   s.roomID,
		Messages: slices.Clone(s.window.messages),
		State:    state,
		Err:      err,
	}
}

// chatWindow holds at most size messages ordered by CreatedAt then ID.
type chatWindow struct {
	size     int
	messages []domain.ChatMessage
}

func (w *chatWindow) reset(msgs []domain.ChatMessage) {
	w.messages = w.messages[:0]
	w.upsert(msgs)
}

func (w *chatWindow) upsert(msgs []domain.ChatMessage) {
	for _, m := range msgs {
		i := slices.IndexFunc(w.messages, func(x domain.ChatMessage) bool { return x.ID == m.ID })
		if i >= 0 {
			w.messages[i] = m
			continue
		}
		w.messages = append(w.messages, m)
	}
	slices.SortFunc(w.messages, domain.CompareChatMessages)

	if n := len(w.messages); n > w.size {
		w.messages = slices.Clone(w.messages[n-w.size:])
	}
}
