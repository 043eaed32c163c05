package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/feed"
	"github.com/immxrtalbeast/streamroom/lib/logger/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCountingFeed(opts ...feed.MemoryOption) *countingChatFeed {
	opts = append([]feed.MemoryOption{feed.WithSubscriberBuffer(1024)}, opts...)
	return &countingChatFeed{MemoryChatFeed: feed.NewMemoryChatFeed(opts...)}
}

func isSorted(msgs []domain.ChatMessage) bool {
	return slices.IsSortedFunc(msgs, domain.CompareChatMessages)
}

func TestChatStream_SendValidation(t *testing.T) {
	f := newCountingFeed()
	s := NewChatStream(f, slogdiscard.NewDiscardLogger())
	user := &domain.User{UID: "u1", Role: domain.RoleViewer}

	tests := []struct {
		name   string
		author *domain.User
		text   string
		reason SendReason
	}{
		{name: "empty", author: user, text: "", reason: SendEmpty},
		{name: "blank", author: user, text: " ", reason: SendEmpty},
		{name: "whitespace only", author: user, text: "\n\t ", reason: SendEmpty},
		{name: "too long", author: user, text: strings.Repeat("x", 501), reason: SendTooLong},
		{name: "no author", author: nil, text: "hello", reason: SendUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Send(context.Background(), "r1", tt.author, tt.text)
			var sendErr *SendError
			require.ErrorAs(t, err, &sendErr)
			assert.Equal(t, tt.reason, sendErr.Reason)
		})
	}
	assert.Zero(t, f.Appends(), "rejected sends must not reach the feed")

	msg, err := s.Send(context.Background(), "r1", user, strings.Repeat("я", 500))
	require.NoError(t, err)
	assert.Equal(t, 500, len([]rune(msg.Text)))
	assert.Equal(t, 1, f.Appends())
}

func TestChatStream_SendTrimsAndReportsFeedFailure(t *testing.T) {
	f := newCountingFeed()
	s := NewChatStream(f, slogdiscard.NewDiscardLogger())
	user := &domain.User{UID: "u1", DisplayName: "Alex", Role: domain.RoleBroadcaster}

	msg, err := s.Send(context.Background(), "r1", user, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "Alex", msg.AuthorDisplayName)
	assert.Equal(t, domain.RoleBroadcaster, msg.AuthorRole)

	f.FailAppends(errBoom)
	_, err = s.Send(context.Background(), "r1", user, "again")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, SendRejected, sendErr.Reason)
	assert.ErrorIs(t, err, errBoom)
}

func TestChatStream_OpenDeliversWindow(t *testing.T) {
	ctx := context.Background()
	f := newCountingFeed()
	s := NewChatStream(f, slogdiscard.NewDiscardLogger())
	user := &domain.User{UID: "u1", Role: domain.RoleViewer}

	sub, err := s.Open(ctx, "abcd1234")
	require.NoError(t, err)
	defer sub.Close()

	first := waitFor(t, sub.Updates(), func(u ChatUpdate) bool { return u.State == FeedLive })
	assert.Empty(t, first.Messages)

	_, err = s.Send(ctx, "abcd1234", user, "hello")
	require.NoError(t, err)

	got := waitFor(t, sub.Updates(), func(u ChatUpdate) bool { return len(u.Messages) == 1 })
	assert.Equal(t, "hello", got.Messages[0].Text)
	assert.Equal(t, "u1", got.Messages[0].AuthorUID)
	assert.Equal(t, "abcd1234", got.RoomID)
}

func TestChatStream_WindowIsCappedAndOrdered(t *testing.T) {
	ctx := context.Background()
	f := newCountingFeed()
	s := NewChatStream(f, slogdiscard.NewDiscardLogger())
	user := &domain.User{UID: "u1", Role: domain.RoleViewer}

	sub, err := s.Open(ctx, "r1")
	require.NoError(t, err)
	defer sub.Close()

	var sent []domain.ChatMessage
	for i := 0; i < 250; i++ {
		msg, err := s.Send(ctx, "r1", user, fmt.Sprintf("m%03d", i))
		require.NoError(t, err)
		sent = append(sent, msg)
	}

	final := waitFor(t, sub.Updates(), func(u ChatUpdate) bool {
		assert.LessOrEqual(t, len(u.Messages), 200)
		assert.True(t, isSorted(u.Messages))
		return len(u.Messages) == 200 && u.Messages[199].ID == sent[249].ID
	})

	for i, m := range final.Messages {
		assert.Equal(t, sent[50+i].ID, m.ID)
	}
}

func TestChatStream_ReconcilesProvisionalEntries(t *testing.T) {
	ctx := context.Background()
	f := newCountingFeed(feed.WithProvisionalEcho())
	s := NewChatStream(f, slogdiscard.NewDiscardLogger())
	user := &domain.User{UID: "u1", Role: domain.RoleViewer}

	sub, err := s.Open(ctx, "r1")
	require.NoError(t, err)
	defer sub.Close()
	waitFor(t, sub.Updates(), func(u ChatUpdate) bool { return u.State == FeedLive })

	msg, err := s.Send(ctx, "r1", user, "hi")
	require.NoError(t, err)

	got := waitFor(t, sub.Updates(), func(u ChatUpdate) bool {
		return len(u.Messages) == 1 && !u.Messages[0].Pending
	})
	assert.Equal(t, msg.ID, got.Messages[0].ID)
	assert.Equal(t, msg.CreatedAt, got.Messages[0].CreatedAt)
}

func TestChatStream_ConcurrentSendersSeeBothMessages(t *testing.T) {
	ctx := context.Background()
	f := newCountingFeed()
	s := NewChatStream(f, slogdiscard.NewDiscardLogger())

	a, err := s.Open(ctx, "r1")
	require.NoError(t, err)
	defer a.Close()
	b, err := s.Open(ctx, "r1")
	require.NoError(t, err)
	defer b.Close()

	var wg sync.WaitGroup
	for _, uid := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Send(ctx, "r1", &domain.User{UID: uid}, "hi from "+uid)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, sub := range []*ChatSubscription{a, b} {
		got := waitFor(t, sub.Updates(), func(u ChatUpdate) bool { return len(u.Messages) == 2 })
		assert.True(t, isSorted(got.Messages))
		authors := []string{got.Messages[0].AuthorUID, got.Messages[1].AuthorUID}
		assert.ElementsMatch(t, []string{"alice", "bob"}, authors)
	}
}

func TestChatStream_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newCountingFeed()
	s := NewChatStream(f, slogdiscard.NewDiscardLogger())

	sub, err := s.Open(ctx, "r1")
	require.NoError(t, err)
	waitFor(t, sub.Updates(), func(u ChatUpdate) bool { return u.State == FeedLive })

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	requireChanClosed(t, sub.Updates())

	_, err = s.Send(ctx, "r1", &domain.User{UID: "u1"}, "late")
	require.NoError(t, err)
	requireChanClosed(t, sub.Updates())
	assert.Equal(t, 0, f.Subscribers("r1"))
}

func TestChatStream_ResubscribesAfterDrop(t *testing.T) {
	ctx := context.Background()
	f := newCountingFeed()
	s := NewChatStream(f, slogdiscard.NewDiscardLogger(), WithChatRetry(fastRetry()))
	user := &domain.User{UID: "u1"}

	_, err := s.Send(ctx, "r1", user, "before")
	require.NoError(t, err)

	sub, err := s.Open(ctx, "r1")
	require.NoError(t, err)
	defer sub.Close()
	waitFor(t, sub.Updates(), func(u ChatUpdate) bool { return len(u.Messages) == 1 })

	f.Drop("r1")
	require.Eventually(t, func() bool { return f.Subscribers("r1") == 1 }, waitTimeout, time.Millisecond)

	_, err = s.Send(ctx, "r1", user, "after")
	require.NoError(t, err)

	got := waitFor(t, sub.Updates(), func(u ChatUpdate) bool { return len(u.Messages) == 2 })
	assert.Equal(t, FeedLive, got.State)
	assert.Equal(t, "after", got.Messages[1].Text)
}

func TestChatStream_GivesUpAfterBoundedRetries(t *testing.T) {
	f := &failingChatFeed{}
	s := NewChatStream(f, slogdiscard.NewDiscardLogger(), WithChatRetry(fastRetry()))

	sub, err := s.Open(context.Background(), "r1")
	require.NoError(t, err)
	defer sub.Close()

	got := waitFor(t, sub.Updates(), func(u ChatUpdate) bool { return u.State == FeedDisconnected })
	assert.ErrorIs(t, got.Err, ErrSubscriptionLost)
	assert.ErrorIs(t, got.Err, errBoom)
	assert.Equal(t, 3, f.Calls())
	assert.Equal(t, FeedDisconnected, sub.Current().State)
}

func TestChatStream_FlappingFeedExhaustsRetries(t *testing.T) {
	f := &flappingChatFeed{}
	policy := RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Second}
	s := NewChatStream(f, slogdiscard.NewDiscardLogger(), WithChatRetry(policy))

	sub, err := s.Open(context.Background(), "r1")
	require.NoError(t, err)
	defer sub.Close()

	got := waitFor(t, sub.Updates(), func(u ChatUpdate) bool { return u.State == FeedDisconnected })
	assert.ErrorIs(t, got.Err, ErrSubscriptionLost)
	assert.ErrorIs(t, got.Err, errBoom)
	assert.Equal(t, 4, f.Calls())
}

func TestChatStream_OpenRejectsBadRoomID(t *testing.T) {
	s := NewChatStream(newCountingFeed(), slogdiscard.NewDiscardLogger())

	for _, id := range []string{"", "a/b", "has space"} {
		_, err := s.Open(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidRoomID, id)
	}
}

func TestChatWindow_Upsert(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := func(id string, offset int) domain.ChatMessage {
		return domain.ChatMessage{ID: id, CreatedAt: base.Add(time.Duration(offset) * time.Second)}
	}

	w := chatWindow{size: 3}
	w.upsert([]domain.ChatMessage{msg("c", 2), msg("a", 1), msg("b", 1)})
	assert.Equal(t, []string{"a", "b", "c"}, ids(w.messages))

	w.upsert([]domain.ChatMessage{msg("a", 5)})
	assert.Equal(t, []string{"b", "c", "a"}, ids(w.messages), "upsert by id moves the entry")

	w.upsert([]domain.ChatMessage{msg("d", 6)})
	assert.Equal(t, []string{"c", "a", "d"}, ids(w.messages), "oldest is dropped first")

	w.upsert([]domain.ChatMessage{msg("old", 0)})
	assert.Equal(t, []string{"c", "a", "d"}, ids(w.messages))

	w.reset([]domain.ChatMessage{msg("z", 9)})
	assert.Equal(t, []string{"z"}, ids(w.messages))
}

func ids(msgs []domain.ChatMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
