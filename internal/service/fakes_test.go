package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/feed"
	"github.com/immxrtalbeast/streamroom/internal/repository"
	"github.com/immxrtalbeast/streamroom/lib/logger/slogdiscard"
	"github.com/stretchr/testify/require"
)

const (
	waitTimeout = 2 * time.Second
	waitPoll    = time.Millisecond
)

var errBoom = errors.New("boom")

type fakeTokens struct {
	mu    sync.Mutex
	fails int
	calls []tokenCall
}

type tokenCall struct {
	roomID, uid, name string
}

func (f *fakeTokens) IssueToken(_ context.Context, roomID, uid, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, tokenCall{roomID: roomID, uid: uid, name: name})
	if f.fails > 0 {
		f.fails--
		return "", errBoom
	}
	return "token:" + roomID + ":" + uid, nil
}

func (f *fakeTokens) Calls() []tokenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tokenCall(nil), f.calls...)
}

type fakeProvider struct {
	mu        sync.Mutex
	createErr error
	joinErr   error
	leaveErr  error
	gate      chan struct{}
	handles   []*fakeHandle
}

func (p *fakeProvider) CreateSession(_ context.Context, token string) (ConferenceHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.createErr != nil {
		return nil, p.createErr
	}
	h := &fakeHandle{
		token:    token,
		joinErr:  p.joinErr,
		leaveErr: p.leaveErr,
		gate:     p.gate,
		entered:  make(chan struct{}),
	}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakeProvider) Handles() []*fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeHandle(nil), p.handles...)
}

// Live counts handles that joined and were not left.
func (p *fakeProvider) Live() int {
	n := 0
	for _, h := range p.Handles() {
		if h.Joined() && h.Leaves() == 0 {
			n++
		}
	}
	return n
}

type fakeHandle struct {
	token    string
	joinErr  error
	leaveErr error
	gate     chan struct{}
	entered  chan struct{}

	mu     sync.Mutex
	joined bool
	leaves int
	opts   domain.JoinOptions
}

func (h *fakeHandle) Join(ctx context.Context, opts domain.JoinOptions) error {
	close(h.entered)
	if h.gate != nil {
		select {
		case <-h.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.opts = opts
	if h.joinErr != nil {
		return h.joinErr
	}
	h.joined = true
	return nil
}

func (h *fakeHandle) Leave(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaves++
	return h.leaveErr
}

func (h *fakeHandle) Joined() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.joined
}

func (h *fakeHandle) Leaves() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaves
}

func (h *fakeHandle) Options() domain.JoinOptions {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opts
}

// countingChatFeed records appends and can hold them until released.
type countingChatFeed struct {
	*feed.MemoryChatFeed

	mu      sync.Mutex
	appends int
	hold    chan struct{}
	entered chan struct{}
}

func (f *countingChatFeed) Append(ctx context.Context, draft domain.ChatDraft) (domain.ChatMessage, error) {
	f.mu.Lock()
	f.appends++
	hold, entered := f.hold, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if hold != nil {
		<-hold
	}
	return f.MemoryChatFeed.Append(ctx, draft)
}

func (f *countingChatFeed) Appends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appends
}

type failingChatFeed struct {
	mu    sync.Mutex
	calls int
}

func (f *failingChatFeed) Append(context.Context, domain.ChatDraft) (domain.ChatMessage, error) {
	return domain.ChatMessage{}, errBoom
}

func (f *failingChatFeed) Subscribe(context.Context, string, int) (feed.Subscription[feed.ChatEvent], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, errBoom
}

func (f *failingChatFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// flappingChatFeed accepts every subscription, delivers one snapshot and
// drops it straight away.
type flappingChatFeed struct {
	failingChatFeed
}

func (f *flappingChatFeed) Subscribe(_ context.Context, roomID string, _ int) (feed.Subscription[feed.ChatEvent], error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	events := make(chan feed.ChatEvent, 1)
	events <- feed.ChatEvent{Kind: feed.EventSnapshot, Messages: []domain.ChatMessage{{ID: "m1", RoomID: roomID}}}
	close(events)
	return droppedSubscription{events: events}, nil
}

type droppedSubscription struct {
	events chan feed.ChatEvent
}

func (s droppedSubscription) Events() <-chan feed.ChatEvent { return s.events }
func (s droppedSubscription) Err() error                    { return errBoom }
func (s droppedSubscription) Close() error                  { return nil }

type brokenProfiles struct {
	repository.ProfileRepository
}

func (brokenProfiles) GetByUID(context.Context, string) (*domain.Profile, error) {
	return nil, errBoom
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

// waitFor reads from ch until match accepts a value.
func waitFor[T any](t *testing.T, ch <-chan T, match func(T) bool) T {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case v, ok := <-ch:
			require.True(t, ok, "channel closed before a matching value arrived")
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for a matching value")
		}
	}
}

func requireChanClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "expected closed channel")
	case <-time.After(waitTimeout):
		t.Fatal("channel was not closed")
	}
}

type testEnv struct {
	profiles *repository.InMemoryProfileRepository
	chatFeed *countingChatFeed
	presence *feed.MemoryPresenceFeed
	tokens   *fakeTokens
	provider *fakeProvider
	platform *Platform
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := slogdiscard.NewDiscardLogger()
	env := &testEnv{
		profiles: repository.NewInMemoryProfileRepository(),
		chatFeed: &countingChatFeed{MemoryChatFeed: feed.NewMemoryChatFeed(feed.WithSubscriberBuffer(1024))},
		presence: feed.NewMemoryPresenceFeed(),
		tokens:   &fakeTokens{},
		provider: &fakeProvider{},
	}
	env.platform = NewPlatform(
		NewIdentityResolver(env.profiles, log),
		NewChatStream(env.chatFeed, log, WithChatRetry(fastRetry())),
		NewPresenceTracker(env.presence, fastRetry(), log),
		Conference{Tokens: env.tokens, Provider: env.provider, Options: DefaultAVOptions()},
		log,
	)
	return env
}
