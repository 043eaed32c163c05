package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/immxrtalbeast/streamroom/internal/feed"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
)

// FeedState is the health of a live room subscription as shown to the UI.
type FeedState int

const (
	FeedConnecting FeedState = iota
	FeedLive
	FeedReconnecting
	FeedDisconnected
)

func (s FeedState) String() string {
	switch s {
	case FeedLive:
		return "live"
	case FeedReconnecting:
		return "reconnecting"
	case FeedDisconnected:
		return "disconnected"
	default:
		return "connecting"
	}
}

func (s FeedState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RetryPolicy bounds how a dropped feed subscription is re-established.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(max(p.MaxRetries, 0)))
}

// stableAfter is how long a subscription must stay up before a later drop
// gets a fresh retry budget.
func (p RetryPolicy) stableAfter() time.Duration {
	return max(p.MaxInterval, p.InitialInterval)
}

// live keeps one room-scoped feed subscription running in the background and
// publishes a fresh view after every change. apply and view run under mu.
type live[E any, U any] struct {
	mu    sync.Mutex
	state FeedState
	err   error
	apply func(E)
	view  func(FeedState, error) U

	box    *mailbox[U]
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startLive[E any, U any](
	parent context.Context,
	log *slog.Logger,
	policy RetryPolicy,
	subscribe func(context.Context) (feed.Subscription[E], error),
	apply func(E),
	view func(FeedState, error) U,
) *live[E, U] {
	ctx, cancel := context.WithCancel(parent)
	l := &live[E, U]{
		apply:  apply,
		view:   view,
		box:    newMailbox[U](),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.run(ctx, log, policy, subscribe)
	return l
}

func (l *live[E, U]) run(
	ctx context.Context,
	log *slog.Logger,
	policy RetryPolicy,
	subscribe func(context.Context) (feed.Subscription[E], error),
) {
	defer close(l.done)

	b := policy.backOff()
	for {
		sub, err := subscribe(ctx)
		if err == nil {
			l.setState(FeedLive, nil, false)
			started := time.Now()
			err = l.consume(ctx, sub)
			if time.Since(started) >= policy.stableAfter() {
				b.Reset()
			}
		}
		if ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			log.Error("feed subscription lost", sl.Err(err))
			l.setState(FeedDisconnected, fmt.Errorf("%w: %w", ErrSubscriptionLost, err), true)
			return
		}

		log.Warn("feed subscription dropped, retrying", slog.Duration("backoff", wait), sl.Err(err))
		l.setState(FeedReconnecting, err, true)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *live[E, U]) consume(ctx context.Context, sub feed.Subscription[E]) error {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return feed.ErrDisconnected
			}
			l.mu.Lock()
			l.apply(e)
			l.box.put(l.view(l.state, l.err))
			l.mu.Unlock()
		}
	}
}

func (l *live[E, U]) setState(state FeedState, err error, publish bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state, l.err = state, err
	if publish {
		l.box.put(l.view(state, err))
	}
}

func (l *live[E, U]) current() U {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view(l.state, l.err)
}

// close stops the background subscription and waits for it to exit, so no
// update is delivered after it returns.
func (l *live[E, U]) close() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
		l.box.close()
	})
}
