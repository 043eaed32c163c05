package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 5

func chatMessagesKey(roomID string) string { return "chat:" + roomID + ":messages" }
func chatChannel(roomID string) string     { return "chat:" + roomID + ":events" }
func presenceKey(roomID string) string     { return "presence:" + roomID }
func presenceChannel(roomID string) string { return "presence:" + roomID + ":events" }

// RedisChatFeed keeps each room's messages in a sorted set scored by the
// server-assigned timestamp and fans new messages out over pub/sub.
type RedisChatFeed struct {
	client *redis.Client
	log    *slog.Logger
	buffer int
}

func NewRedisChatFeed(client *redis.Client, log *slog.Logger) *RedisChatFeed {
	if log == nil {
		log = slog.Default()
	}
	return &RedisChatFeed{client: client, log: log, buffer: defaultSubscriberBuffer}
}

func (f *RedisChatFeed) Append(ctx context.Context, draft domain.ChatDraft) (domain.ChatMessage, error) {
	const op = "feed.redis.chat.append"

	if draft.RoomID == "" {
		return domain.ChatMessage{}, ErrRoomRequired
	}

	now, err := f.client.Time(ctx).Result()
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%s: server time: %w", op, err)
	}

	msg := draft.Message(uuid.NewString(), now)
	data, err := json.Marshal(msg)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%s: %w", op, err)
	}

	_, err = f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, chatMessagesKey(draft.RoomID), redis.Z{
			Score:  float64(msg.CreatedAt.UnixMicro()),
			Member: data,
		})
		pipe.Publish(ctx, chatChannel(draft.RoomID), data)
		return nil
	})
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%s: %w", op, err)
	}

	return msg, nil
}

// Subscribe listens on the room channel before reading the snapshot, so a
// message can show up in both; consumers reconcile by id.
func (f *RedisChatFeed) Subscribe(ctx context.Context, roomID string, limit int) (Subscription[ChatEvent], error) {
	const op = "feed.redis.chat.subscribe"

	if roomID == "" {
		return nil, ErrRoomRequired
	}
	if limit <= 0 {
		limit = domain.ChatWindowSize
	}

	ps := f.client.Subscribe(ctx, chatChannel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := f.client.ZRange(ctx, chatMessagesKey(roomID), int64(-limit), -1).Result()
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%s: snapshot: %w", op, err)
	}

	snapshot := make([]domain.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			f.log.Warn("skipping malformed chat record", slog.String("room_id", roomID), sl.Err(err))
			continue
		}
		snapshot = append(snapshot, msg)
	}

	s := newStream[ChatEvent](f.buffer, func() { _ = ps.Close() })
	s.push(ChatEvent{Kind: EventSnapshot, Messages: snapshot})

	go relay(ctx, ps, s, f.log.With(slog.String("room_id", roomID)), func(payload string) (ChatEvent, error) {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return ChatEvent{}, err
		}
		return ChatEvent{Kind: EventUpsert, Messages: []domain.ChatMessage{msg}}, nil
	})

	return s, nil
}

// RedisPresenceFeed keeps each room roster in a hash keyed by uid.
type RedisPresenceFeed struct {
	client *redis.Client
	log    *slog.Logger
	buffer int
}

func NewRedisPresenceFeed(client *redis.Client, log *slog.Logger) *RedisPresenceFeed {
	if log == nil {
		log = slog.Default()
	}
	return &RedisPresenceFeed{client: client, log: log, buffer: defaultSubscriberBuffer}
}

func (f *RedisPresenceFeed) Announce(ctx context.Context, roomID string, participant domain.Participant) error {
	if roomID == "" {
		return ErrRoomRequired
	}
	return f.update(ctx, roomID, participant.UID, func(existing *domain.Participant, now domain.Participant) *domain.Participant {
		next := participant
		next.Online = true
		next.LastSeen = now.LastSeen
		switch {
		case existing != nil:
			next.JoinedAt = existing.JoinedAt
		case next.JoinedAt.IsZero():
			next.JoinedAt = now.LastSeen
		}
		return &next
	})
}

func (f *RedisPresenceFeed) Depart(ctx context.Context, roomID string, uid string) error {
	if roomID == "" {
		return ErrRoomRequired
	}
	return f.update(ctx, roomID, uid, func(existing *domain.Participant, now domain.Participant) *domain.Participant {
		if existing == nil || !existing.Online {
			return nil
		}
		next := *existing
		next.Online = false
		next.LastSeen = now.LastSeen
		return &next
	})
}

// update runs a watched read-modify-write on one roster entry. mutate returns
// nil to leave the entry untouched.
func (f *RedisPresenceFeed) update(
	ctx context.Context,
	roomID, uid string,
	mutate func(existing *domain.Participant, now domain.Participant) *domain.Participant,
) error {
	const op = "feed.redis.presence.update"

	key := presenceKey(roomID)
	txf := func(tx *redis.Tx) error {
		var existing *domain.Participant
		raw, err := tx.HGet(ctx, key, uid).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var p domain.Participant
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				return err
			}
			existing = &p
		}

		ts, err := tx.Time(ctx).Result()
		if err != nil {
			return err
		}

		next := mutate(existing, domain.Participant{LastSeen: ts.UTC()})
		if next == nil {
			return nil
		}

		data, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, uid, data)
			pipe.Publish(ctx, presenceChannel(roomID), data)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := f.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	return fmt.Errorf("%s: %w", op, redis.TxFailedErr)
}

func (f *RedisPresenceFeed) Subscribe(ctx context.Context, roomID string) (Subscription[PresenceEvent], error) {
	const op = "feed.redis.presence.subscribe"

	if roomID == "" {
		return nil, ErrRoomRequired
	}

	ps := f.client.Subscribe(ctx, presenceChannel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := f.client.HGetAll(ctx, presenceKey(roomID)).Result()
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%s: snapshot: %w", op, err)
	}

	snapshot := make([]domain.Participant, 0, len(raw))
	for uid, item := range raw {
		var p domain.Participant
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			f.log.Warn("skipping malformed presence record",
				slog.String("room_id", roomID),
				slog.String("uid", uid),
				sl.Err(err),
			)
			continue
		}
		snapshot = append(snapshot, p)
	}
	slices.SortFunc(snapshot, domain.CompareParticipants)

	s := newStream[PresenceEvent](f.buffer, func() { _ = ps.Close() })
	s.push(PresenceEvent{Kind: EventSnapshot, Participants: snapshot})

	go relay(ctx, ps, s, f.log.With(slog.String("room_id", roomID)), func(payload string) (PresenceEvent, error) {
		var p domain.Participant
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return PresenceEvent{}, err
		}
		return PresenceEvent{Kind: EventUpsert, Participants: []domain.Participant{p}}, nil
	})

	return s, nil
}

// relay forwards pub/sub payloads into s until the pub/sub connection fails,
// ctx ends or the subscriber falls behind.
func relay[E any](ctx context.Context, ps *redis.PubSub, s *stream[E], log *slog.Logger, decode func(string) (E, error)) {
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			s.finish(fmt.Errorf("%w: %w", ErrDisconnected, err))
			return
		}

		event, err := decode(msg.Payload)
		if err != nil {
			log.Warn("skipping malformed feed payload", slog.String("channel", msg.Channel), sl.Err(err))
			continue
		}

		if !s.push(event) {
			s.finish(ErrSlowConsumer)
			return
		}
	}
}
