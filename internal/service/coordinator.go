package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
)

// RoomSession is everything a client holds open for one room: chat and
// presence subscriptions plus the conferencing status. It is torn down as a
// unit by the coordinator.
type RoomSession struct {
	id   string
	user *domain.User
	gen  uint64

	ctx    context.Context
	cancel context.CancelFunc

	chat     *ChatSubscription
	presence *PresenceSubscription

	avMu    sync.Mutex
	avState AVUpdate
	av      *mailbox[AVUpdate]

	done chan struct{}
}

func (r *RoomSession) RoomID() string {
	return r.id
}

func (r *RoomSession) User() *domain.User {
	return r.user
}

func (r *RoomSession) Chat() <-chan ChatUpdate {
	return r.chat.Updates()
}

func (r *RoomSession) Presence() <-chan PresenceUpdate {
	return r.presence.Updates()
}

func (r *RoomSession) AV() <-chan AVUpdate {
	return r.av.C()
}

func (r *RoomSession) ChatState() ChatUpdate {
	return r.chat.Current()
}

func (r *RoomSession) PresenceState() PresenceUpdate {
	return r.presence.Current()
}

func (r *RoomSession) AVState() AVUpdate {
	r.avMu.Lock()
	defer r.avMu.Unlock()
	return r.avState
}

// Done is closed once the room has been exited.
func (r *RoomSession) Done() <-chan struct{} {
	return r.done
}

func (r *RoomSession) setAV(u AVUpdate) {
	r.avMu.Lock()
	defer r.avMu.Unlock()
	r.avState = u
	r.av.put(u)
}

// Coordinator drives one client through rooms. Entering a room resolves the
// user and opens chat, presence and conferencing for it; leaving closes all
// of them together.
type Coordinator struct {
	identity *IdentityResolver
	chat     *ChatStream
	presence *PresenceTracker
	av       *AVSessionManager
	panel    *PanelController
	log      *slog.Logger

	mu     sync.Mutex
	room   *RoomSession
	closed bool

	gen     atomic.Uint64
	sending atomic.Bool
}

func NewCoordinator(
	identity *IdentityResolver,
	chat *ChatStream,
	presence *PresenceTracker,
	av *AVSessionManager,
	panel *PanelController,
	log *slog.Logger,
) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		identity: identity,
		chat:     chat,
		presence: presence,
		av:       av,
		panel:    panel,
		log:      log,
	}
}

func (c *Coordinator) Panel() *PanelController {
	return c.panel
}

func (c *Coordinator) AV() *AVSessionManager {
	return c.av
}

// Room returns the open room, or nil.
func (c *Coordinator) Room() *RoomSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// EnterRoom opens roomID for principal. A room that is already open is
// exited first, so the client never holds two conferencing sessions.
func (c *Coordinator) EnterRoom(ctx context.Context, roomID string, principal *domain.Principal) (*RoomSession, error) {
	const op = "service.coordinator.enterRoom"

	if !domain.ValidRoomID(roomID) {
		return nil, ErrInvalidRoomID
	}

	user, err := c.identity.Resolve(ctx, principal)
	if err != nil {
		return nil, err
	}

	log := c.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID),
		slog.String("uid", user.UID),
	)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCoordinatorClosed
	}
	if c.room != nil {
		log.Info("leaving previous room", slog.String("previous_room_id", c.room.id))
		c.exitLocked(ctx)
	}

	roomCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	chatSub, err := c.chat.Open(roomCtx, roomID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	presenceSub, err := c.presence.Open(roomCtx, roomID)
	if err != nil {
		_ = chatSub.Close()
		cancel()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.presence.Announce(ctx, roomID, user); err != nil {
		log.Warn("failed to announce presence", sl.Err(err))
	}

	room := &RoomSession{
		id:       roomID,
		user:     user,
		gen:      c.gen.Add(1),
		ctx:      roomCtx,
		cancel:   cancel,
		chat:     chatSub,
		presence: presenceSub,
		avState:  AVUpdate{RoomID: roomID, Status: domain.AVStatusIdle},
		av:       newMailbox[AVUpdate](),
		done:     make(chan struct{}),
	}
	c.room = room
	c.panel.Reset()

	if err := c.startAV(room); err != nil {
		log.Warn("av join not started", sl.Err(err))
	}

	log.Info("room entered", slog.String("role", string(user.Role)))
	return room, nil
}

// ExitRoom closes the open room. It is safe to call with no room open.
func (c *Coordinator) ExitRoom(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exitLocked(ctx)
}

// Close exits the open room and refuses further entries.
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exitLocked(ctx)
	c.closed = true
}

// Send posts text to the open room as its user. Only one send may be in
// flight per coordinator.
func (c *Coordinator) Send(ctx context.Context, text string) (domain.ChatMessage, error) {
	room := c.Room()
	if room == nil {
		return domain.ChatMessage{}, &SendError{Reason: SendRejected, Err: ErrNoActiveRoom}
	}
	if !c.sending.CompareAndSwap(false, true) {
		return domain.ChatMessage{}, &SendError{Reason: SendInFlight}
	}
	defer c.sending.Store(false)

	return c.chat.Send(ctx, room.id, room.user, text)
}

// RetryAV restarts a failed conferencing join for the open room.
func (c *Coordinator) RetryAV(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.room
	if room == nil {
		return ErrNoActiveRoom
	}

	switch room.AVState().Status {
	case domain.AVStatusJoined:
		return nil
	case domain.AVStatusConnecting:
		return ErrJoinInProgress
	}

	c.log.Info("retrying av join",
		slog.String("op", "service.coordinator.retryAV"),
		slog.String("room_id", room.id),
	)
	return c.startAV(room)
}

func (c *Coordinator) startAV(room *RoomSession) error {
	session, start, err := c.av.Prepare(room.ctx, room.id, room.user)
	if session != nil {
		room.setAV(session.Snapshot())
	}
	if !start {
		return err
	}

	go c.connectAV(room, session)
	return nil
}

func (c *Coordinator) connectAV(room *RoomSession, session *AVSession) {
	err := c.av.Connect(room.ctx, session)
	if errors.Is(err, ErrSessionClosed) || c.gen.Load() != room.gen {
		return
	}
	room.setAV(session.Snapshot())
}

func (c *Coordinator) exitLocked(ctx context.Context) {
	const op = "service.coordinator.exitRoom"

	room := c.room
	if room == nil {
		return
	}
	c.room = nil
	c.gen.Add(1)

	log := c.log.With(
		slog.String("op", op),
		slog.String("room_id", room.id),
		slog.String("uid", room.user.UID),
	)

	if err := c.av.Leave(ctx, c.av.Active()); err != nil {
		log.Warn("av session did not leave cleanly", sl.Err(err))
	}

	room.cancel()
	_ = room.chat.Close()
	_ = room.presence.Close()

	departCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaveTimeout)
	if err := c.presence.Depart(departCtx, room.id, room.user.UID); err != nil {
		log.Warn("failed to mark participant offline", sl.Err(err))
	}
	cancel()

	c.panel.Reset()

	room.av.close()
	close(room.done)

	log.Info("room exited")
}
