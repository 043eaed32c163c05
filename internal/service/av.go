package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
)

const leaveTimeout = 5 * time.Second

// AVOptions are the widget settings applied to every join.
type AVOptions struct {
	Container       string
	MaxParticipants int
	LayoutMode      string
	LinkOrigin      string
}

func DefaultAVOptions() AVOptions {
	return AVOptions{
		MaxParticipants: 50,
		LayoutMode:      domain.LayoutAuto,
	}
}

// AVUpdate reports the conferencing status of a room.
type AVUpdate struct {
	RoomID string
	Status domain.AVStatus
	Err    error
}

// AVSession is one conferencing session bound to a room and a local user.
type AVSession struct {
	roomID string
	user   *domain.User

	mu     sync.Mutex
	status domain.AVStatus
	err    error
	handle ConferenceHandle
}

func (s *AVSession) RoomID() string {
	return s.roomID
}

func (s *AVSession) User() *domain.User {
	return s.user
}

func (s *AVSession) Status() domain.AVStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *AVSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *AVSession) Snapshot() AVUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AVUpdate{RoomID: s.roomID, Status: s.status, Err: s.err}
}

func (s *AVSession) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.err = domain.AVStatusConnecting, nil
}

// retry moves a failed session back to idle so it can be joined again.
func (s *AVSession) retry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.AVStatusFailed {
		return false
	}
	s.status, s.err = domain.AVStatusIdle, nil
	return true
}

func (s *AVSession) attach(h ConferenceHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.AVStatusClosed {
		return false
	}
	s.handle = h
	return true
}

func (s *AVSession) detach(h ConferenceHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != h {
		return false
	}
	s.handle = nil
	return true
}

func (s *AVSession) markJoined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.AVStatusConnecting {
		return false
	}
	s.status = domain.AVStatusJoined
	return true
}

func (s *AVSession) markFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.AVStatusClosed {
		return
	}
	s.status, s.err = domain.AVStatusFailed, err
}

// markClosed reports false if the session was already closed and hands back
// the provider handle that still needs releasing.
func (s *AVSession) markClosed() (ConferenceHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.AVStatusClosed {
		return nil, false
	}
	h := s.handle
	s.status, s.handle = domain.AVStatusClosed, nil
	return h, true
}

// AVSessionManager owns the conferencing session of one client. At most one
// session is active at a time; joining another room tears the old one down
// first.
type AVSessionManager struct {
	tokens   TokenIssuer
	provider ConferenceProvider
	options  AVOptions
	log      *slog.Logger

	mu     sync.Mutex
	active *AVSession
}

func NewAVSessionManager(tokens TokenIssuer, provider ConferenceProvider, options AVOptions, log *slog.Logger) *AVSessionManager {
	if log == nil {
		log = slog.Default()
	}
	return &AVSessionManager{
		tokens:   tokens,
		provider: provider,
		options:  options,
		log:      log,
	}
}

func (m *AVSessionManager) Active() *AVSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Join acquires a token and joins the room through the provider. It blocks
// until the provider confirms entry or the attempt fails. A failed session
// for the same room and user is reused; nothing is retried automatically.
func (m *AVSessionManager) Join(ctx context.Context, roomID string, user *domain.User) (*AVSession, error) {
	session, start, err := m.Prepare(ctx, roomID, user)
	if !start {
		return session, err
	}
	return session, m.Connect(ctx, session)
}

// Prepare makes a connecting session for roomID the active one, leaving any
// session bound to another room first. start is false when an existing
// session already covers the request.
func (m *AVSessionManager) Prepare(ctx context.Context, roomID string, user *domain.User) (session *AVSession, start bool, err error) {
	const op = "service.av.prepare"

	if user == nil {
		return nil, false, ErrUnauthenticated
	}
	if !domain.ValidRoomID(roomID) {
		return nil, false, ErrInvalidRoomID
	}

	log := m.log.With(slog.String("op", op), slog.String("room_id", roomID))

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.active; cur != nil {
		if cur.roomID == roomID && cur.user.UID == user.UID {
			switch cur.Status() {
			case domain.AVStatusJoined:
				return cur, false, nil
			case domain.AVStatusConnecting:
				return cur, false, ErrJoinInProgress
			case domain.AVStatusFailed:
				cur.retry()
				cur.begin()
				return cur, true, nil
			}
		}
		log.Info("leaving previous av session", slog.String("previous_room_id", cur.roomID))
		if err := m.leave(ctx, cur); err != nil {
			log.Warn("previous av session did not leave cleanly", sl.Err(err))
		}
	}

	session = &AVSession{roomID: roomID, user: user, status: domain.AVStatusIdle}
	session.begin()
	m.active = session
	return session, true, nil
}

// Connect runs the token, session and join stages for a prepared session.
// If the session is left meanwhile the provider result is discarded.
func (m *AVSessionManager) Connect(ctx context.Context, session *AVSession) error {
	const op = "service.av.connect"

	user := session.user
	log := m.log.With(
		slog.String("op", op),
		slog.String("room_id", session.roomID),
		slog.String("uid", user.UID),
	)

	log.Info("joining av session")

	token, err := m.tokens.IssueToken(ctx, session.roomID, user.UID, user.ConferenceName())
	if err != nil {
		return m.fail(log, session, StageToken, err)
	}

	handle, err := m.provider.CreateSession(ctx, token)
	if err != nil {
		return m.fail(log, session, StageSession, err)
	}
	if !session.attach(handle) {
		_ = m.release(ctx, log, handle)
		log.Info("av session closed while connecting, discarding")
		return ErrSessionClosed
	}

	if err := handle.Join(ctx, m.joinOptions(session.roomID, user)); err != nil {
		if session.detach(handle) {
			_ = m.release(ctx, log, handle)
		}
		if session.Status() == domain.AVStatusClosed {
			return ErrSessionClosed
		}
		return m.fail(log, session, StageJoin, err)
	}

	if !session.markJoined() {
		log.Info("av session closed while joining, discarding")
		return ErrSessionClosed
	}

	log.Info("av session joined")
	return nil
}

// Leave tears down the session. It is a no-op on a closed session. A
// provider failure is returned as *AVLeaveError but the session is closed.
func (m *AVSessionManager) Leave(ctx context.Context, session *AVSession) error {
	if session == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leave(ctx, session)
}

func (m *AVSessionManager) leave(ctx context.Context, session *AVSession) error {
	const op = "service.av.leave"

	if m.active == session {
		m.active = nil
	}

	handle, ok := session.markClosed()
	if !ok || handle == nil {
		return nil
	}

	log := m.log.With(slog.String("op", op), slog.String("room_id", session.roomID))

	if err := m.release(ctx, log, handle); err != nil {
		return &AVLeaveError{Err: err}
	}
	log.Info("av session left")
	return nil
}

func (m *AVSessionManager) release(ctx context.Context, log *slog.Logger, handle ConferenceHandle) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaveTimeout)
	defer cancel()

	err := handle.Leave(ctx)
	if err != nil {
		log.Warn("provider leave failed", sl.Err(err))
	}
	return err
}

func (m *AVSessionManager) fail(log *slog.Logger, session *AVSession, stage AVStage, err error) error {
	joinErr := &AVJoinError{Stage: stage, Err: err}
	if errors.Is(err, context.Canceled) {
		log.Info("av join cancelled", slog.String("stage", string(stage)))
	} else {
		log.Error("av join failed", slog.String("stage", string(stage)), sl.Err(err))
	}
	session.markFailed(joinErr)
	return joinErr
}

func (m *AVSessionManager) joinOptions(roomID string, user *domain.User) domain.JoinOptions {
	opts := domain.JoinOptions{
		Container:       m.options.Container,
		MaxParticipants: m.options.MaxParticipants,
		LayoutMode:      m.options.LayoutMode,
		Controls:        user.Role.Controls(),
	}
	if m.options.LinkOrigin != "" {
		opts.SharedLink = domain.RoomLink(m.options.LinkOrigin, roomID)
	}
	return opts
}
