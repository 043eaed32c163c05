package service

import (
	"errors"
	"fmt"

	"github.com/immxrtalbeast/streamroom/internal/auth"
)

var (
	ErrUnauthenticated   = auth.ErrUnauthenticated
	ErrSubscriptionLost  = errors.New("live subscription lost")
	ErrInvalidRoomID     = errors.New("invalid room id")
	ErrInvalidRole       = errors.New("invalid role")
	ErrForbidden         = errors.New("role does not allow this action")
	ErrNoActiveRoom      = errors.New("no active room")
	ErrCoordinatorClosed = errors.New("coordinator closed")
	ErrJoinInProgress    = errors.New("av join already in progress")
	ErrSessionClosed     = errors.New("av session closed")
)

type SendReason string

const (
	SendEmpty           SendReason = "empty"
	SendTooLong         SendReason = "too_long"
	SendUnauthenticated SendReason = "unauthenticated"
	SendInFlight        SendReason = "in_flight"
	SendRejected        SendReason = "rejected"
)

// SendError is returned by chat sends. Validation failures never reach the feed.
type SendError struct {
	Reason SendReason
	Err    error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return "send rejected: " + string(e.Reason)
	}
	return fmt.Sprintf("send rejected: %s: %v", e.Reason, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

type AVStage string

const (
	StageToken   AVStage = "token"
	StageSession AVStage = "session"
	StageJoin    AVStage = "join"
)

// AVJoinError is terminal for one join attempt.
type AVJoinError struct {
	Stage AVStage
	Err   error
}

func (e *AVJoinError) Error() string {
	return fmt.Sprintf("av join failed at %s: %v", e.Stage, e.Err)
}

func (e *AVJoinError) Unwrap() error {
	return e.Err
}

// AVLeaveError reports a provider teardown failure. The session is closed anyway.
type AVLeaveError struct {
	Err error
}

func (e *AVLeaveError) Error() string {
	return "av leave failed: " + e.Err.Error()
}

func (e *AVLeaveError) Unwrap() error {
	return e.Err
}
