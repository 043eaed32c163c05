package converter

import (
	"errors"
	"time"

	"github.com/immxrtalbeast/streamroom/internal/auth"
	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/service"
)

const (
	EventRoom      = "room"
	EventChat      = "chat"
	EventPresence  = "presence"
	EventAV        = "av"
	EventPanel     = "panel"
	EventSent      = "sent"
	EventLeft      = "left"
	EventSignedOut = "signed-out"
	EventError     = "error"
)

type RoomEvent struct {
	Type string                 `json:"type"`
	Room string                 `json:"room"`
	Link string                 `json:"link,omitempty"`
	User *domain.User           `json:"user"`
	Role domain.RoleDescription `json:"role"`
}

type ChatEvent struct {
	Type     string               `json:"type"`
	Room     string               `json:"room"`
	Messages []domain.ChatMessage `json:"messages"`
	Count    int                  `json:"count"`
	State    service.FeedState    `json:"state"`
	Error    string               `json:"error,omitempty"`
}

type PresenceEvent struct {
	Type         string               `json:"type"`
	Room         string               `json:"room"`
	Participants []domain.Participant `json:"participants"`
	Online       int                  `json:"online"`
	State        service.FeedState    `json:"state"`
	Error        string               `json:"error,omitempty"`
}

type AVEvent struct {
	Type   string          `json:"type"`
	Room   string          `json:"room"`
	Status domain.AVStatus `json:"status"`
	Stage  string          `json:"stage,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type PanelEvent struct {
	Type  string            `json:"type"`
	Panel domain.PanelState `json:"panel"`
}

type SentEvent struct {
	Type    string             `json:"type"`
	Message domain.ChatMessage `json:"message"`
}

type ErrorEvent struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type SimpleEvent struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

func RoomToApi(room *service.RoomSession, linkOrigin string) RoomEvent {
	ev := RoomEvent{
		Type: EventRoom,
		Room: room.RoomID(),
		User: room.User(),
		Role: domain.Describe(room.User().Role),
	}
	if linkOrigin != "" {
		ev.Link = domain.RoomLink(linkOrigin, room.RoomID())
	}
	return ev
}

func ChatToApi(u service.ChatUpdate) ChatEvent {
	msgs := u.Messages
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return ChatEvent{
		Type:     EventChat,
		Room:     u.RoomID,
		Messages: msgs,
		Count:    len(msgs),
		State:    u.State,
		Error:    errorText(u.Err),
	}
}

func PresenceToApi(u service.PresenceUpdate) PresenceEvent {
	participants := u.Participants
	if participants == nil {
		participants = []domain.Participant{}
	}
	return PresenceEvent{
		Type:         EventPresence,
		Room:         u.RoomID,
		Participants: participants,
		Online:       u.Online,
		State:        u.State,
		Error:        errorText(u.Err),
	}
}

func AVToApi(u service.AVUpdate) AVEvent {
	ev := AVEvent{
		Type:   EventAV,
		Room:   u.RoomID,
		Status: u.Status,
		Error:  errorText(u.Err),
	}
	var joinErr *service.AVJoinError
	if errors.As(u.Err, &joinErr) {
		ev.Stage = string(joinErr.Stage)
	}
	return ev
}

func PanelToApi(state domain.PanelState) PanelEvent {
	return PanelEvent{Type: EventPanel, Panel: state}
}

func ErrorToApi(err error) ErrorEvent {
	ev := ErrorEvent{Type: EventError, Error: err.Error()}
	var sendErr *service.SendError
	if errors.As(err, &sendErr) {
		ev.Reason = string(sendErr.Reason)
	}
	return ev
}

type IdentityResponse struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	Principal *domain.Principal `json:"user"`
}

func IdentityToApi(id *auth.Identity) IdentityResponse {
	return IdentityResponse{
		Token:     id.Token,
		ExpiresAt: id.ExpiresAt,
		Principal: id.Principal,
	}
}

type RoleResponse struct {
	domain.RoleDescription
	Controls       []domain.Control `json:"controls"`
	CanAssignRoles bool             `json:"can_assign_roles"`
}

func RoleToApi(role domain.Role) RoleResponse {
	controls := role.Controls()
	if controls == nil {
		controls = []domain.Control{}
	}
	return RoleResponse{
		RoleDescription: domain.Describe(role),
		Controls:        controls,
		CanAssignRoles:  role.CanAssignRoles(),
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
