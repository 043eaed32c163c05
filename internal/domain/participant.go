package domain

import (
	"cmp"
	"time"
)

// Participant is a member of a room roster. Departed participants stay in the
// roster with Online=false.
type Participant struct {
	UID         string    `json:"uid"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Online      bool      `json:"online"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeen    time.Time `json:"last_seen"`
}

func NewParticipant(u *User) Participant {
	now := time.Now().UTC()
	return Participant{
		UID:         u.UID,
		DisplayName: u.ChatName(),
		Role:        u.Role,
		Online:      true,
		JoinedAt:    now,
		LastSeen:    now,
	}
}

// CompareParticipants is the roster display order: arrival time, then uid.
func CompareParticipants(a, b Participant) int {
	if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.UID, b.UID)
}
