package domain

import (
	"cmp"
	"strings"
	"time"
)

const (
	MaxChatMessageLength = 500
	ChatWindowSize       = 200
)

// ChatMessage is a message delivered by the room feed. The feed assigns ID and
// CreatedAt; Pending marks a message whose timestamp the feed has not confirmed yet.
type ChatMessage struct {
	ID                string    `json:"id"`
	RoomID            string    `json:"room_id"`
	Text              string    `json:"text"`
	AuthorUID         string    `json:"author_uid"`
	AuthorDisplayName string    `json:"author_display_name"`
	AuthorRole        Role      `json:"author_role"`
	CreatedAt         time.Time `json:"created_at"`
	Pending           bool      `json:"pending,omitempty"`
}

// CompareChatMessages orders messages by CreatedAt ascending with ID as tie-break.
func CompareChatMessages(a, b ChatMessage) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// ChatDraft is a validated message about to be appended to a feed.
type ChatDraft struct {
	RoomID            string
	Text              string
	AuthorUID         string
	AuthorDisplayName string
	AuthorRole        Role
}

func NewChatDraft(roomID string, author *User, text string) ChatDraft {
	return ChatDraft{
		RoomID:            roomID,
		Text:              strings.TrimSpace(text),
		AuthorUID:         author.UID,
		AuthorDisplayName: author.ChatName(),
		AuthorRole:        author.Role,
	}
}

func (d ChatDraft) Message(id string, createdAt time.Time) ChatMessage {
	return ChatMessage{
		ID:                id,
		RoomID:            d.RoomID,
		Text:              d.Text,
		AuthorUID:         d.AuthorUID,
		AuthorDisplayName: d.AuthorDisplayName,
		AuthorRole:        d.AuthorRole,
		CreatedAt:         createdAt.UTC(),
	}
}
