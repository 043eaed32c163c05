package domain

import (
	"strings"
	"unicode"

	nanoid "github.com/jaevor/go-nanoid"
)

const (
	roomIDLength    = 8
	roomIDAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
	maxRoomIDLength = 128
)

var roomIDGenerator = mustRoomIDGenerator()

func mustRoomIDGenerator() func() string {
	gen, err := nanoid.CustomASCII(roomIDAlphabet, roomIDLength)
	if err != nil {
		panic("cannot build room id generator: " + err.Error())
	}
	return gen
}

// GenerateRoomID returns a fresh shareable room id.
func GenerateRoomID() string {
	return roomIDGenerator()
}

// ValidRoomID reports whether id can be used as a room token. Room ids are
// opaque; only empty, oversized or path-breaking values are rejected.
func ValidRoomID(id string) bool {
	if id == "" || len(id) > maxRoomIDLength {
		return false
	}
	if strings.ContainsAny(id, "/?#") {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func RoomLink(origin, roomID string) string {
	return strings.TrimRight(origin, "/") + "/room/" + roomID
}
