package domain

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		raw  string
		want Role
	}{
		{"viewer", RoleViewer},
		{"broadcaster", RoleBroadcaster},
		{"moderator", RoleModerator},
		{" Moderator ", RoleModerator},
		{"", RoleViewer},
		{"admin", RoleViewer},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRole(tt.raw))
		})
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Broadcaster", Describe(RoleBroadcaster).Label)
	assert.Equal(t, "Moderator", Describe(RoleModerator).Label)
	assert.Equal(t, "Viewer", Describe(RoleViewer).Label)

	unknown := Describe(Role("superuser"))
	assert.Equal(t, RoleViewer, unknown.Role)
	assert.Equal(t, "Viewer", unknown.Label)
}

func TestRoleControls(t *testing.T) {
	assert.Empty(t, RoleViewer.Controls())
	assert.Equal(t, []Control{ControlScreenShare}, RoleBroadcaster.Controls())
	assert.ElementsMatch(t, []Control{
		ControlScreenShare,
		ControlRemoveUser,
		ControlMuteRemoteCamera,
		ControlMuteRemoteMic,
	}, RoleModerator.Controls())
	assert.Empty(t, Role("root").Controls())

	assert.True(t, RoleModerator.CanAssignRoles())
	assert.False(t, RoleBroadcaster.CanAssignRoles())
	assert.False(t, Role("root").Valid())

	opts := JoinOptions{Controls: RoleBroadcaster.Controls()}
	assert.True(t, opts.Has(ControlScreenShare))
	assert.False(t, opts.Has(ControlRemoveUser))
}

func TestUserNames(t *testing.T) {
	anon := NewUser(&Principal{UID: "u1"}, RoleViewer)
	assert.Equal(t, "Anonymous", anon.ChatName())
	assert.Equal(t, "User", anon.ConferenceName())

	named := NewUser(&Principal{UID: "u2", DisplayName: "Ada"}, Role("bogus"))
	assert.Equal(t, "Ada", named.ChatName())
	assert.Equal(t, "Ada", named.ConferenceName())
	assert.Equal(t, RoleViewer, named.Role)
}

func TestRoomIDs(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		id := GenerateRoomID()
		require.Len(t, id, 8)
		assert.True(t, ValidRoomID(id))
		assert.Equal(t, strings.ToLower(id), id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 45)

	for _, bad := range []string{"", "a/b", "room?x", "with space", "tab\t", strings.Repeat("x", 129)} {
		assert.False(t, ValidRoomID(bad), bad)
	}
	assert.True(t, ValidRoomID("abcd1234"))
	assert.Equal(t, "https://app.test/room/r1", RoomLink("https://app.test/", "r1"))
}

func TestPanelState(t *testing.T) {
	for _, p := range []PanelState{PanelNone, PanelChat, PanelParticipants} {
		parsed, err := ParsePanelState(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParsePanelState("sideways")
	assert.Error(t, err)
}

func TestChatOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	msgs := []ChatMessage{
		{ID: "c", CreatedAt: base.Add(time.Second)},
		{ID: "b", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	}
	slices.SortFunc(msgs, CompareChatMessages)

	ids := []string{msgs[0].ID, msgs[1].ID, msgs[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestChatDraft(t *testing.T) {
	author := NewUser(&Principal{UID: "u1"}, RoleBroadcaster)
	draft := NewChatDraft("r1", author, "  hello  ")
	assert.Equal(t, "hello", draft.Text)
	assert.Equal(t, "Anonymous", draft.AuthorDisplayName)

	msg := draft.Message("m1", time.Unix(10, 0))
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, RoleBroadcaster, msg.AuthorRole)
	assert.Equal(t, time.UTC, msg.CreatedAt.Location())
}

func TestParticipantOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	roster := []Participant{
		{UID: "z", JoinedAt: base},
		{UID: "late", JoinedAt: base.Add(time.Minute)},
		{UID: "a", JoinedAt: base},
	}
	slices.SortFunc(roster, CompareParticipants)
	assert.Equal(t, "a", roster[0].UID)
	assert.Equal(t, "z", roster[1].UID)
	assert.Equal(t, "late", roster[2].UID)
}
