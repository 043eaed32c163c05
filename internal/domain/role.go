package domain

import "strings"

// Role is the closed set of application roles a user can hold.
// Roles are not ordered: each one maps to its own label, style and controls.
type Role string

const (
	RoleViewer      Role = "viewer"
	RoleBroadcaster Role = "broadcaster"
	RoleModerator   Role = "moderator"
)

// ParseRole normalizes a raw role value read from the profile store.
// Anything that is not a known role resolves to RoleViewer.
func ParseRole(raw string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleViewer, RoleBroadcaster, RoleModerator:
		return r
	default:
		return RoleViewer
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleBroadcaster, RoleModerator:
		return true
	default:
		return false
	}
}

// RoleDescription is what the UI needs to render a role badge.
type RoleDescription struct {
	Role  Role   `json:"role"`
	Label string `json:"label"`
	Style string `json:"style"`
}

// Describe maps a role to its badge. Out-of-enum values get the viewer badge.
func Describe(r Role) RoleDescription {
	switch r {
	case RoleBroadcaster:
		return RoleDescription{Role: RoleBroadcaster, Label: "Broadcaster", Style: "primary"}
	case RoleModerator:
		return RoleDescription{Role: RoleModerator, Label: "Moderator", Style: "accent"}
	case RoleViewer:
		return RoleDescription{Role: RoleViewer, Label: "Viewer", Style: "muted"}
	default:
		return RoleDescription{Role: RoleViewer, Label: "Viewer", Style: "muted"}
	}
}

// Control is a conferencing widget control that can be switched on for a user.
type Control string

const (
	ControlScreenShare      Control = "screen_share"
	ControlRemoveUser       Control = "remove_user"
	ControlMuteRemoteCamera Control = "mute_remote_camera"
	ControlMuteRemoteMic    Control = "mute_remote_mic"
)

// Controls returns the conferencing controls a role unlocks. The result only
// gates UI affordances; enforcement lives with the AV provider and the store.
func (r Role) Controls() []Control {
	switch r {
	case RoleBroadcaster:
		return []Control{ControlScreenShare}
	case RoleModerator:
		return []Control{
			ControlScreenShare,
			ControlRemoveUser,
			ControlMuteRemoteCamera,
			ControlMuteRemoteMic,
		}
	default:
		return nil
	}
}

// CanAssignRoles reports whether the role may hand out roles to other users.
func (r Role) CanAssignRoles() bool {
	return r == RoleModerator
}
