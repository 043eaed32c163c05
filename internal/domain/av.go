package domain

// AVStatus is the lifecycle state of a conferencing session.
type AVStatus string

const (
	AVStatusIdle       AVStatus = "idle"
	AVStatusConnecting AVStatus = "connecting"
	AVStatusJoined     AVStatus = "joined"
	AVStatusFailed     AVStatus = "failed"
	AVStatusClosed     AVStatus = "closed"
)

const (
	LayoutAuto    = "Auto"
	LayoutGrid    = "Grid"
	LayoutSidebar = "Sidebar"
)

// JoinOptions configure the conferencing widget when joining a room.
type JoinOptions struct {
	Container       string    `json:"container,omitempty"`
	MaxParticipants int       `json:"max_participants"`
	LayoutMode      string    `json:"layout_mode"`
	Controls        []Control `json:"controls,omitempty"`
	SharedLink      string    `json:"shared_link,omitempty"`
}

func (o JoinOptions) Has(c Control) bool {
	for _, ctrl := range o.Controls {
		if ctrl == c {
			return true
		}
	}
	return false
}
