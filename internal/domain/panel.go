package domain

import "fmt"

// PanelState is the side panel currently visible in a room view.
type PanelState int

const (
	PanelNone PanelState = iota
	PanelChat
	PanelParticipants
)

func (p PanelState) String() string {
	switch p {
	case PanelChat:
		return "chat"
	case PanelParticipants:
		return "participants"
	default:
		return "none"
	}
}

func ParsePanelState(raw string) (PanelState, error) {
	switch raw {
	case "chat":
		return PanelChat, nil
	case "participants":
		return PanelParticipants, nil
	case "none", "":
		return PanelNone, nil
	default:
		return PanelNone, fmt.Errorf("unknown panel %q", raw)
	}
}

func (p PanelState) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
