package service

import (
	"sync"

	"github.com/immxrtalbeast/streamroom/internal/domain"
)

// PanelController picks the single visible side panel. It starts on chat.
type PanelController struct {
	mu    sync.Mutex
	state domain.PanelState
}

func NewPanelController() *PanelController {
	return &PanelController{state: domain.PanelChat}
}

func (p *PanelController) ShowChat() domain.PanelState {
	return p.set(domain.PanelChat)
}

func (p *PanelController) ShowParticipants() domain.PanelState {
	return p.set(domain.PanelParticipants)
}

func (p *PanelController) HideAll() domain.PanelState {
	return p.set(domain.PanelNone)
}

// Show switches to the given panel; PanelNone hides both.
func (p *PanelController) Show(state domain.PanelState) domain.PanelState {
	switch state {
	case domain.PanelChat, domain.PanelParticipants:
		return p.set(state)
	default:
		return p.set(domain.PanelNone)
	}
}

func (p *PanelController) Reset() domain.PanelState {
	return p.set(domain.PanelChat)
}

func (p *PanelController) State() domain.PanelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PanelController) set(state domain.PanelState) domain.PanelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	return state
}
