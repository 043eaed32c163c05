package service

import "log/slog"

// Conference groups the conferencing collaborators shared by every client.
type Conference struct {
	Tokens   TokenIssuer
	Provider ConferenceProvider
	Options  AVOptions
}

// Platform is built once at startup and hands out per-client coordinators.
// Identity, chat and presence are shared; each coordinator gets its own
// conferencing manager and panel.
type Platform struct {
	identity   *IdentityResolver
	chat       *ChatStream
	presence   *PresenceTracker
	conference Conference
	log        *slog.Logger
}

func NewPlatform(
	identity *IdentityResolver,
	chat *ChatStream,
	presence *PresenceTracker,
	conference Conference,
	log *slog.Logger,
) *Platform {
	if log == nil {
		log = slog.Default()
	}
	return &Platform{
		identity:   identity,
		chat:       chat,
		presence:   presence,
		conference: conference,
		log:        log,
	}
}

func (p *Platform) Identity() *IdentityResolver {
	return p.identity
}

func (p *Platform) NewCoordinator() *Coordinator {
	av := NewAVSessionManager(p.conference.Tokens, p.conference.Provider, p.conference.Options, p.log)
	return NewCoordinator(p.identity, p.chat, p.presence, av, NewPanelController(), p.log)
}
