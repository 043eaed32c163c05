package service

import (
	"context"

	"github.com/immxrtalbeast/streamroom/internal/domain"
)

type IdentityInteractor interface {
	Resolve(ctx context.Context, principal *domain.Principal) (*domain.User, error)
	Register(ctx context.Context, principal *domain.Principal, opts ...RegisterOption) error
	Profile(ctx context.Context, uid string) (*domain.Profile, error)
	AssignRole(ctx context.Context, actor *domain.User, uid string, role domain.Role) error
	UpdateDisplayName(ctx context.Context, uid, displayName string) error
}

type CoordinatorFactory interface {
	NewCoordinator() *Coordinator
}

// TokenIssuer mints short-lived conferencing tokens scoped to one user in one room.
type TokenIssuer interface {
	IssueToken(ctx context.Context, roomID, uid, displayName string) (string, error)
}

type ConferenceProvider interface {
	CreateSession(ctx context.Context, token string) (ConferenceHandle, error)
}

// ConferenceHandle is an opaque provider session. Leave must release every
// local resource the handle holds.
type ConferenceHandle interface {
	Join(ctx context.Context, opts domain.JoinOptions) error
	Leave(ctx context.Context) error
}
