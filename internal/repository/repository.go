package repository

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/streamroom/internal/domain"
)

var (
	ErrProfileNotFound    = errors.New("profile not found")
	ErrProfileExists      = errors.New("profile already exists")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrEmailExists        = errors.New("credential with email already exists")
)

// ProfileRepository is the profile store keyed by uid.
type ProfileRepository interface {
	GetByUID(ctx context.Context, uid string) (*domain.Profile, error)
	Create(ctx context.Context, profile *domain.Profile) error
	UpdateRole(ctx context.Context, uid string, role domain.Role) error
	UpdateDisplayName(ctx context.Context, uid string, displayName string) error
}

// CredentialRepository is the identity provider's account store.
type CredentialRepository interface {
	Create(ctx context.Context, credential *domain.Credential) error
	GetByUID(ctx context.Context, uid string) (*domain.Credential, error)
	GetByEmail(ctx context.Context, email string) (*domain.Credential, error)
	Update(ctx context.Context, credential *domain.Credential) error
}
