package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/immxrtalbeast/streamroom/internal/domain"
)

type InMemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
}

func NewInMemoryProfileRepository() *InMemoryProfileRepository {
	return &InMemoryProfileRepository{
		profiles: make(map[string]domain.Profile),
	}
}

func (r *InMemoryProfileRepository) GetByUID(ctx context.Context, uid string) (*domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[uid]
	if !ok {
		return nil, ErrProfileNotFound
	}

	return &profile, nil
}

func (r *InMemoryProfileRepository) Create(ctx context.Context, profile *domain.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[profile.UID]; ok {
		return ErrProfileExists
	}

	r.profiles[profile.UID] = *profile
	return nil
}

func (r *InMemoryProfileRepository) UpdateRole(ctx context.Context, uid string, role domain.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[uid]
	if !ok {
		return ErrProfileNotFound
	}

	profile.Role = role
	r.profiles[uid] = profile
	return nil
}

func (r *InMemoryProfileRepository) UpdateDisplayName(ctx context.Context, uid string, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[uid]
	if !ok {
		return ErrProfileNotFound
	}

	profile.DisplayName = displayName
	r.profiles[uid] = profile
	return nil
}

type InMemoryCredentialRepository struct {
	mu          sync.RWMutex
	credentials map[string]domain.Credential
	emails      map[string]string
}

func NewInMemoryCredentialRepository() *InMemoryCredentialRepository {
	return &InMemoryCredentialRepository{
		credentials: make(map[string]domain.Credential),
		emails:      make(map[string]string),
	}
}

func (r *InMemoryCredentialRepository) Create(ctx context.Context, credential *domain.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	email := normalizeEmail(credential.Email)
	if email != "" {
		if _, ok := r.emails[email]; ok {
			return ErrEmailExists
		}
		r.emails[email] = credential.UID
	}

	r.credentials[credential.UID] = *credential
	return nil
}

func (r *InMemoryCredentialRepository) GetByUID(ctx context.Context, uid string) (*domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	credential, ok := r.credentials[uid]
	if !ok {
		return nil, ErrCredentialNotFound
	}

	return &credential, nil
}

func (r *InMemoryCredentialRepository) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	uid, ok := r.emails[normalizeEmail(email)]
	if !ok {
		return nil, ErrCredentialNotFound
	}

	credential, ok := r.credentials[uid]
	if !ok {
		return nil, ErrCredentialNotFound
	}

	return &credential, nil
}

func (r *InMemoryCredentialRepository) Update(ctx context.Context, credential *domain.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.credentials[credential.UID]
	if !ok {
		return ErrCredentialNotFound
	}

	oldEmail := normalizeEmail(existing.Email)
	newEmail := normalizeEmail(credential.Email)
	if newEmail != oldEmail {
		if owner, taken := r.emails[newEmail]; taken && owner != credential.UID {
			return ErrEmailExists
		}
		delete(r.emails, oldEmail)
		if newEmail != "" {
			r.emails[newEmail] = credential.UID
		}
	}

	updated := *credential
	updated.UpdatedAt = time.Now().UTC()
	r.credentials[credential.UID] = updated
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
