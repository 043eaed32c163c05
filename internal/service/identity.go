package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/repository"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
)

// IdentityResolver turns an authenticated principal into an application user.
// Profile store failures never fail resolution; they degrade to the viewer role.
type IdentityResolver struct {
	profiles repository.ProfileRepository
	log      *slog.Logger
}

func NewIdentityResolver(profiles repository.ProfileRepository, log *slog.Logger) *IdentityResolver {
	if log == nil {
		log = slog.Default()
	}
	return &IdentityResolver{profiles: profiles, log: log}
}

func (r *IdentityResolver) Resolve(ctx context.Context, principal *domain.Principal) (*domain.User, error) {
	const op = "service.identity.resolve"

	if principal == nil || principal.UID == "" {
		return nil, ErrUnauthenticated
	}

	log := r.log.With(slog.String("op", op), slog.String("uid", principal.UID))

	profile, err := r.profiles.GetByUID(ctx, principal.UID)
	switch {
	case errors.Is(err, repository.ErrProfileNotFound):
		log.Debug("no profile record, using default role")
		return domain.NewUser(principal, domain.RoleViewer), nil
	case err != nil:
		log.Warn("profile lookup failed, using default role", sl.Err(err))
		return domain.NewUser(principal, domain.RoleViewer), nil
	}

	return domain.NewUser(principal, profile.Role), nil
}

type registerOptions struct {
	role domain.Role
}

type RegisterOption func(*registerOptions)

// WithRole overrides the viewer role on registration. Only elevated callers
// may pass it; self-service signup never does.
func WithRole(role domain.Role) RegisterOption {
	return func(o *registerOptions) { o.role = role }
}

// Register creates the profile record for principal if it does not exist yet.
func (r *IdentityResolver) Register(ctx context.Context, principal *domain.Principal, opts ...RegisterOption) error {
	const op = "service.identity.register"

	if principal == nil || principal.UID == "" {
		return ErrUnauthenticated
	}

	o := registerOptions{role: domain.RoleViewer}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.role.Valid() {
		return ErrInvalidRole
	}

	log := r.log.With(slog.String("op", op), slog.String("uid", principal.UID))

	err := r.profiles.Create(ctx, domain.NewProfile(principal, o.role))
	if errors.Is(err, repository.ErrProfileExists) {
		log.Debug("profile already registered")
		return nil
	}
	if err != nil {
		log.Error("failed to register profile", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("profile registered", slog.String("role", string(o.role)))
	return nil
}

// RegisterViewer is the self-service registration path.
func (r *IdentityResolver) RegisterViewer(ctx context.Context, principal *domain.Principal) error {
	return r.Register(ctx, principal)
}

func (r *IdentityResolver) Profile(ctx context.Context, uid string) (*domain.Profile, error) {
	const op = "service.identity.profile"

	profile, err := r.profiles.GetByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return profile, nil
}

// AssignRole changes another user's role. The check is advisory; the profile
// store remains the enforcement point.
func (r *IdentityResolver) AssignRole(ctx context.Context, actor *domain.User, uid string, role domain.Role) error {
	const op = "service.identity.assignRole"

	if actor == nil {
		return ErrUnauthenticated
	}
	if !actor.Role.CanAssignRoles() {
		return ErrForbidden
	}
	if !role.Valid() {
		return ErrInvalidRole
	}

	log := r.log.With(
		slog.String("op", op),
		slog.String("actor", actor.UID),
		slog.String("uid", uid),
	)

	if err := r.profiles.UpdateRole(ctx, uid, role); err != nil {
		log.Error("failed to update role", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("role assigned", slog.String("role", string(role)))
	return nil
}

// UpdateDisplayName mirrors a display name change into the profile record.
func (r *IdentityResolver) UpdateDisplayName(ctx context.Context, uid, displayName string) error {
	const op = "service.identity.updateDisplayName"

	if err := r.profiles.UpdateDisplayName(ctx, uid, displayName); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
