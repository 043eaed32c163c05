// Package auth is the identity provider: email/password and federated
// sign-in, display name updates and bearer tokens for the room gateway.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/repository"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrFederatedDisabled  = errors.New("federated sign-in is not configured")
)

const defaultIssuer = "streamroom"

// Profiles receives self-service registrations and display name changes.
// Registration through this package always yields the viewer role.
type Profiles interface {
	RegisterViewer(ctx context.Context, principal *domain.Principal) error
	UpdateDisplayName(ctx context.Context, uid, displayName string) error
}

type Config struct {
	JWTSecret       string
	TokenTTL        time.Duration
	FederatedSecret string
	FederatedIssuer string
	BcryptCost      int
}

// Identity is a signed-in principal and its bearer token.
type Identity struct {
	Principal *domain.Principal `json:"user"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type Service struct {
	credentials repository.CredentialRepository
	profiles    Profiles
	signer      *tokenSigner
	hasher      passwordHasher
	federated   Config
	log         *slog.Logger
	now         func() time.Time
}

func NewService(credentials repository.CredentialRepository, profiles Profiles, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	s := &Service{
		credentials: credentials,
		profiles:    profiles,
		hasher:      passwordHasher{cost: cfg.BcryptCost},
		federated:   cfg,
		log:         log,
		now:         time.Now,
	}
	s.signer = &tokenSigner{
		secret: []byte(cfg.JWTSecret),
		issuer: defaultIssuer,
		ttl:    cfg.TokenTTL,
		now:    func() time.Time { return s.now() },
	}
	return s
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*Identity, error) {
	const op = "auth.signUp"

	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	log := s.log.With(slog.String("op", op), slog.String("email", email))

	hash, err := s.hasher.hash(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	credential := domain.NewCredential(email, hash, strings.TrimSpace(displayName))
	if err := s.credentials.Create(ctx, credential); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailTaken
		}
		log.Error("failed to create credential", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	principal := credential.Principal()
	s.register(ctx, log, principal)

	log.Info("account created", slog.String("uid", principal.UID))
	return s.issue(principal)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	const op = "auth.signIn"

	credential, err := s.credentials.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !s.hasher.verify(password, credential.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issue(credential.Principal())
}

// SignInFederated accepts an HS256 assertion from the federated provider,
// creating the account on first use.
func (s *Service) SignInFederated(ctx context.Context, assertion string) (*Identity, error) {
	const op = "auth.signInFederated"

	if s.federated.FederatedSecret == "" {
		return nil, ErrFederatedDisabled
	}

	claims, err := parseClaims(assertion, []byte(s.federated.FederatedSecret), s.federated.FederatedIssuer, s.now)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, ErrInvalidEmail
	}

	log := s.log.With(slog.String("op", op), slog.String("email", claims.Email))

	credential, err := s.credentials.GetByEmail(ctx, claims.Email)
	switch {
	case errors.Is(err, repository.ErrCredentialNotFound):
		credential = domain.NewCredential(claims.Email, "", claims.Name)
		credential.PhotoURL = claims.Picture
		credential.Federated = true
		if err := s.credentials.Create(ctx, credential); err != nil {
			log.Error("failed to create federated credential", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("federated account created", slog.String("uid", credential.UID))
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	principal := credential.Principal()
	s.register(ctx, log, principal)
	return s.issue(principal)
}

// UpdateDisplayName changes the account display name and mirrors it into the
// profile record. A fresh token carrying the new name is returned.
func (s *Service) UpdateDisplayName(ctx context.Context, uid, displayName string) (*Identity, error) {
	const op = "auth.updateDisplayName"

	credential, err := s.credentials.GetByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	credential.DisplayName = strings.TrimSpace(displayName)
	credential.UpdatedAt = s.now().UTC()
	if err := s.credentials.Update(ctx, credential); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.profiles.UpdateDisplayName(ctx, uid, credential.DisplayName); err != nil {
		s.log.Warn("profile display name not updated",
			slog.String("op", op),
			slog.String("uid", uid),
			sl.Err(err),
		)
	}

	return s.issue(credential.Principal())
}

// Verify checks a bearer token and returns its principal.
func (s *Service) Verify(token string) (*domain.Principal, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := parseClaims(token, s.signer.secret, defaultIssuer, s.now)
	if err != nil {
		return nil, err
	}
	return claims.Principal(), nil
}

func (s *Service) issue(p *domain.Principal) (*Identity, error) {
	token, expiresAt, err := s.signer.sign(p)
	if err != nil {
		return nil, fmt.Errorf("auth.issue: %w", err)
	}
	return &Identity{Principal: p, Token: token, ExpiresAt: expiresAt}, nil
}

// register makes sure a profile record exists. Failure is not fatal: role
// resolution already falls back to viewer.
func (s *Service) register(ctx context.Context, log *slog.Logger, p *domain.Principal) {
	if err := s.profiles.RegisterViewer(ctx, p); err != nil {
		log.Warn("profile record not created", slog.String("uid", p.UID), sl.Err(err))
	}
}
