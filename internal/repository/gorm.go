package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/repository/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormConfig is the gorm configuration every repository connection uses.
// The ErrDuplicatedKey checks below require TranslateError.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
}

// Models lists every table owned by the gorm repositories.
func Models() []any {
	return []any{&model.Profile{}, &model.Credential{}}
}

type GormProfileRepository struct {
	db *gorm.DB
}

func NewGormProfileRepository(db *gorm.DB) *GormProfileRepository {
	return &GormProfileRepository{db: db}
}

func (r *GormProfileRepository) GetByUID(ctx context.Context, uid string) (*domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var profile model.Profile
	err := r.db.WithContext(ctx).First(&profile, "uid = ?", uid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	return toDomainProfile(&profile), nil
}

func (r *GormProfileRepository) Create(ctx context.Context, profile *domain.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if profile == nil {
		return errors.New("profile is nil")
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Profile{}).Where("uid = ?", profile.UID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrProfileExists
	}

	if err := r.db.WithContext(ctx).Create(toModelProfile(profile)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrProfileExists
		}
		return err
	}
	return nil
}

func (r *GormProfileRepository) UpdateRole(ctx context.Context, uid string, role domain.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Model(&model.Profile{}).Where("uid = ?", uid).Update("role", string(role))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *GormProfileRepository) UpdateDisplayName(ctx context.Context, uid string, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Model(&model.Profile{}).Where("uid = ?", uid).Update("display_name", displayName)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

type GormCredentialRepository struct {
	db *gorm.DB
}

func NewGormCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	return &GormCredentialRepository{db: db}
}

func (r *GormCredentialRepository) Create(ctx context.Context, credential *domain.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if credential == nil {
		return errors.New("credential is nil")
	}

	row := toModelCredential(credential)
	if row.Email != nil {
		var count int64
		if err := r.db.WithContext(ctx).Model(&model.Credential{}).Where("email = ?", *row.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailExists
		}
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailExists
		}
		return err
	}
	return nil
}

func (r *GormCredentialRepository) GetByUID(ctx context.Context, uid string) (*domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var credential model.Credential
	err := r.db.WithContext(ctx).First(&credential, "uid = ?", uid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	return toDomainCredential(&credential), nil
}

func (r *GormCredentialRepository) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var credential model.Credential
	err := r.db.WithContext(ctx).First(&credential, "email = ?", normalizeEmail(email)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	return toDomainCredential(&credential), nil
}

func (r *GormCredentialRepository) Update(ctx context.Context, credential *domain.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if credential == nil {
		return errors.New("credential is nil")
	}

	row := toModelCredential(credential)

	updates := map[string]any{
		"password_hash": row.PasswordHash,
		"display_name":  row.DisplayName,
		"photo_url":     row.PhotoURL,
		"federated":     row.Federated,
		"updated_at":    time.Now().UTC(),
	}

	if row.Email == nil {
		updates["email"] = gorm.Expr("NULL")
	} else {
		updates["email"] = row.Email
	}

	res := r.db.WithContext(ctx).Model(&model.Credential{}).Where("uid = ?", row.UID).Updates(updates)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrEmailExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

func toModelProfile(profile *domain.Profile) *model.Profile {
	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &model.Profile{
		UID:         profile.UID,
		Email:       optionalString(normalizeEmail(profile.Email)),
		DisplayName: profile.DisplayName,
		PhotoURL:    profile.PhotoURL,
		Role:        string(profile.Role),
		CreatedAt:   createdAt.UTC(),
	}
}

func toDomainProfile(profile *model.Profile) *domain.Profile {
	return &domain.Profile{
		UID:         profile.UID,
		Email:       derefString(profile.Email),
		DisplayName: profile.DisplayName,
		PhotoURL:    profile.PhotoURL,
		Role:        domain.ParseRole(profile.Role),
		CreatedAt:   profile.CreatedAt.UTC(),
	}
}

func toModelCredential(credential *domain.Credential) *model.Credential {
	now := time.Now().UTC()
	createdAt := credential.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := credential.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	return &model.Credential{
		UID:          credential.UID,
		Email:        optionalString(normalizeEmail(credential.Email)),
		PasswordHash: credential.PasswordHash,
		DisplayName:  credential.DisplayName,
		PhotoURL:     credential.PhotoURL,
		Federated:    credential.Federated,
		CreatedAt:    createdAt.UTC(),
		UpdatedAt:    updatedAt.UTC(),
	}
}

func toDomainCredential(credential *model.Credential) *domain.Credential {
	return &domain.Credential{
		UID:          credential.UID,
		Email:        derefString(credential.Email),
		PasswordHash: credential.PasswordHash,
		DisplayName:  credential.DisplayName,
		PhotoURL:     credential.PhotoURL,
		Federated:    credential.Federated,
		CreatedAt:    credential.CreatedAt.UTC(),
		UpdatedAt:    credential.UpdatedAt.UTC(),
	}
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
