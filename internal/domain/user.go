package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	anonymousChatName = "Anonymous"
	defaultAVName     = "User"
)

// Principal is an authenticated identity handed over by the identity provider,
// before any role has been attached to it.
type Principal struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// User is a principal together with its resolved role. It is immutable for
// the lifetime of a session.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Role        Role   `json:"role"`
}

func NewUser(p *Principal, role Role) *User {
	return &User{
		UID:         p.UID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
		Role:        ParseRole(string(role)),
	}
}

func (u *User) ChatName() string {
	if u.DisplayName == "" {
		return anonymousChatName
	}
	return u.DisplayName
}

func (u *User) ConferenceName() string {
	if u.DisplayName == "" {
		return defaultAVName
	}
	return u.DisplayName
}

// Profile mirrors the profile record kept by the external document store.
type Profile struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewProfile(p *Principal, role Role) *Profile {
	return &Profile{
		UID:         p.UID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
		Role:        ParseRole(string(role)),
		CreatedAt:   time.Now().UTC(),
	}
}

// Credential is an identity known to the identity provider. Federated
// credentials carry no password hash.
type Credential struct {
	UID          string
	Email        string
	PasswordHash string
	DisplayName  string
	PhotoURL     string
	Federated    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewCredential(email, passwordHash, displayName string) *Credential {
	now := time.Now().UTC()
	return &Credential{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (c *Credential) Principal() *Principal {
	return &Principal{
		UID:         c.UID,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		PhotoURL:    c.PhotoURL,
	}
}
