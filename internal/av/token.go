package av

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingSecret = errors.New("conference secret is not configured")
	ErrInvalidToken  = errors.New("invalid conference token")
)

const defaultTokenTTL = 2 * time.Hour

// KitClaims scope a conference token to one user in one room.
type KitClaims struct {
	AppID    string `json:"app_id"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	jwt.RegisteredClaims
}

// KitTokenIssuer mints and verifies HS256 conference tokens. The same secret
// is shared by the issuer and the signalling hub.
type KitTokenIssuer struct {
	appID  string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewKitTokenIssuer(appID, secret string, ttl time.Duration) *KitTokenIssuer {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &KitTokenIssuer{
		appID:  appID,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (i *KitTokenIssuer) IssueToken(ctx context.Context, roomID, uid, displayName string) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrMissingSecret
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := i.now()
	claims := KitClaims{
		AppID:    i.appID,
		RoomID:   roomID,
		UserID:   uid,
		UserName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks signature, expiry and app id.
func (i *KitTokenIssuer) Verify(raw string) (*KitClaims, error) {
	if len(i.secret) == 0 {
		return nil, ErrMissingSecret
	}
	token, err := jwt.ParseWithClaims(raw, &KitClaims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*KitClaims)
	if !ok || !token.Valid || claims.AppID != i.appID || claims.RoomID == "" || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// inspect reads claims without verifying the signature. Clients only need
// the room and user scope; the hub verifies.
func inspect(raw string) (*KitClaims, error) {
	claims := &KitClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.RoomID == "" || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
