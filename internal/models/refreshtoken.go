package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one link of a rotation chain. Its ID doubles as the
// session id in issued access tokens. Only the sha-256 digest of the
// secret is kept; the secret itself is handed to the client once.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	FamilyID  uuid.UUID // shared by every token descending from one login
	TokenHash string

	// Best effort device info, not part of any invariant
	Device Device

	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time // nil while the token may still be exchanged
}

func (t RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

func (t RefreshToken) Expired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// Active reports whether the token can still be presented for rotation
func (t RefreshToken) Active(at time.Time) bool {
	return !t.Revoked() && !t.Expired(at)
}
