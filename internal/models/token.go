package models

import (
	"time"

	"github.com/google/uuid"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

type IssuedSecret struct {
	Value     Secret
	ExpiresAt time.Time
}

// TokenPair is returned to the user on login and on every rotation
type TokenPair struct {
	SessionID uuid.UUID
	Access    IssuedToken
	Refresh   IssuedSecret
}

// Session is the caller-facing view of an active refresh token record
type Session struct {
	ID         uuid.UUID
	Device     Device
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time
}
