package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	Email          string
	EmailVerified  bool
	HashedPassword string

	// TokenVersion is embedded in every issued access token. Bumping it
	// invalidates all outstanding access tokens at once.
	TokenVersion int64

	// Consecutive failed login attempts and the lock they may have caused
	FailedLogins int
	LockedUntil  *time.Time
}

// Locked reports whether the account is locked out at the given moment
func (u User) Locked(at time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(at)
}
