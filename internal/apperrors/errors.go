package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Returned on any failed login: callers must not be able to tell
	// a wrong password from an unknown account
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers malformed, unknown and bad-signature tokens alike.
	// Callers never learn which of those it was.
	ErrInvalidToken = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")

	// ErrTokenReuse means an already-rotated refresh token was presented again.
	// The whole token family is revoked before this error is returned.
	ErrTokenReuse = errors.New("refresh token reuse detected")

	ErrRefreshTokenNotFound      = errors.New("refresh token not found")
	ErrSessionNotFound           = errors.New("session not found")
	ErrVerificationTokenNotFound = errors.New("verification token not found")
	ErrVerificationTokenUsed     = errors.New("verification token already used")

	// ErrStorage marks infrastructure failures (db unavailable, timeout).
	// Unlike the token-state errors above it is retryable with backoff.
	ErrStorage = errors.New("storage unavailable")
)

// AccountLockedError is returned on login while the account is locked
// after too many failed attempts. Carries the unlock time so the caller
// can render it.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}
