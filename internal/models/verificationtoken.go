package models

import (
	"time"

	"github.com/google/uuid"
)

type VerificationPurpose string

const (
	PurposeEmailVerification VerificationPurpose = "email_verification"
	PurposePasswordReset     VerificationPurpose = "password_reset"
)

// VerificationToken is a single-use short-lived token for email
// verification or password reset. Lives in its own namespace, never
// mixed with refresh tokens.
type VerificationToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	SecretHash string
	Purpose    VerificationPurpose
	CreatedAt  time.Time
	ExpiresAt  time.Time
	UsedAt     *time.Time // non-nil makes the token permanently invalid
}
