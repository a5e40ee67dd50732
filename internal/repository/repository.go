package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ivolkov/coinkeeper/internal/models"
)

// Storage aggregates the repositories and runs functions inside one
// database transaction. Inside InTx the passed Storage is bound to the
// transaction, so every repo call in fn shares its isolation.
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	Verification() VerificationTokenRepo

	InTx(ctx context.Context, fn func(Storage) error) error
}

type CreateUserParams struct {
	Username     string
	Email        string
	PasswordHash string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If username or email is taken must return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by id, username or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Same lookups but holding the account row lock until the
	// surrounding transaction ends. Token version and lockout counters
	// are mutated only under this lock.
	GetUserByIDForUpdate(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsernameForUpdate(ctx context.Context, username string) (models.User, error)

	// Overwrite the failed-attempt counter and the lock timestamp
	SetLoginFailures(ctx context.Context, userID uuid.UUID, failures int, lockedUntil *time.Time) error

	// Increment token_version and return the new value
	BumpTokenVersion(ctx context.Context, userID uuid.UUID) (int64, error)

	SetPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error
}

// RefreshToken repository interface
// Pure persistence: no token-state decisions live here
type RefreshTokenRepo interface {
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Lookup by secret digest
	// If not found must return apperrors.ErrRefreshTokenNotFound
	GetByHash(ctx context.Context, hash string) (models.RefreshToken, error)

	// Same lookup but row-locked: two concurrent rotations of one
	// secret must serialize on this call
	GetByHashForUpdate(ctx context.Context, hash string) (models.RefreshToken, error)

	GetByID(ctx context.Context, id uuid.UUID) (models.RefreshToken, error)

	// Revoke one record. Idempotent: an already set revoked_at is kept
	// as is, and unknown ids are not an error.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error

	// Bulk revocations, same idempotency rules
	RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) error

	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error

	CountActive(ctx context.Context, userID uuid.UUID, activeAt time.Time) (int, error)

	// Oldest unexpired unrevoked record for the user
	// If none must return apperrors.ErrRefreshTokenNotFound
	GetOldestActive(ctx context.Context, userID uuid.UUID, activeAt time.Time) (models.RefreshToken, error)

	ListActiveForUser(ctx context.Context, userID uuid.UUID, activeAt time.Time) ([]models.RefreshToken, error)

	// Delete records that expired or were revoked before the given moment
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// VerificationToken repository interface
type VerificationTokenRepo interface {
	Save(ctx context.Context, token models.VerificationToken) (models.VerificationToken, error)

	// Lookup by secret digest holding the row lock, so marking the
	// token used is race free within the surrounding transaction.
	// If not found must return apperrors.ErrVerificationTokenNotFound
	GetByHashForUpdate(ctx context.Context, hash string) (models.VerificationToken, error)

	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error

	// Invalidate every unused token of the purpose for the user
	MarkAllUsedForUser(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, at time.Time) error

	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
