package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/models"
	"github.com/ivolkov/coinkeeper/internal/repository"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, username, email, email_verified, password_hash, token_version, failed_logins, locked_until`

const createUser = `-- name: CreateUser
INSERT INTO users (id, username, email, password_hash)
VALUES ($1, $2, $3, $4)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, arg repository.CreateUserParams) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser, uuid.New(), arg.Username, arg.Email, arg.PasswordHash)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, dbErr(err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + `
FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	return r.getUser(ctx, getUserByID, id)
}

func (r *UserRepo) GetUserByIDForUpdate(ctx context.Context, id uuid.UUID) (models.User, error) {
	return r.getUser(ctx, getUserByID+"FOR UPDATE", id)
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT ` + userColumns + `
FROM users
WHERE username = $1
`

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return r.getUser(ctx, getUserByUsername, username)
}

func (r *UserRepo) GetUserByUsernameForUpdate(ctx context.Context, username string) (models.User, error) {
	return r.getUser(ctx, getUserByUsername+"FOR UPDATE", username)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + `
FROM users
WHERE email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.getUser(ctx, getUserByEmail, email)
}

func (r *UserRepo) getUser(ctx context.Context, query string, arg any) (models.User, error) {
	rows, _ := r.DB.Query(ctx, query, arg)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, dbErr(err)
	}
}

const setLoginFailures = `-- name: SetLoginFailures
UPDATE users
SET failed_logins = $2, locked_until = $3
WHERE id = $1
`

func (r *UserRepo) SetLoginFailures(ctx context.Context, userID uuid.UUID, failures int, lockedUntil *time.Time) error {
	return r.execOnUser(ctx, setLoginFailures, userID, failures, lockedUntil)
}

const bumpTokenVersion = `-- name: BumpTokenVersion
UPDATE users
SET token_version = token_version + 1
WHERE id = $1
RETURNING token_version
`

func (r *UserRepo) BumpTokenVersion(ctx context.Context, userID uuid.UUID) (int64, error) {
	rows, _ := r.DB.Query(ctx, bumpTokenVersion, userID)
	version, err := pgx.CollectOneRow(rows, pgx.RowTo[int64])

	switch {
	case err == nil:
		return version, nil
	case errors.Is(err, pgx.ErrNoRows):
		return 0, apperrors.ErrUserNotFound
	default:
		return 0, dbErr(err)
	}
}

const setPassword = `-- name: SetPassword
UPDATE users
SET password_hash = $2
WHERE id = $1
`

func (r *UserRepo) SetPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return r.execOnUser(ctx, setPassword, userID, passwordHash)
}

const markEmailVerified = `-- name: MarkEmailVerified
UPDATE users
SET email_verified = true
WHERE id = $1
`

func (r *UserRepo) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	return r.execOnUser(ctx, markEmailVerified, userID)
}

func (r *UserRepo) execOnUser(ctx context.Context, query string, userID uuid.UUID, args ...any) error {
	tag, err := r.DB.Exec(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return dbErr(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.CreatedAt, &u.Username, &u.Email, &u.EmailVerified,
		&u.HashedPassword, &u.TokenVersion, &u.FailedLogins, &u.LockedUntil,
	)
	return u, err
}
