package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const refreshTokenColumns = `id, user_id, family_id, token_hash, user_agent, ip, created_at, expires_at, last_used_at, revoked_at`

const saveRefreshToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, user_agent, ip, created_at, expires_at, last_used_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + refreshTokenColumns

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveRefreshToken,
		token.ID, token.UserID, token.FamilyID, token.TokenHash,
		token.Device.UserAgent, token.Device.IP,
		token.CreatedAt, token.ExpiresAt, token.LastUsedAt, token.RevokedAt,
	)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, dbErr(err)
	}
	return saved, nil
}

const getRefreshTokenByHash = `-- name: GetRefreshTokenByHash
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token by secret digest
// Returns the record even if it is expired or revoked
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	return r.getByHash(ctx, hash, getRefreshTokenByHash)
}

// GetByHashForUpdate locks the record row until the surrounding
// transaction ends, so two rotations of the same secret serialize
func (r *RefreshTokenRepo) GetByHashForUpdate(ctx context.Context, hash string) (models.RefreshToken, error) {
	return r.getByHash(ctx, hash, getRefreshTokenByHash+"FOR UPDATE")
}

func (r *RefreshTokenRepo) getByHash(ctx context.Context, hash string, query string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, query, hash)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshTokenNotFound
	default:
		return token, dbErr(err)
	}
}

const getRefreshTokenByID = `-- name: GetRefreshTokenByID
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE id = $1
`

func (r *RefreshTokenRepo) GetByID(ctx context.Context, id uuid.UUID) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getRefreshTokenByID, id)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshTokenNotFound
	default:
		return token, dbErr(err)
	}
}

const revokeRefreshToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2)
WHERE id = $1
`

// Revoke the record, keeping an earlier revoked_at as is.
// Unknown ids are not an error: logout must be idempotent even after
// the record was garbage collected.
func (r *RefreshTokenRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.DB.Exec(ctx, revokeRefreshToken, id, at); err != nil {
		return dbErr(err)
	}
	return nil
}

const revokeRefreshTokenFamily = `-- name: RevokeRefreshTokenFamily
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2)
WHERE family_id = $1
`

func (r *RefreshTokenRepo) RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) error {
	if _, err := r.DB.Exec(ctx, revokeRefreshTokenFamily, familyID, at); err != nil {
		return dbErr(err)
	}
	return nil
}

const revokeAllRefreshTokensForUser = `-- name: RevokeAllRefreshTokensForUser
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2)
WHERE user_id = $1
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) error {
	if _, err := r.DB.Exec(ctx, revokeAllRefreshTokensForUser, userID, at); err != nil {
		return dbErr(err)
	}
	return nil
}

const touchRefreshTokenLastUsed = `-- name: TouchRefreshTokenLastUsed
UPDATE refresh_tokens
SET last_used_at = $2
WHERE id = $1
`

func (r *RefreshTokenRepo) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.DB.Exec(ctx, touchRefreshTokenLastUsed, id, at); err != nil {
		return dbErr(err)
	}
	return nil
}

const countActiveRefreshTokens = `-- name: CountActiveRefreshTokens
SELECT count(*)
FROM refresh_tokens
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
`

func (r *RefreshTokenRepo) CountActive(ctx context.Context, userID uuid.UUID, activeAt time.Time) (int, error) {
	rows, _ := r.DB.Query(ctx, countActiveRefreshTokens, userID, activeAt)
	count, err := pgx.CollectOneRow(rows, pgx.RowTo[int])
	if err != nil {
		return 0, dbErr(err)
	}
	return count, nil
}

const getOldestActiveRefreshToken = `-- name: GetOldestActiveRefreshToken
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
ORDER BY created_at
LIMIT 1
`

func (r *RefreshTokenRepo) GetOldestActive(ctx context.Context, userID uuid.UUID, activeAt time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getOldestActiveRefreshToken, userID, activeAt)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshTokenNotFound
	default:
		return token, dbErr(err)
	}
}

const listActiveRefreshTokensForUser = `-- name: ListActiveRefreshTokensForUser
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
ORDER BY created_at DESC
`

func (r *RefreshTokenRepo) ListActiveForUser(ctx context.Context, userID uuid.UUID, activeAt time.Time) ([]models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, listActiveRefreshTokensForUser, userID, activeAt)
	tokens, err := pgx.CollectRows(rows, rowToRefreshToken)
	if err != nil {
		return nil, dbErr(err)
	}
	return tokens, nil
}

const deleteExpiredRefreshTokens = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1 OR revoked_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredRefreshTokens, before)
	if err != nil {
		return 0, dbErr(err)
	}
	return tag.RowsAffected(), nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash,
		&t.Device.UserAgent, &t.Device.IP,
		&t.CreatedAt, &t.ExpiresAt, &t.LastUsedAt, &t.RevokedAt,
	)
	return t, err
}
