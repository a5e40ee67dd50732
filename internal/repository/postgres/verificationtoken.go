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

type VerificationTokenRepo struct {
	DB DBTX
}

const verificationTokenColumns = `id, user_id, secret_hash, purpose, created_at, expires_at, used_at`

const saveVerificationToken = `-- name: SaveVerificationToken
INSERT INTO verification_tokens (id, user_id, secret_hash, purpose, created_at, expires_at, used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + verificationTokenColumns

func (r *VerificationTokenRepo) Save(ctx context.Context, token models.VerificationToken) (models.VerificationToken, error) {
	rows, _ := r.DB.Query(ctx, saveVerificationToken,
		token.ID, token.UserID, token.SecretHash, token.Purpose,
		token.CreatedAt, token.ExpiresAt, token.UsedAt,
	)
	saved, err := pgx.CollectOneRow(rows, rowToVerificationToken)
	if err != nil {
		return saved, dbErr(err)
	}
	return saved, nil
}

const getVerificationTokenByHash = `-- name: GetVerificationTokenByHash
SELECT ` + verificationTokenColumns + `
FROM verification_tokens
WHERE secret_hash = $1
`

func (r *VerificationTokenRepo) GetByHashForUpdate(ctx context.Context, hash string) (models.VerificationToken, error) {
	rows, _ := r.DB.Query(ctx, getVerificationTokenByHash+"FOR UPDATE", hash)
	token, err := pgx.CollectOneRow(rows, rowToVerificationToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrVerificationTokenNotFound
	default:
		return token, dbErr(err)
	}
}

const markVerificationTokenUsed = `-- name: MarkVerificationTokenUsed
UPDATE verification_tokens
SET used_at = COALESCE(used_at, $2)
WHERE id = $1
`

func (r *VerificationTokenRepo) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.DB.Exec(ctx, markVerificationTokenUsed, id, at)
	if err != nil {
		return dbErr(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrVerificationTokenNotFound
	}
	return nil
}

const markAllVerificationTokensUsed = `-- name: MarkAllVerificationTokensUsed
UPDATE verification_tokens
SET used_at = $3
WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL
`

// Invalidate prior unused tokens: a freshly issued link supersedes
// every older one of the same purpose
func (r *VerificationTokenRepo) MarkAllUsedForUser(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, at time.Time) error {
	if _, err := r.DB.Exec(ctx, markAllVerificationTokensUsed, userID, purpose, at); err != nil {
		return dbErr(err)
	}
	return nil
}

const deleteExpiredVerificationTokens = `-- name: DeleteExpiredVerificationTokens
DELETE FROM verification_tokens
WHERE expires_at < $1
`

func (r *VerificationTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredVerificationTokens, before)
	if err != nil {
		return 0, dbErr(err)
	}
	return tag.RowsAffected(), nil
}

func rowToVerificationToken(row pgx.CollectableRow) (models.VerificationToken, error) {
	var t models.VerificationToken
	err := row.Scan(&t.ID, &t.UserID, &t.SecretHash, &t.Purpose, &t.CreatedAt, &t.ExpiresAt, &t.UsedAt)
	return t, err
}
