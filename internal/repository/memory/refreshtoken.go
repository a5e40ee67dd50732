package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/models"
)

type RefreshTokenRepo struct {
	s *Storage
}

func (r *RefreshTokenRepo) Save(_ context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	defer r.s.lock()()

	copied := token
	r.s.data.refresh[token.ID] = &copied
	r.s.data.refreshByHash[token.TokenHash] = token.ID

	return token, nil
}

func (r *RefreshTokenRepo) GetByHash(_ context.Context, hash string) (models.RefreshToken, error) {
	defer r.s.lock()()

	id, ok := r.s.data.refreshByHash[hash]
	if !ok {
		return models.RefreshToken{}, apperrors.ErrRefreshTokenNotFound
	}
	return r.get(id)
}

func (r *RefreshTokenRepo) GetByHashForUpdate(ctx context.Context, hash string) (models.RefreshToken, error) {
	return r.GetByHash(ctx, hash)
}

func (r *RefreshTokenRepo) GetByID(_ context.Context, id uuid.UUID) (models.RefreshToken, error) {
	defer r.s.lock()()
	return r.get(id)
}

func (r *RefreshTokenRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock()()

	token, ok := r.s.data.refresh[id]
	if ok && token.RevokedAt == nil {
		token.RevokedAt = &at
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeFamily(_ context.Context, familyID uuid.UUID, at time.Time) error {
	defer r.s.lock()()

	for _, token := range r.s.data.refresh {
		if token.FamilyID == familyID && token.RevokedAt == nil {
			token.RevokedAt = &at
		}
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID, at time.Time) error {
	defer r.s.lock()()

	for _, token := range r.s.data.refresh {
		if token.UserID == userID && token.RevokedAt == nil {
			token.RevokedAt = &at
		}
	}
	return nil
}

func (r *RefreshTokenRepo) TouchLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock()()

	if token, ok := r.s.data.refresh[id]; ok {
		token.LastUsedAt = &at
	}
	return nil
}

func (r *RefreshTokenRepo) CountActive(_ context.Context, userID uuid.UUID, activeAt time.Time) (int, error) {
	defer r.s.lock()()

	count := 0
	for _, token := range r.s.data.refresh {
		if token.UserID == userID && token.Active(activeAt) {
			count++
		}
	}
	return count, nil
}

func (r *RefreshTokenRepo) GetOldestActive(_ context.Context, userID uuid.UUID, activeAt time.Time) (models.RefreshToken, error) {
	defer r.s.lock()()

	var oldest *models.RefreshToken
	for _, token := range r.s.data.refresh {
		if token.UserID != userID || !token.Active(activeAt) {
			continue
		}
		if oldest == nil || token.CreatedAt.Before(oldest.CreatedAt) {
			oldest = token
		}
	}

	if oldest == nil {
		return models.RefreshToken{}, apperrors.ErrRefreshTokenNotFound
	}
	return copyToken(oldest), nil
}

func (r *RefreshTokenRepo) ListActiveForUser(_ context.Context, userID uuid.UUID, activeAt time.Time) ([]models.RefreshToken, error) {
	defer r.s.lock()()

	var tokens []models.RefreshToken
	for _, token := range r.s.data.refresh {
		if token.UserID == userID && token.Active(activeAt) {
			tokens = append(tokens, copyToken(token))
		}
	}
	return tokens, nil
}

func (r *RefreshTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	defer r.s.lock()()

	var deleted int64
	for id, token := range r.s.data.refresh {
		expired := token.ExpiresAt.Before(before)
		staleRevoked := token.RevokedAt != nil && token.RevokedAt.Before(before)
		if expired || staleRevoked {
			delete(r.s.data.refresh, id)
			delete(r.s.data.refreshByHash, token.TokenHash)
			deleted++
		}
	}
	return deleted, nil
}

func (r *RefreshTokenRepo) get(id uuid.UUID) (models.RefreshToken, error) {
	token, ok := r.s.data.refresh[id]
	if !ok {
		return models.RefreshToken{}, apperrors.ErrRefreshTokenNotFound
	}
	return copyToken(token), nil
}

func copyToken(t *models.RefreshToken) models.RefreshToken {
	copied := *t
	copied.LastUsedAt = copyTime(t.LastUsedAt)
	copied.RevokedAt = copyTime(t.RevokedAt)
	return copied
}
