package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/models"
)

type VerificationTokenRepo struct {
	s *Storage
}

func (r *VerificationTokenRepo) Save(_ context.Context, token models.VerificationToken) (models.VerificationToken, error) {
	defer r.s.lock()()

	copied := token
	r.s.data.verification[token.ID] = &copied
	r.s.data.verificationByHash[token.SecretHash] = token.ID

	return token, nil
}

func (r *VerificationTokenRepo) GetByHashForUpdate(_ context.Context, hash string) (models.VerificationToken, error) {
	defer r.s.lock()()

	id, ok := r.s.data.verificationByHash[hash]
	if !ok {
		return models.VerificationToken{}, apperrors.ErrVerificationTokenNotFound
	}

	token := r.s.data.verification[id]
	copied := *token
	copied.UsedAt = copyTime(token.UsedAt)
	return copied, nil
}

func (r *VerificationTokenRepo) MarkUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock()()

	token, ok := r.s.data.verification[id]
	if !ok {
		return apperrors.ErrVerificationTokenNotFound
	}
	if token.UsedAt == nil {
		token.UsedAt = &at
	}
	return nil
}

func (r *VerificationTokenRepo) MarkAllUsedForUser(_ context.Context, userID uuid.UUID, purpose models.VerificationPurpose, at time.Time) error {
	defer r.s.lock()()

	for _, token := range r.s.data.verification {
		if token.UserID == userID && token.Purpose == purpose && token.UsedAt == nil {
			used := at
			token.UsedAt = &used
		}
	}
	return nil
}

func (r *VerificationTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	defer r.s.lock()()

	var deleted int64
	for id, token := range r.s.data.verification {
		if token.ExpiresAt.Before(before) {
			delete(r.s.data.verification, id)
			delete(r.s.data.verificationByHash, token.SecretHash)
			deleted++
		}
	}
	return deleted, nil
}
