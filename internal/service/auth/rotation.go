package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/models"
	"github.com/ivolkov/coinkeeper/internal/repository"
	"github.com/ivolkov/coinkeeper/internal/service/auth/tokenmanager"
)

// Refresh exchanges a valid refresh secret for a new token pair in the
// same family, invalidating the presented one. Presenting an already
// rotated secret proves someone replays an old value: the whole family
// is revoked and ErrTokenReuse returned. The read-check-write sequence
// runs in one transaction with the token row locked, so a concurrent
// retry can't produce two live successors.
func (s *AuthService) Refresh(ctx context.Context, secret models.Secret, rememberMe bool, device models.Device) (models.TokenPair, error) {
	var pair models.TokenPair
	hash := tokenmanager.HashSecret(secret)

	// Like Login: reuse-triggered revocations must commit, the error
	// is surfaced afterwards
	var refreshErr error

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		record, err := st.Refresh().GetByHashForUpdate(ctx, hash)
		if err != nil {
			if errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
				refreshErr = apperrors.ErrInvalidToken
				return nil
			}
			return err
		}

		now := s.now()

		// Revocation is checked before expiry on purpose: a token that
		// is both rotated and expired still signals reuse
		if record.Revoked() {
			if err := st.Refresh().RevokeFamily(ctx, record.FamilyID, now); err != nil {
				return err
			}
			s.logger.Warn("refresh token reuse detected, family revoked",
				"user_id", record.UserID, "family_id", record.FamilyID)
			refreshErr = apperrors.ErrTokenReuse
			return nil
		}

		// Expiry alone already prevents reuse: no successor was ever
		// issued, so the family is left untouched
		if record.Expired(now) {
			refreshErr = apperrors.ErrTokenExpired
			return nil
		}

		if err := st.Refresh().Revoke(ctx, record.ID, now); err != nil {
			return err
		}
		if err := st.Refresh().TouchLastUsed(ctx, record.ID, now); err != nil {
			return err
		}

		// Account row lock: the version minted here must not race a
		// concurrent bump
		user, err := st.User().GetUserByIDForUpdate(ctx, record.UserID)
		if err != nil {
			return err
		}

		pair, err = s.issueTokens(ctx, st, user, record.FamilyID, rememberMe, device, now)
		return err
	})

	switch {
	case err != nil:
		return models.TokenPair{}, err
	case refreshErr != nil:
		return models.TokenPair{}, refreshErr
	default:
		return pair, nil
	}
}

// issueTokens persists a fresh refresh record in the given family and
// mints the matching access token. Shared by login (new family) and
// rotation (inherited family). Expects to run inside a transaction.
func (s *AuthService) issueTokens(
	ctx context.Context,
	st repository.Storage,
	user models.User,
	familyID uuid.UUID,
	rememberMe bool,
	device models.Device,
	now time.Time,
) (models.TokenPair, error) {
	var pair models.TokenPair

	if err := s.enforceSessionCap(ctx, st, user.ID, now); err != nil {
		return pair, err
	}

	secret, err := tokenmanager.NewSecret()
	if err != nil {
		return pair, err
	}

	ttl := s.refreshTTL
	if rememberMe {
		ttl = s.rememberTTL
	}

	record, err := st.Refresh().Save(ctx, models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		FamilyID:  familyID,
		TokenHash: tokenmanager.HashSecret(secret),
		Device:    device,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	access, err := s.tokens.Mint(user.ID, record.ID, user.TokenVersion)
	if err != nil {
		return pair, err
	}

	return models.TokenPair{
		SessionID: record.ID,
		Access:    access,
		Refresh:   models.IssuedSecret{Value: secret, ExpiresAt: record.ExpiresAt},
	}, nil
}

// enforceSessionCap evicts the single oldest active session when the
// account is at the limit. Advisory: the new session always proceeds.
func (s *AuthService) enforceSessionCap(ctx context.Context, st repository.Storage, userID uuid.UUID, now time.Time) error {
	count, err := st.Refresh().CountActive(ctx, userID, now)
	if err != nil {
		return err
	}
	if count < s.maxSessions {
		return nil
	}

	oldest, err := st.Refresh().GetOldestActive(ctx, userID, now)
	if err != nil {
		if errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
			return nil
		}
		return err
	}

	s.logger.Info("session cap reached, evicting oldest session",
		"user_id", userID, "session_id", oldest.ID)
	return st.Refresh().Revoke(ctx, oldest.ID, now)
}

// Logout revokes one session. Idempotent: logging out twice, or after
// the record was garbage collected, is fine.
func (s *AuthService) Logout(ctx context.Context, sessionID uuid.UUID) error {
	return s.storage.Refresh().Revoke(ctx, sessionID, s.now())
}

// LogoutAll terminates every session of the account and bumps the token
// version so outstanding access tokens die immediately too
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return s.storage.InTx(ctx, func(st repository.Storage) error {
		// Version is mutated only under the account row lock
		if _, err := st.User().GetUserByIDForUpdate(ctx, userID); err != nil {
			return err
		}
		if _, err := st.User().BumpTokenVersion(ctx, userID); err != nil {
			return err
		}
		return st.Refresh().RevokeAllForUser(ctx, userID, s.now())
	})
}

// Sessions lists the account's active sessions with device metadata
func (s *AuthService) Sessions(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	records, err := s.storage.Refresh().ListActiveForUser(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	sessions := make([]models.Session, 0, len(records))
	for _, r := range records {
		sessions = append(sessions, models.Session{
			ID:         r.ID,
			Device:     r.Device,
			CreatedAt:  r.CreatedAt,
			LastUsedAt: r.LastUsedAt,
			ExpiresAt:  r.ExpiresAt,
		})
	}
	return sessions, nil
}

// RevokeSession revokes one of the account's own sessions. Unlike
// Logout it verifies ownership, so it is safe to expose to end users.
func (s *AuthService) RevokeSession(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) error {
	record, err := s.storage.Refresh().GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
			return apperrors.ErrSessionNotFound
		}
		return err
	}
	if record.UserID != userID {
		return apperrors.ErrSessionNotFound
	}

	return s.storage.Refresh().Revoke(ctx, sessionID, s.now())
}

// PurgeExpired garbage collects refresh records that expired or were
// revoked longer than the retention window ago, plus expired
// verification tokens. Driven by the background sweeper.
func (s *AuthService) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()

	refreshDeleted, err := s.storage.Refresh().DeleteExpired(ctx, now.Add(-s.revokedRetention))
	if err != nil {
		return 0, err
	}

	verificationDeleted, err := s.storage.Verification().DeleteExpired(ctx, now)
	if err != nil {
		return refreshDeleted, err
	}

	return refreshDeleted + verificationDeleted, nil
}
