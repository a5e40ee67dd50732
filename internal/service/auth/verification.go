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

// RequestEmailVerification issues a fresh verification link for the
// account, superseding any earlier one
func (s *AuthService) RequestEmailVerification(ctx context.Context, userID uuid.UUID) error {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return nil
	}

	secret, err := s.issueVerificationToken(ctx, user.ID, models.PurposeEmailVerification, s.verificationTTL)
	if err != nil {
		return err
	}
	s.deliver(ctx, user.Email, "Verify your email", verificationMailBody(secret))

	return nil
}

// VerifyEmail consumes an email-verification token and marks the
// account verified. Consuming and marking happen in one transaction.
func (s *AuthService) VerifyEmail(ctx context.Context, secret models.Secret) error {
	return s.storage.InTx(ctx, func(st repository.Storage) error {
		token, err := s.consumeVerificationToken(ctx, st, secret, models.PurposeEmailVerification)
		if err != nil {
			return err
		}
		return st.User().MarkEmailVerified(ctx, token.UserID)
	})
}

// RequestPasswordReset issues a reset link for the account behind the
// email. Unknown addresses are not reported to the caller: that would
// be an account-enumeration oracle.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return err
	}

	secret, err := s.issueVerificationToken(ctx, user.ID, models.PurposePasswordReset, s.resetTTL)
	if err != nil {
		return err
	}
	s.deliver(ctx, user.Email, "Reset your password", resetMailBody(secret))

	return nil
}

type resetPasswordInput struct {
	Password string `validate:"required,min=8"`
}

// ResetPassword consumes a reset token, replaces the password and kills
// every live credential: all refresh tokens are revoked and the token
// version is bumped so outstanding access tokens stop working at once.
// The lockout counter is cleared as well.
func (s *AuthService) ResetPassword(ctx context.Context, secret models.Secret, newPassword string) error {
	if err := s.validate.Struct(resetPasswordInput{Password: newPassword}); err != nil {
		return fmt.Errorf("invalid password: %w", err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("can't use this as password, Err: %w", err)
	}

	return s.storage.InTx(ctx, func(st repository.Storage) error {
		token, err := s.consumeVerificationToken(ctx, st, secret, models.PurposePasswordReset)
		if err != nil {
			return err
		}

		if _, err := st.User().GetUserByIDForUpdate(ctx, token.UserID); err != nil {
			return err
		}
		if err := st.User().SetPassword(ctx, token.UserID, hash); err != nil {
			return err
		}
		if _, err := st.User().BumpTokenVersion(ctx, token.UserID); err != nil {
			return err
		}
		if err := st.User().SetLoginFailures(ctx, token.UserID, 0, nil); err != nil {
			return err
		}
		return st.Refresh().RevokeAllForUser(ctx, token.UserID, s.now())
	})
}

// issueVerificationToken invalidates every prior unused token of the
// purpose and creates one fresh single-use token, atomically
func (s *AuthService) issueVerificationToken(
	ctx context.Context,
	userID uuid.UUID,
	purpose models.VerificationPurpose,
	ttl time.Duration,
) (models.Secret, error) {
	secret, err := tokenmanager.NewSecret()
	if err != nil {
		return "", err
	}
	now := s.now()

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		if err := st.Verification().MarkAllUsedForUser(ctx, userID, purpose, now); err != nil {
			return err
		}

		_, err := st.Verification().Save(ctx, models.VerificationToken{
			ID:         uuid.New(),
			UserID:     userID,
			SecretHash: tokenmanager.HashSecret(secret),
			Purpose:    purpose,
			CreatedAt:  now,
			ExpiresAt:  now.Add(ttl),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("error while saving verification token. Err: %w", err)
	}

	return secret, nil
}

// consumeVerificationToken validates and marks the token used within
// the caller's transaction: there is no window where a second consumer
// could see it still valid
func (s *AuthService) consumeVerificationToken(
	ctx context.Context,
	st repository.Storage,
	secret models.Secret,
	purpose models.VerificationPurpose,
) (models.VerificationToken, error) {
	token, err := st.Verification().GetByHashForUpdate(ctx, tokenmanager.HashSecret(secret))
	if err != nil {
		if errors.Is(err, apperrors.ErrVerificationTokenNotFound) {
			return token, apperrors.ErrInvalidToken
		}
		return token, err
	}

	now := s.now()
	switch {
	case token.UsedAt != nil:
		return token, apperrors.ErrVerificationTokenUsed
	case !token.ExpiresAt.After(now):
		return token, apperrors.ErrTokenExpired
	case token.Purpose != purpose:
		return token, apperrors.ErrInvalidToken
	}

	if err := st.Verification().MarkUsed(ctx, token.ID, now); err != nil {
		return token, err
	}
	used := now
	token.UsedAt = &used

	return token, nil
}
