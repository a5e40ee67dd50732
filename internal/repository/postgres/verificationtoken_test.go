package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/models"
	"github.com/ivolkov/coinkeeper/internal/testutil"
)

func Test_VerificationTokenRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	defer pg.Terminate()

	now := time.Now().UTC().Truncate(time.Microsecond)

	withRepos := func(t *testing.T, testFunc func(users *UserRepo, tokens *VerificationTokenRepo)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			testFunc(&UserRepo{DB: tx}, &VerificationTokenRepo{DB: tx})
		})
	}

	saveToken := func(t *testing.T, r *VerificationTokenRepo, token models.VerificationToken) models.VerificationToken {
		t.Helper()

		if token.ID == uuid.Nil {
			token.ID = uuid.New()
		}
		if token.SecretHash == "" {
			token.SecretHash = "hash-" + token.ID.String()
		}
		if token.Purpose == "" {
			token.Purpose = models.PurposeEmailVerification
		}
		if token.CreatedAt.IsZero() {
			token.CreatedAt = now
		}
		if token.ExpiresAt.IsZero() {
			token.ExpiresAt = now.Add(24 * time.Hour)
		}

		saved, err := r.Save(t.Context(), token)
		require.NoError(t, err, "verification token should be saved without errors")

		return saved
	}

	t.Run("save and get for update", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *VerificationTokenRepo) {
			user := createTestUser(t, users, "owner")
			saved := saveToken(t, tokens, models.VerificationToken{
				UserID:  user.ID,
				Purpose: models.PurposePasswordReset,
			})

			got, err := tokens.GetByHashForUpdate(t.Context(), saved.SecretHash)
			require.NoError(t, err)
			assert.Equal(t, saved, got)
			assert.Equal(t, models.PurposePasswordReset, got.Purpose)
			assert.Nil(t, got.UsedAt)
		})
	})

	t.Run("get unknown token", func(t *testing.T) {
		withRepos(t, func(_ *UserRepo, tokens *VerificationTokenRepo) {
			_, err := tokens.GetByHashForUpdate(t.Context(), "no-such-hash")
			assert.ErrorIs(t, err, apperrors.ErrVerificationTokenNotFound)
		})
	})

	t.Run("mark used keeps the first timestamp", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *VerificationTokenRepo) {
			user := createTestUser(t, users, "owner")
			saved := saveToken(t, tokens, models.VerificationToken{UserID: user.ID})

			require.NoError(t, tokens.MarkUsed(t.Context(), saved.ID, now))
			require.NoError(t, tokens.MarkUsed(t.Context(), saved.ID, now.Add(time.Hour)))

			got, err := tokens.GetByHashForUpdate(t.Context(), saved.SecretHash)
			require.NoError(t, err)
			require.NotNil(t, got.UsedAt)
			assert.True(t, got.UsedAt.Equal(now), "first use wins")

			err = tokens.MarkUsed(t.Context(), uuid.New(), now)
			assert.ErrorIs(t, err, apperrors.ErrVerificationTokenNotFound)
		})
	})

	t.Run("mark all used honors purpose and skips used", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *VerificationTokenRepo) {
			user := createTestUser(t, users, "owner")

			verification := saveToken(t, tokens, models.VerificationToken{UserID: user.ID})
			reset := saveToken(t, tokens, models.VerificationToken{UserID: user.ID, Purpose: models.PurposePasswordReset})

			usedEarlier := now.Add(-time.Hour)
			alreadyUsed := saveToken(t, tokens, models.VerificationToken{UserID: user.ID, UsedAt: &usedEarlier})

			require.NoError(t, tokens.MarkAllUsedForUser(t.Context(), user.ID, models.PurposeEmailVerification, now))

			got, err := tokens.GetByHashForUpdate(t.Context(), verification.SecretHash)
			require.NoError(t, err)
			require.NotNil(t, got.UsedAt)
			assert.True(t, got.UsedAt.Equal(now))

			got, err = tokens.GetByHashForUpdate(t.Context(), reset.SecretHash)
			require.NoError(t, err)
			assert.Nil(t, got.UsedAt, "other purposes must be untouched")

			got, err = tokens.GetByHashForUpdate(t.Context(), alreadyUsed.SecretHash)
			require.NoError(t, err)
			assert.True(t, got.UsedAt.Equal(usedEarlier), "consumed tokens keep their original time")
		})
	})

	t.Run("delete expired", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *VerificationTokenRepo) {
			user := createTestUser(t, users, "owner")

			expired := saveToken(t, tokens, models.VerificationToken{UserID: user.ID, ExpiresAt: now.Add(-time.Minute)})
			live := saveToken(t, tokens, models.VerificationToken{UserID: user.ID})

			deleted, err := tokens.DeleteExpired(t.Context(), now)
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)

			_, err = tokens.GetByHashForUpdate(t.Context(), expired.SecretHash)
			assert.ErrorIs(t, err, apperrors.ErrVerificationTokenNotFound)

			_, err = tokens.GetByHashForUpdate(t.Context(), live.SecretHash)
			assert.NoError(t, err)
		})
	})
}
