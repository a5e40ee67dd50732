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

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	defer pg.Terminate()

	now := time.Now().UTC().Truncate(time.Microsecond)

	// Token rows need an owning user, so each test gets both repos
	// bound to the same transaction
	withRepos := func(t *testing.T, testFunc func(users *UserRepo, tokens *RefreshTokenRepo)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			testFunc(&UserRepo{DB: tx}, &RefreshTokenRepo{DB: tx})
		})
	}

	saveToken := func(t *testing.T, r *RefreshTokenRepo, token models.RefreshToken) models.RefreshToken {
		t.Helper()

		if token.ID == uuid.Nil {
			token.ID = uuid.New()
		}
		if token.FamilyID == uuid.Nil {
			token.FamilyID = uuid.New()
		}
		if token.TokenHash == "" {
			token.TokenHash = "hash-" + token.ID.String()
		}
		if token.CreatedAt.IsZero() {
			token.CreatedAt = now
		}
		if token.ExpiresAt.IsZero() {
			token.ExpiresAt = now.Add(time.Hour)
		}

		saved, err := r.Save(t.Context(), token)
		require.NoError(t, err, "refresh token should be saved without errors")

		return saved
	}

	t.Run("save and get", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *RefreshTokenRepo) {
			user := createTestUser(t, users, "owner")
			saved := saveToken(t, tokens, models.RefreshToken{
				UserID: user.ID,
				Device: models.Device{UserAgent: "laptop", IP: "192.0.2.1"},
			})

			assert.Equal(t, "laptop", saved.Device.UserAgent)
			assert.Equal(t, "192.0.2.1", saved.Device.IP)
			assert.Nil(t, saved.LastUsedAt)
			assert.Nil(t, saved.RevokedAt)

			byHash, err := tokens.GetByHash(t.Context(), saved.TokenHash)
			require.NoError(t, err)
			assert.Equal(t, saved, byHash)

			byID, err := tokens.GetByID(t.Context(), saved.ID)
			require.NoError(t, err)
			assert.Equal(t, saved.TokenHash, byID.TokenHash)

			locked, err := tokens.GetByHashForUpdate(t.Context(), saved.TokenHash)
			require.NoError(t, err)
			assert.Equal(t, saved.ID, locked.ID)
		})
	})

	t.Run("get unknown token", func(t *testing.T) {
		withRepos(t, func(_ *UserRepo, tokens *RefreshTokenRepo) {
			_, err := tokens.GetByHash(t.Context(), "no-such-hash")
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)

			_, err = tokens.GetByID(t.Context(), uuid.New())
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *RefreshTokenRepo) {
			user := createTestUser(t, users, "owner")
			saved := saveToken(t, tokens, models.RefreshToken{UserID: user.ID})

			require.NoError(t, tokens.Revoke(t.Context(), saved.ID, now))

			got, err := tokens.GetByID(t.Context(), saved.ID)
			require.NoError(t, err)
			require.NotNil(t, got.RevokedAt)
			assert.True(t, got.RevokedAt.Equal(now))

			// A later revoke must not move the original timestamp
			require.NoError(t, tokens.Revoke(t.Context(), saved.ID, now.Add(time.Hour)))

			got, err = tokens.GetByID(t.Context(), saved.ID)
			require.NoError(t, err)
			assert.True(t, got.RevokedAt.Equal(now), "first revocation time should stick")

			// Unknown id is fine too
			assert.NoError(t, tokens.Revoke(t.Context(), uuid.New(), now))
		})
	})

	t.Run("revoke family", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *RefreshTokenRepo) {
			user := createTestUser(t, users, "owner")
			familyID := uuid.New()

			first := saveToken(t, tokens, models.RefreshToken{UserID: user.ID, FamilyID: familyID})
			second := saveToken(t, tokens, models.RefreshToken{UserID: user.ID, FamilyID: familyID})
			outsider := saveToken(t, tokens, models.RefreshToken{UserID: user.ID})

			require.NoError(t, tokens.RevokeFamily(t.Context(), familyID, now))

			for _, id := range []uuid.UUID{first.ID, second.ID} {
				got, err := tokens.GetByID(t.Context(), id)
				require.NoError(t, err)
				assert.NotNil(t, got.RevokedAt, "family members should be revoked")
			}

			got, err := tokens.GetByID(t.Context(), outsider.ID)
			require.NoError(t, err)
			assert.Nil(t, got.RevokedAt, "other families should be untouched")
		})
	})

	t.Run("revoke all for user", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *RefreshTokenRepo) {
			user := createTestUser(t, users, "owner")
			other := createTestUser(t, users, "other")

			mine := saveToken(t, tokens, models.RefreshToken{UserID: user.ID})
			theirs := saveToken(t, tokens, models.RefreshToken{UserID: other.ID})

			require.NoError(t, tokens.RevokeAllForUser(t.Context(), user.ID, now))

			got, err := tokens.GetByID(t.Context(), mine.ID)
			require.NoError(t, err)
			assert.NotNil(t, got.RevokedAt)

			got, err = tokens.GetByID(t.Context(), theirs.ID)
			require.NoError(t, err)
			assert.Nil(t, got.RevokedAt, "other users keep their sessions")
		})
	})

	t.Run("touch last used", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *RefreshTokenRepo) {
			user := createTestUser(t, users, "owner")
			saved := saveToken(t, tokens, models.RefreshToken{UserID: user.ID})

			require.NoError(t, tokens.TouchLastUsed(t.Context(), saved.ID, now))

			got, err := tokens.GetByID(t.Context(), saved.ID)
			require.NoError(t, err)
			require.NotNil(t, got.LastUsedAt)
			assert.True(t, got.LastUsedAt.Equal(now))
		})
	})

	t.Run("count, oldest and list skip dead tokens", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *RefreshTokenRepo) {
			user := createTestUser(t, users, "owner")

			oldest := saveToken(t, tokens, models.RefreshToken{UserID: user.ID, CreatedAt: now.Add(-2 * time.Hour)})
			newest := saveToken(t, tokens, models.RefreshToken{UserID: user.ID, CreatedAt: now.Add(-time.Hour)})

			// Neither of these counts as active
			saveToken(t, tokens, models.RefreshToken{UserID: user.ID, ExpiresAt: now.Add(-time.Minute)})
			revokedAt := now
			saveToken(t, tokens, models.RefreshToken{UserID: user.ID, RevokedAt: &revokedAt})

			count, err := tokens.CountActive(t.Context(), user.ID, now)
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			got, err := tokens.GetOldestActive(t.Context(), user.ID, now)
			require.NoError(t, err)
			assert.Equal(t, oldest.ID, got.ID, "oldest should win by created_at")

			list, err := tokens.ListActiveForUser(t.Context(), user.ID, now)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, newest.ID, list[0].ID, "list is newest first")
			assert.Equal(t, oldest.ID, list[1].ID)
		})
	})

	t.Run("oldest active without sessions", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *RefreshTokenRepo) {
			user := createTestUser(t, users, "owner")

			_, err := tokens.GetOldestActive(t.Context(), user.ID, now)
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("delete expired and stale revoked", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *RefreshTokenRepo) {
			user := createTestUser(t, users, "owner")
			cutoff := now.Add(-30 * 24 * time.Hour)

			longExpired := saveToken(t, tokens, models.RefreshToken{UserID: user.ID, ExpiresAt: cutoff.Add(-time.Hour)})
			staleRevokedAt := cutoff.Add(-time.Hour)
			staleRevoked := saveToken(t, tokens, models.RefreshToken{UserID: user.ID, RevokedAt: &staleRevokedAt})

			recentRevokedAt := now.Add(-time.Hour)
			recentRevoked := saveToken(t, tokens, models.RefreshToken{UserID: user.ID, RevokedAt: &recentRevokedAt})
			live := saveToken(t, tokens, models.RefreshToken{UserID: user.ID})

			deleted, err := tokens.DeleteExpired(t.Context(), cutoff)
			require.NoError(t, err)
			assert.Equal(t, int64(2), deleted)

			for _, id := range []uuid.UUID{longExpired.ID, staleRevoked.ID} {
				_, err := tokens.GetByID(t.Context(), id)
				assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			}

			// Recently revoked rows survive: they still witness reuse
			for _, id := range []uuid.UUID{recentRevoked.ID, live.ID} {
				_, err := tokens.GetByID(t.Context(), id)
				assert.NoError(t, err)
			}
		})
	})

	t.Run("cascade on user delete", func(t *testing.T) {
		withRepos(t, func(users *UserRepo, tokens *RefreshTokenRepo) {
			user := createTestUser(t, users, "owner")
			saved := saveToken(t, tokens, models.RefreshToken{UserID: user.ID})

			_, err := users.DB.Exec(t.Context(), `DELETE FROM users WHERE id = $1`, user.ID)
			require.NoError(t, err)

			_, err = tokens.GetByID(t.Context(), saved.ID)
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "tokens should go with their user")
		})
	})
}
