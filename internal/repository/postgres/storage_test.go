package postgres

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/repository"
	"github.com/ivolkov/coinkeeper/internal/testutil"
)

func Test_Storage_InTx(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	defer pg.Terminate()

	storage := NewStorage(pg.Pool)

	t.Run("commit on success", func(t *testing.T) {
		err := storage.InTx(t.Context(), func(st repository.Storage) error {
			_, err := st.User().CreateUser(t.Context(), repository.CreateUserParams{
				Username:     "committed",
				Email:        "committed@example.com",
				PasswordHash: "hash",
			})
			return err
		})
		require.NoError(t, err)

		user, err := storage.User().GetUserByUsername(t.Context(), "committed")
		require.NoError(t, err, "committed data should be visible outside the transaction")
		assert.Equal(t, "committed", user.Username)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")

		err := storage.InTx(t.Context(), func(st repository.Storage) error {
			_, err := st.User().CreateUser(t.Context(), repository.CreateUserParams{
				Username:     "rolledback",
				Email:        "rolledback@example.com",
				PasswordHash: "hash",
			})
			require.NoError(t, err)
			return boom
		})
		require.ErrorIs(t, err, boom, "fn error should be returned as is")

		_, err = storage.User().GetUserByUsername(t.Context(), "rolledback")
		assert.ErrorIs(t, err, apperrors.ErrUserNotFound, "rolled back data must not leak")
	})
}
