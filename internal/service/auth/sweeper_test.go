package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/logger"
)

func Test_Sweeper(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.register(t, "ivolkov")
	stale := env.login(t, "ivolkov")

	// Push the record past its retention window
	env.clock.Advance(defaultRefreshTokenTTL + defaultRevokedRetention + time.Hour)

	sweeper := NewSweeper(10*time.Millisecond, env.auth, logger.NewNoOpLogger())

	ctx, cancel := context.WithCancel(t.Context())
	stopped := sweeper.Sweep(ctx)

	require.Eventually(t, func() bool {
		_, err := env.storage.Refresh().GetByID(t.Context(), stale.SessionID)
		return errors.Is(err, apperrors.ErrRefreshTokenNotFound)
	}, time.Second, 10*time.Millisecond, "sweeper should purge the stale record")

	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
