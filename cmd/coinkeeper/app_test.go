package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ivolkov/coinkeeper/internal/testutil"
)

func Test_App(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("start and stop with context", func(t *testing.T) {
		c := NewConfig()
		c.DatabaseDSN = pg.DSN
		c.SecretKey = "secret"

		app, err := NewApp(t.Context(), c)
		require.NoError(t, err, "app should initialize against a migrated database")

		ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err = app.Run(ctx)
		require.NoError(t, err, "on correct stop should not return error")
	})

	t.Run("fail without database", func(t *testing.T) {
		c := NewConfig()
		c.SecretKey = "secret"

		_, err := NewApp(t.Context(), c)
		require.Error(t, err)
	})

	t.Run("fail without secret key", func(t *testing.T) {
		c := NewConfig()
		c.DatabaseDSN = pg.DSN

		_, err := NewApp(t.Context(), c)
		require.Error(t, err, "token manager must refuse an empty signing key")
	})
}
