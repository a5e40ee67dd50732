package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivolkov/coinkeeper/internal/db"
	"github.com/ivolkov/coinkeeper/internal/logger"
	"github.com/ivolkov/coinkeeper/internal/repository/postgres"
	"github.com/ivolkov/coinkeeper/internal/service/auth"
	"github.com/ivolkov/coinkeeper/internal/service/auth/tokenmanager"
)

// App hosts the auth core and its background sweeper. The HTTP surface
// that exposes the service lives elsewhere.
type App struct {
	Auth *auth.AuthService

	pool    *pgxpool.Pool
	sweeper *auth.Sweeper
	logger  logger.Logger
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	if c.DatabaseDSN == "" {
		return nil, errors.New("database DSN must be set")
	}

	log := logger.NewLogger(c.LogLevel)

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	storage := postgres.NewStorage(pool)

	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	authService, err := auth.NewService(auth.Config{Logger: log}, tokenManager, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	return &App{
		Auth:    authService,
		pool:    pool,
		sweeper: auth.NewSweeper(c.SweepInterval, authService, log),
		logger:  log,
	}, nil
}

// Run starts the sweeper and blocks until the context is cancelled
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting coinkeeper auth core")

	stopped := a.sweeper.Sweep(ctx)
	<-stopped

	a.pool.Close()
	a.logger.Info("Stopped")

	return nil
}
