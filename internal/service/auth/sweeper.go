package auth

import (
	"context"
	"time"

	"github.com/ivolkov/coinkeeper/internal/logger"
)

const defaultSweepInterval = time.Hour

// Sweeper periodically garbage collects expired token records
type Sweeper struct {
	interval time.Duration
	auth     *AuthService
	logger   logger.Logger
}

func NewSweeper(interval time.Duration, auth *AuthService, logger logger.Logger) *Sweeper {
	if interval == 0 {
		interval = defaultSweepInterval
	}

	return &Sweeper{
		interval: interval,
		auth:     auth,
		logger:   logger,
	}
}

// Sweep runs the loop until the context is cancelled. The returned
// channel closes when the loop has fully stopped.
func (s *Sweeper) Sweep(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting token sweeper", "interval", s.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				deleted, err := s.auth.PurgeExpired(ctx)
				if err != nil {
					s.logger.Error("Failed to purge expired tokens", "error", err)
					continue
				}
				if deleted > 0 {
					s.logger.Info("Purged expired tokens", "deleted", deleted)
				}
			}
		}
	}()

	return idleStopped
}
