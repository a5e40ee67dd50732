package auth

import (
	"context"

	"github.com/ivolkov/coinkeeper/internal/logger"
)

// Mailer delivers verification and reset links. Fire and forget: the
// service logs delivery failures and never fails the calling operation.
type Mailer interface {
	Send(ctx context.Context, to string, subject string, body string) error
}

// LogMailer writes outgoing mail to the log instead of delivering it.
// Default when no real mailer is wired in (dev environments, tests).
type LogMailer struct {
	Logger logger.Logger
}

func (m LogMailer) Send(_ context.Context, to string, subject string, _ string) error {
	m.Logger.Info("email dispatched", "to", to, "subject", subject)
	return nil
}
