package auth

import (
	"context"

	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
)

// Delivers password reset and verification tokens to the principal
type Mailer interface {
	Send(ctx context.Context, to models.Principal, t models.IssuedToken) error
}

// Mailer writing tokens to the debug log
// Useful for development only, tokens must never reach production logs
type LogMailer struct {
	Logger logger.Logger
}

func (m LogMailer) Send(_ context.Context, to models.Principal, t models.IssuedToken) error {
	m.Logger.Debug("Token mailed", "email", to.Email, "type", t.Type, "token", t.Value, "expires_at", t.ExpiresAt)
	return nil
}
