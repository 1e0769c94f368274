package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/gatekeeper/internal/handlers/middleware"
	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/observability/errstatus"
)

type RouterConfig struct {
	Accounts accountService

	// Authentication pipeline wrapped around every route, middleware.Pipeline in production
	Pipeline func(http.Handler) http.Handler

	// Served at /metrics, 404 if nil
	Metrics http.Handler

	Errors *errstatus.Counter
	Logger logger.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	accounts, errs, l := cfg.Accounts, cfg.Errors, cfg.Logger

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /register", handleRegister(accounts, errs, l))
	apiauth.Handle("POST /login", handleLogin(accounts, errs, l))
	apiauth.Handle("POST /refresh", handleRefresh(accounts, errs, l))
	apiauth.Handle("POST /password-reset", handlePasswordReset(accounts, errs, l))
	apiauth.Handle("POST /password-reset/confirm", handlePasswordResetConfirm(accounts, errs, l))
	apiauth.Handle("POST /password-reset/complete", handlePasswordResetComplete(accounts, errs, l))
	apiauth.Handle("POST /verify", handleVerify(accounts, errs, l))
	apiauth.Handle("POST /verification", handleRequestVerification(accounts, errs, l))
	apiauth.Handle("GET /me", handlePrincipalMe())

	root := http.NewServeMux()
	root.Handle("GET /health", handleHealth(errs))
	if cfg.Metrics != nil {
		root.Handle("GET /metrics", cfg.Metrics)
	}
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))

	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = func(h http.Handler) http.Handler { return h }
	}

	return middleware.Chain(root,
		middleware.LoggerMiddleware(l),
		pipeline,
	)
}

type accountService interface {
	// Has to return apperrors.ErrPrincipalAlreadyExists if username or email is taken
	Register(ctx context.Context, username string, email string, password string) (models.TokenPair, error)

	// Has to return apperrors.ErrInvalidCredentials for unknown, disabled principal or wrong password
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)

	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Must not reveal whether the principal exists
	RequestPasswordReset(ctx context.Context, username string) error
	ConfirmPasswordReset(ctx context.Context, resetToken string) (models.IssuedToken, error)
	ResetPassword(ctx context.Context, pwAuthToken string, newPassword string) error

	RequestVerification(ctx context.Context, username string) error
	Verify(ctx context.Context, verificationToken string) error
}
