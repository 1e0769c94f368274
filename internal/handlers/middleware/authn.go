package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
	"github.com/nkiryanov/gatekeeper/internal/cache"
	"github.com/nkiryanov/gatekeeper/internal/handlers/render"
	"github.com/nkiryanov/gatekeeper/internal/handlers/userctx"
	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/observability/errstatus"
)

type tokenValidator interface {
	Validate(value string, t models.TokenType) (models.ValidatedClaims, error)
}

type principalDirectory interface {
	// Must return apperrors.ErrPrincipalNotFound or apperrors.ErrPrincipalDisabled if principal can't sign in
	Principal(ctx context.Context, username string) (models.Principal, error)
}

// Authn reads bearer token and attaches principal to the request context
//
// Requests without Authorization header pass through anonymous. Any present but
// unusable token stops the request with 401, the reason is logged and counted only.
func Authn(tokens tokenValidator, directory principalDirectory, principals *cache.Cache[string, models.Principal], errs *errstatus.Counter, l logger.Logger) func(http.Handler) http.Handler {
	l = l.With("component", "authn")

	lookup := func(ctx context.Context) func(string) (models.Principal, error) {
		return func(username string) (models.Principal, error) {
			return directory.Principal(ctx, username)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			value, ok := bearerToken(header)
			if !ok {
				l.Info("Authorization header is not a bearer token", "path", r.URL.Path)
				errs.Inc(errstatus.TokenMalformed)
				render.Unauthorized(w, true)
				return
			}

			claims, err := tokens.Validate(value, models.TokenAppAuth)
			if err != nil {
				l.Info("Token rejected", "path", r.URL.Path, "error", err)
				errs.IncErr(err)
				render.Unauthorized(w, true)
				return
			}

			p, err := principals.GetOrLoad(claims.Subject, lookup(r.Context()))
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrPrincipalNotFound), errors.Is(err, apperrors.ErrPrincipalDisabled):
				l.Info("Principal rejected", "subject", claims.Subject, "error", err)
				errs.IncErr(err)
				render.Unauthorized(w, true)
				return
			default:
				l.Error("Failed to look up principal", "subject", claims.Subject, "error", err)
				errs.Inc(errstatus.Internal)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(userctx.New(r.Context(), p)))
		})
	}
}

// Extract token from "Bearer <token>", scheme is case insensitive
func bearerToken(header string) (string, bool) {
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	value = strings.TrimSpace(value)
	return value, value != ""
}
