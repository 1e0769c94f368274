package middleware

import (
	"net/http"

	"github.com/nkiryanov/gatekeeper/internal/cache"
	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/observability/errstatus"
)

type PipelineConfig struct {
	Tokens     tokenValidator
	Directory  principalDirectory
	Principals *cache.Cache[string, models.Principal]

	Limiters Limiters

	// Delegated login provider, may be nil
	OAuth2 http.Handler

	Public *Routes

	Errors *errstatus.Counter
	Logger logger.Logger
}

// Pipeline applies authentication stages in the fixed order:
// token validation, rate limiting, delegated login, authentication guard.
// A stage stopping the request is terminal, no later stage runs.
func Pipeline(cfg PipelineConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return Chain(next,
			Authn(cfg.Tokens, cfg.Directory, cfg.Principals, cfg.Errors, cfg.Logger),
			RateLimit(cfg.Limiters),
			OAuth2(cfg.OAuth2),
			RequireAuth(cfg.Public),
		)
	}
}

// Chain applies middlewares in the given order: m1(m2(...(h)))
func Chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}
