package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/gatekeeper/internal/handlers/render"
	"github.com/nkiryanov/gatekeeper/internal/handlers/userctx"
	"github.com/nkiryanov/gatekeeper/internal/models"
)

type limiter interface {
	TryAcquire(ctx context.Context, key string, cost int) models.Decision
}

// Limiters the rate limit stage chooses from
type Limiters struct {
	// Credential attempts, requests matching AuthAttempts
	Auth limiter

	// Everything else
	API limiter

	AuthAttempts *Routes

	// Peers whose forwarding headers name the client of anonymous requests
	TrustedProxies TrustedProxies
}

// RateLimit admits request or stops it with 429
// Authenticated requests are keyed by principal, anonymous ones by client address
func RateLimit(limiters Limiters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := limiters.API
			if limiters.AuthAttempts != nil && limiters.AuthAttempts.Match(r.URL.Path) {
				l = limiters.Auth
			}

			d := l.TryAcquire(r.Context(), rateLimitKey(r, limiters.TrustedProxies), 1)
			if !d.Admitted {
				render.ServiceError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request, proxies TrustedProxies) string {
	if p, ok := userctx.FromContext(r.Context()); ok {
		return "principal:" + p.Username
	}
	return "ip:" + proxies.ClientIP(r)
}
