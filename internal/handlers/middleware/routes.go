package middleware

import (
	"context"
	"strings"

	"github.com/nkiryanov/gatekeeper/internal/cache"
)

// Paths reachable without a principal
var DefaultPublicRoutes = []string{
	"/health",
	"/metrics",
	"/docs/",
	"/api/auth/login",
	"/api/auth/register",
	"/api/auth/refresh",
	"/api/auth/password-reset",
	"/api/auth/verify",
	"/oauth2/",
}

// Paths limited by the strict credential attempts limiter
var DefaultAuthAttemptRoutes = []string{
	"/api/auth/login",
	"/api/auth/register",
	"/api/auth/refresh",
	"/api/auth/password-reset",
	"/api/auth/verify",
}

// Max number of memoized paths, requests to random paths must not grow memory forever
const maxMemoizedRoutes = 10_000

// Route list matched by path prefix
//
// An entry matches the same path and every path below it, so "/api/auth/verify"
// matches "/api/auth/verify/abc" but not "/api/auth/verification".
// Results are memoized, the memo is cleared with Evict.
type Routes struct {
	prefixes []string
	memo     *cache.Cache[string, bool]
}

func NewRoutes(prefixes []string) *Routes {
	return &Routes{
		prefixes: prefixes,
		memo:     cache.New[string, bool](),
	}
}

func (r *Routes) Match(path string) bool {
	if matched, ok := r.memo.Get(path); ok {
		return matched
	}

	matched := false
	for _, prefix := range r.prefixes {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			matched = true
			break
		}
	}

	if r.memo.Len() < maxMemoizedRoutes {
		r.memo.Set(path, matched)
	}
	return matched
}

func (r *Routes) Evict(ctx context.Context) error {
	return r.memo.Evict(ctx)
}
