package middleware

import (
	"net/http"

	"github.com/nkiryanov/gatekeeper/internal/handlers/render"
	"github.com/nkiryanov/gatekeeper/internal/handlers/userctx"
)

// RequireAuth stops anonymous requests to routes not listed as public
// Pre-flight requests are always public
func RequireAuth(public *Routes) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := userctx.FromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions || public.Match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			render.Unauthorized(w, false)
		})
	}
}
