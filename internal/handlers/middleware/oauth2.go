package middleware

import (
	"net/http"
	"strings"

	"github.com/nkiryanov/gatekeeper/internal/handlers/render"
)

const (
	oauth2AuthorizePath = "/oauth2/authorize"
	oauth2CallbackPath  = "/oauth2/callback/"
)

// OAuth2 hands delegated login routes to the provider handler
// Without provider these routes are not found. Other requests go on.
func OAuth2(provider http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != oauth2AuthorizePath && !strings.HasPrefix(r.URL.Path, oauth2CallbackPath) {
				next.ServeHTTP(w, r)
				return
			}

			if provider == nil {
				render.ServiceError(w, "Not found", http.StatusNotFound)
				return
			}

			provider.ServeHTTP(w, r)
		})
	}
}
