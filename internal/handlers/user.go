package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/gatekeeper/internal/handlers/render"
	"github.com/nkiryanov/gatekeeper/internal/handlers/userctx"
)

func handlePrincipalMe() http.Handler {
	type response struct {
		ID            uuid.UUID `json:"id"`
		Username      string    `json:"username"`
		Email         string    `json:"email"`
		EmailVerified bool      `json:"email_verified"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := userctx.FromContext(r.Context())
		if !ok {
			render.Unauthorized(w, false)
			return
		}
		render.JSON(w, response{ID: p.ID, Username: p.Username, Email: p.Email, EmailVerified: p.EmailVerified})
	})
}
