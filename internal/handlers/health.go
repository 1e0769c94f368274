package handlers

import (
	"net/http"

	"github.com/nkiryanov/gatekeeper/internal/handlers/render"
	"github.com/nkiryanov/gatekeeper/internal/observability/errstatus"
)

// Process is up while it answers. Error counts are informational only
func handleHealth(errs *errstatus.Counter) http.Handler {
	type response struct {
		Status string           `json:"status"`
		Errors map[string]int64 `json:"errors"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, response{Status: "ok", Errors: errs.Snapshot()})
	})
}
