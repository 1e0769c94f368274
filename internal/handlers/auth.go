package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
	"github.com/nkiryanov/gatekeeper/internal/handlers/render"
	"github.com/nkiryanov/gatekeeper/internal/handlers/userctx"
	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/observability/errstatus"
)

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func newTokenPairResponse(pair models.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(pair.Access),
	}
}

func expiresIn(t models.IssuedToken) int64 {
	return int64(time.Until(t.ExpiresAt).Round(time.Second).Seconds())
}

func handleRegister(accounts accountService, errs *errstatus.Counter, l logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required,min=2,max=50,username"`
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=8,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := accounts.Register(r.Context(), data.Username, data.Email, data.Password)
		switch {
		case err == nil:
			render.JSON(w, newTokenPairResponse(pair))
		case errors.Is(err, apperrors.ErrPrincipalAlreadyExists):
			render.ServiceError(w, "Principal already exists", http.StatusConflict)
		default:
			accountError(w, err, errs, l)
		}
	})
}

func handleLogin(accounts accountService, errs *errstatus.Counter, l logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := accounts.Login(r.Context(), data.Username, data.Password)
		switch {
		case err == nil:
			render.JSON(w, newTokenPairResponse(pair))
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			errs.IncErr(err)
			render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
		default:
			accountError(w, err, errs, l)
		}
	})
}

func handleRefresh(accounts accountService, errs *errstatus.Counter, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := accounts.Refresh(r.Context(), data.RefreshToken)
		if err != nil {
			accountError(w, err, errs, l)
			return
		}

		render.JSON(w, newTokenPairResponse(pair))
	})
}

func handlePasswordReset(accounts accountService, errs *errstatus.Counter, l logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := accounts.RequestPasswordReset(r.Context(), data.Username); err != nil {
			accountError(w, err, errs, l)
			return
		}

		// Same answer whether principal exists or not
		render.JSONWithStatus(w, messageResponse{Message: "Password reset requested"}, http.StatusAccepted)
	})
}

func handlePasswordResetConfirm(accounts accountService, errs *errstatus.Counter, l logger.Logger) http.Handler {
	type request struct {
		Token string `json:"token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		t, err := accounts.ConfirmPasswordReset(r.Context(), data.Token)
		if err != nil {
			accountError(w, err, errs, l)
			return
		}

		render.JSON(w, tokenResponse{Token: t.Value, ExpiresIn: expiresIn(t)})
	})
}

func handlePasswordResetComplete(accounts accountService, errs *errstatus.Counter, l logger.Logger) http.Handler {
	type request struct {
		Token    string `json:"token" validate:"required"`
		Password string `json:"password" validate:"required,min=8,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := accounts.ResetPassword(r.Context(), data.Token, data.Password); err != nil {
			accountError(w, err, errs, l)
			return
		}

		render.JSON(w, messageResponse{Message: "Password changed"})
	})
}

func handleVerify(accounts accountService, errs *errstatus.Counter, l logger.Logger) http.Handler {
	type request struct {
		Token string `json:"token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := accounts.Verify(r.Context(), data.Token); err != nil {
			accountError(w, err, errs, l)
			return
		}

		render.JSON(w, messageResponse{Message: "Email verified"})
	})
}

// Principal is set by the pipeline, route is not public
func handleRequestVerification(accounts accountService, errs *errstatus.Counter, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := userctx.FromContext(r.Context())
		if !ok {
			render.Unauthorized(w, false)
			return
		}

		if err := accounts.RequestVerification(r.Context(), p.Username); err != nil {
			accountError(w, err, errs, l)
			return
		}

		render.JSONWithStatus(w, messageResponse{Message: "Verification requested"}, http.StatusAccepted)
	})
}

// Render failures shared by account handlers
// Every token or nonce failure is the same 401, the reason goes to logs and counters only
func accountError(w http.ResponseWriter, err error, errs *errstatus.Counter, l logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrTokenValidation),
		errors.Is(err, apperrors.ErrTokenExpired),
		errors.Is(err, apperrors.ErrNonceMismatch),
		errors.Is(err, apperrors.ErrPrincipalNotFound),
		errors.Is(err, apperrors.ErrPrincipalDisabled):
		errs.IncErr(err)
		l.Debug("Token rejected", "error", err)
		render.Unauthorized(w, true)
	default:
		errs.Inc(errstatus.Internal)
		l.Error("Account request failed", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
