package apperrors

import (
	"errors"
)

var (
	// Token codec failures. Distinguished for logging only, callers see ErrUnauthenticated
	ErrMalformedToken    = errors.New("token is malformed")
	ErrSignatureMismatch = errors.New("token signature mismatch")
	ErrAudienceMismatch  = errors.New("token audience mismatch")
	ErrUnknownTokenType  = errors.New("unknown token type")

	// Token service failures
	ErrTokenValidation = errors.New("token validation failed")
	ErrTokenExpired    = errors.New("token is expired")

	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNonceMismatch      = errors.New("token nonce does not match")

	ErrPrincipalNotFound      = errors.New("principal not found")
	ErrPrincipalDisabled      = errors.New("principal is disabled")
	ErrPrincipalAlreadyExists = errors.New("principal already exists")

	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrStoreUnavailable  = errors.New("rate limit store unavailable")
)
