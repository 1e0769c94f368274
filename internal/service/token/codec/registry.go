package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
	"github.com/nkiryanov/gatekeeper/internal/models"
)

// Static properties of a token type
type TypeSpec struct {
	MaxAge time.Duration

	// Embedded as 'aud' into every token of the type
	Audience string

	// Claim key that carries the type specific validation value
	ValidationClaim string
}

// Table of token types
// Adding a type requires both max age and unique audience tag
type Registry map[models.TokenType]TypeSpec

// Registry with the contract defaults
func DefaultRegistry() Registry {
	return Registry{
		models.TokenAppAuth: {
			MaxAge:          300 * time.Second,
			Audience:        "app-auth",
			ValidationClaim: "sid",
		},
		models.TokenAppAuthRefresh: {
			MaxAge:          86400 * time.Second,
			Audience:        "app-auth-refresh",
			ValidationClaim: "sid",
		},
		models.TokenPasswordReset: {
			MaxAge:          86400 * time.Second,
			Audience:        "pw-reset",
			ValidationClaim: "nonce",
		},
		models.TokenPasswordAuth: {
			MaxAge:          300 * time.Second,
			Audience:        "pw-auth",
			ValidationClaim: "nonce",
		},
		models.TokenVerification: {
			MaxAge:          31536000 * time.Second,
			Audience:        "verification",
			ValidationClaim: "email",
		},
	}
}

func (r Registry) Lookup(t models.TokenType) (TypeSpec, error) {
	spec, ok := r[t]
	if !ok {
		return spec, fmt.Errorf("token type %q. Err: %w", t, apperrors.ErrUnknownTokenType)
	}
	return spec, nil
}

// Return a copy of registry with max ages overridden
// Zero durations are ignored
func (r Registry) WithMaxAge(overrides map[models.TokenType]time.Duration) (Registry, error) {
	out := make(Registry, len(r))
	for t, spec := range r {
		out[t] = spec
	}

	for t, maxAge := range overrides {
		if maxAge == 0 {
			continue
		}
		spec, err := out.Lookup(t)
		if err != nil {
			return nil, err
		}
		spec.MaxAge = maxAge
		out[t] = spec
	}

	return out, out.Validate()
}

// Check table invariants: positive max age, unique non empty audience
func (r Registry) Validate() error {
	var errs []error
	seen := make(map[string]models.TokenType, len(r))

	for t, spec := range r {
		if spec.MaxAge <= 0 {
			errs = append(errs, fmt.Errorf("token type %q: max age must be positive", t))
		}
		if spec.Audience == "" {
			errs = append(errs, fmt.Errorf("token type %q: audience must not be empty", t))
			continue
		}
		if other, ok := seen[spec.Audience]; ok {
			errs = append(errs, fmt.Errorf("token types %q and %q share audience %q", t, other, spec.Audience))
		}
		seen[spec.Audience] = t
	}

	return errors.Join(errs...)
}
