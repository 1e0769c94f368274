package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/service/token/codec"
)

// Token service with sensible defaults
type Config struct {
	// Shared secret the signing key derives from
	// Required, at least codec.MinSecretLength bytes
	SecretKey string

	// Per type max age overrides
	// Types not listed keep registry defaults
	MaxAge map[models.TokenType]time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

// Issues and validates typed tokens
// Stateless, safe for concurrent use
type Service struct {
	codec *codec.Codec
	now   func() time.Time
}

func New(cfg Config) (*Service, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	registry, err := codec.DefaultRegistry().WithMaxAge(cfg.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("error while configuring token types. Err: %w", err)
	}

	c, err := codec.New([]byte(cfg.SecretKey), registry)
	if err != nil {
		return nil, fmt.Errorf("error while creating token codec. Err: %w", err)
	}

	return &Service{codec: c, now: cfg.Now}, nil
}

// Issue signed token of type t for the subject
// Failing here means misconfiguration, callers should treat it as internal error
func (s *Service) Issue(subject string, claims models.Claims, t models.TokenType) (models.IssuedToken, error) {
	value, expiresAt, err := s.codec.Encode(subject, claims, t, s.now())
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while issuing %s token. Err: %w", t, err)
	}

	return models.IssuedToken{Value: value, Type: t, ExpiresAt: expiresAt}, nil
}

// Validate token of type t
//
// Codec failures are wrapped with apperrors.ErrTokenValidation and keep the cause,
// expired tokens return apperrors.ErrTokenExpired. A token is expired starting
// exactly at its expiration time.
func (s *Service) Validate(value string, t models.TokenType) (models.ValidatedClaims, error) {
	token, err := s.codec.Decode(value, t)
	if err != nil {
		return models.ValidatedClaims{}, fmt.Errorf("%w. Err: %w", apperrors.ErrTokenValidation, err)
	}

	if !s.now().Before(token.ExpiresAt) {
		return models.ValidatedClaims{}, fmt.Errorf("expired at %s. Err: %w", token.ExpiresAt.Format(time.RFC3339), apperrors.ErrTokenExpired)
	}

	spec, err := s.codec.Registry().Lookup(t)
	if err != nil {
		return models.ValidatedClaims{}, err
	}

	return models.ValidatedClaims{
		Subject:         token.Subject,
		Audience:        token.Audience,
		Type:            t,
		IssuedAt:        token.IssuedAt,
		ExpiresAt:       token.ExpiresAt,
		Claims:          token.Claims,
		ValidationClaim: claimString(token.Claims, spec.ValidationClaim),
	}, nil
}

func claimString(claims models.Claims, key string) string {
	v, ok := claims[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
