// Package codec turns typed claims into signed compact tokens and back.
//
// Tokens are JWTs signed with HS256. The signing key is derived from the shared
// secret with HKDF, so the secret itself never touches the MAC directly.
// Decoding verifies the MAC over the raw signing input before any claim is
// parsed: an altered token is reported as a signature mismatch no matter which
// byte was changed.
package codec

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
	"github.com/nkiryanov/gatekeeper/internal/models"
)

const (
	// Shortest shared secret accepted, in bytes
	MinSecretLength = 32

	signingKeyLength = 32
	signingKeyInfo   = "gatekeeper token signing v1"
)

type tokenClaims struct {
	jwt.RegisteredClaims
	Type   models.TokenType `json:"typ"`
	Claims models.Claims    `json:"ctx,omitempty"`
}

// Decoded token with verified signature and audience
// Expiry is not checked by the codec
type Token struct {
	ID        string
	Subject   string
	Audience  string
	Type      models.TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    models.Claims
}

type Codec struct {
	key      []byte
	method   *jwt.SigningMethodHMAC
	parser   *jwt.Parser
	registry Registry
}

func New(secret []byte, registry Registry) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("secret key must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}

	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token registry. Err: %w", err)
	}

	key := make([]byte, signingKeyLength)
	_, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(signingKeyInfo)), key)
	if err != nil {
		return nil, fmt.Errorf("error while deriving signing key. Err: %w", err)
	}

	method := jwt.SigningMethodHS256

	return &Codec{
		key:    key,
		method: method,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(), // expiry is a service policy, not a codec one
		),
		registry: registry,
	}, nil
}

func (c *Codec) Registry() Registry {
	return c.registry
}

// Encode signs claims for subject as token of type t issued at now
// Returns the compact token and its expiration time
func (c *Codec) Encode(subject string, claims models.Claims, t models.TokenType, now time.Time) (string, time.Time, error) {
	spec, err := c.registry.Lookup(t)
	if err != nil {
		return "", time.Time{}, err
	}

	issuedAt := now.Truncate(time.Second)
	expiresAt := issuedAt.Add(spec.MaxAge)

	token := jwt.NewWithClaims(c.method, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Audience:  jwt.ClaimStrings{spec.Audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type:   t,
		Claims: claims,
	})

	value, err := token.SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error while signing token. Err: %w", err)
	}

	return value, expiresAt, nil
}

// Decode verifies token and checks it was issued for the expected type
// Never returns claims which signature was not verified
func (c *Codec) Decode(value string, expected models.TokenType) (Token, error) {
	var token Token

	spec, err := c.registry.Lookup(expected)
	if err != nil {
		return token, err
	}

	dot := strings.LastIndexByte(value, '.')
	if dot <= 0 {
		return token, malformed("no signature segment")
	}

	sig, err := c.parser.DecodeSegment(value[dot+1:])
	if err != nil || len(sig) == 0 {
		return token, malformed("signature segment is not decodable")
	}

	if err := c.method.Verify(value[:dot], sig, c.key); err != nil {
		return token, fmt.Errorf("error while verifying signature. Err: %w", errors.Join(apperrors.ErrSignatureMismatch, err))
	}

	claims := &tokenClaims{}
	_, err = c.parser.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) { return c.key, nil })
	if err != nil {
		return token, malformed(err.Error())
	}

	switch {
	case claims.Subject == "":
		return token, malformed("subject is missing")
	case claims.IssuedAt == nil || claims.ExpiresAt == nil:
		return token, malformed("timestamps are missing")
	case len(claims.Audience) != 1:
		return token, malformed("token must have exactly one audience")
	}

	if claims.Audience[0] != spec.Audience {
		return token, fmt.Errorf("got %q, expected %q. Err: %w", claims.Audience[0], spec.Audience, apperrors.ErrAudienceMismatch)
	}

	return Token{
		ID:        claims.ID,
		Subject:   claims.Subject,
		Audience:  claims.Audience[0],
		Type:      claims.Type,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Claims:    claims.Claims,
	}, nil
}

func malformed(reason string) error {
	return fmt.Errorf("%s. Err: %w", reason, apperrors.ErrMalformedToken)
}
