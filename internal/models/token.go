package models

import (
	"time"
)

// Kind of token. Each kind is bound to exactly one purpose by its audience tag
type TokenType string

const (
	TokenAppAuth        TokenType = "APP_AUTH"
	TokenAppAuthRefresh TokenType = "APP_AUTH_REFRESH"
	TokenPasswordReset  TokenType = "PW_RESET"
	TokenPasswordAuth   TokenType = "PW_AUTH"
	TokenVerification   TokenType = "VERIFICATION"
)

// All known token types in a stable order
var TokenTypes = []TokenType{
	TokenAppAuth,
	TokenAppAuthRefresh,
	TokenPasswordReset,
	TokenPasswordAuth,
	TokenVerification,
}

// Application claims embedded into a token
// Values must be JSON serializable; numbers come back as float64
type Claims map[string]any

type IssuedToken struct {
	Value     string
	Type      TokenType
	ExpiresAt time.Time
}

// Token pair issued on login or refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Result of successful token validation
// Signature, audience and expiry are verified already
type ValidatedClaims struct {
	Subject   string
	Audience  string
	Type      TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    Claims

	// Value of the type specific validation claim (nonce, session id, email, ...)
	// Empty if the token has no such claim. Comparing it is up to the caller
	ValidationClaim string
}
