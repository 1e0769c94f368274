package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/repository"
	"github.com/nkiryanov/gatekeeper/internal/service/token"
)

// Claim keys the account flows put into tokens
const (
	claimSessionID = "sid"
	claimNonce     = "nonce"
	claimEmail     = "email"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Hasher to use during registration, login and password reset
	// BcryptHasher if not set
	Hasher PasswordHasher

	// Delivery of reset and verification tokens
	// LogMailer if not set
	Mailer Mailer
}

// Account flows on top of token service and principal directory
type Service struct {
	tokens     *token.Service
	hasher     PasswordHasher
	mailer     Mailer
	principals repository.PrincipalRepo
	logger     logger.Logger

	// compared against when principal is unknown so login takes the same time
	dummyHash string
}

func NewService(cfg Config, tokens *token.Service, principals repository.PrincipalRepo, l logger.Logger) (*Service, error) {
	if tokens == nil || principals == nil {
		return nil, errors.New("token service and principal repo must not be nil")
	}

	l = l.With("component", "auth")

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	mailer := cfg.Mailer
	if mailer == nil {
		mailer = LogMailer{Logger: l}
	}

	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("hasher is broken. Err: %w", err)
	}

	return &Service{
		tokens:     tokens,
		hasher:     hasher,
		mailer:     mailer,
		principals: principals,
		logger:     l,
		dummyHash:  dummyHash,
	}, nil
}

// Register principal, mail verification token and return login tokens
func (s *Service) Register(ctx context.Context, username string, email string, password string) (models.TokenPair, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	p, err := s.principals.Create(ctx, models.Principal{Username: username, Email: email, PasswordHash: hash})
	if err != nil {
		return models.TokenPair{}, err
	}

	if err := s.sendVerification(ctx, p); err != nil {
		// Principal exists already, verification may be requested again
		s.logger.Error("Failed to send verification token", "username", username, "error", err)
	}

	return s.issuePair(p, uuid.NewString())
}

// Login with username and password
// Unknown, disabled principal or wrong password are all apperrors.ErrInvalidCredentials
func (s *Service) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	p, err := s.principals.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, apperrors.ErrPrincipalNotFound):
		_ = s.hasher.Compare(s.dummyHash, password)
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.TokenPair{}, err
	}

	if err := s.hasher.Compare(p.PasswordHash, password); err != nil {
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	}
	if p.Disabled {
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	return s.issuePair(p, uuid.NewString())
}

// Issue new token pair for a valid refresh token, session id is kept
func (s *Service) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	claims, err := s.tokens.Validate(refresh, models.TokenAppAuthRefresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	p, err := s.Principal(ctx, claims.Subject)
	if err != nil {
		return models.TokenPair{}, err
	}

	sid := claims.ValidationClaim
	if sid == "" {
		sid = uuid.NewString()
	}

	return s.issuePair(p, sid)
}

// Mail password reset token with a fresh nonce
// Unknown or disabled principals are ignored silently so the endpoint does not reveal them
func (s *Service) RequestPasswordReset(ctx context.Context, username string) error {
	p, err := s.Principal(ctx, username)
	switch {
	case errors.Is(err, apperrors.ErrPrincipalNotFound), errors.Is(err, apperrors.ErrPrincipalDisabled):
		s.logger.Debug("Password reset requested for unknown principal", "username", username)
		return nil
	case err != nil:
		return err
	}

	nonce, err := newNonce()
	if err != nil {
		return err
	}

	if err := s.principals.SetResetNonce(ctx, p.ID, &nonce); err != nil {
		return err
	}

	t, err := s.tokens.Issue(p.Username, models.Claims{claimNonce: nonce}, models.TokenPasswordReset)
	if err != nil {
		return err
	}

	return s.mailer.Send(ctx, p, t)
}

// Exchange reset token for a short lived token allowed to set the password
func (s *Service) ConfirmPasswordReset(ctx context.Context, resetToken string) (models.IssuedToken, error) {
	claims, err := s.tokens.Validate(resetToken, models.TokenPasswordReset)
	if err != nil {
		return models.IssuedToken{}, err
	}

	p, err := s.Principal(ctx, claims.Subject)
	if err != nil {
		return models.IssuedToken{}, err
	}

	if !nonceMatches(p.ResetNonce, claims.ValidationClaim) {
		return models.IssuedToken{}, apperrors.ErrNonceMismatch
	}

	return s.tokens.Issue(p.Username, models.Claims{claimNonce: claims.ValidationClaim}, models.TokenPasswordAuth)
}

// Set new password, nonce of the token is used up
func (s *Service) ResetPassword(ctx context.Context, pwAuthToken string, newPassword string) error {
	claims, err := s.tokens.Validate(pwAuthToken, models.TokenPasswordAuth)
	if err != nil {
		return err
	}

	p, err := s.Principal(ctx, claims.Subject)
	if err != nil {
		return err
	}

	if claims.ValidationClaim == "" {
		return apperrors.ErrNonceMismatch
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("can't use this as password. Err: %w", err)
	}

	return s.principals.ResetPassword(ctx, p.ID, claims.ValidationClaim, hash)
}

func (s *Service) RequestVerification(ctx context.Context, username string) error {
	p, err := s.Principal(ctx, username)
	if err != nil {
		return err
	}

	return s.sendVerification(ctx, p)
}

// Verify email, token is valid only while principal email is the same
func (s *Service) Verify(ctx context.Context, verificationToken string) error {
	claims, err := s.tokens.Validate(verificationToken, models.TokenVerification)
	if err != nil {
		return err
	}

	p, err := s.Principal(ctx, claims.Subject)
	if err != nil {
		return err
	}

	if claims.ValidationClaim == "" {
		return apperrors.ErrNonceMismatch
	}

	return s.principals.MarkEmailVerified(ctx, p.ID, claims.ValidationClaim)
}

// Get enabled principal by username
func (s *Service) Principal(ctx context.Context, username string) (models.Principal, error) {
	p, err := s.principals.GetByUsername(ctx, username)
	if err != nil {
		return p, err
	}

	if p.Disabled {
		return p, apperrors.ErrPrincipalDisabled
	}

	return p, nil
}

func (s *Service) issuePair(p models.Principal, sid string) (models.TokenPair, error) {
	claims := models.Claims{claimSessionID: sid}

	access, err := s.tokens.Issue(p.Username, claims, models.TokenAppAuth)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := s.tokens.Issue(p.Username, claims, models.TokenAppAuthRefresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

func (s *Service) sendVerification(ctx context.Context, p models.Principal) error {
	t, err := s.tokens.Issue(p.Username, models.Claims{claimEmail: p.Email}, models.TokenVerification)
	if err != nil {
		return err
	}

	return s.mailer.Send(ctx, p, t)
}

// Random 16 bytes as hex
func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating nonce. Err: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func nonceMatches(stored *string, got string) bool {
	if stored == nil || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(got)) == 1
}
