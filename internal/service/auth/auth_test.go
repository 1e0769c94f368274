package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/repository/postgres"
	"github.com/nkiryanov/gatekeeper/internal/service/token"
	"github.com/nkiryanov/gatekeeper/internal/testutil"
)

// Mailer remembering sent tokens
type recordingMailer struct {
	mu   sync.Mutex
	sent []models.IssuedToken
}

func (m *recordingMailer) Send(_ context.Context, _ models.Principal, t models.IssuedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, t)
	return nil
}

// Last sent token of type t
func (m *recordingMailer) last(t *testing.T, tokenType models.TokenType) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Type == tokenType {
			return m.sent[i].Value
		}
	}
	t.Fatalf("no %s token was mailed", tokenType)
	return ""
}

func Test_Auth(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	tokens, err := token.New(token.Config{SecretKey: testutil.TestSecret})
	require.NoError(t, err)

	// Begin new db transaction and create new Service
	// Rollback transaction when test stops
	withTx := func(t *testing.T, fn func(s *Service, repo *postgres.PrincipalRepo, mailer *recordingMailer)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := &postgres.PrincipalRepo{DB: tx}
			mailer := &recordingMailer{}

			s, err := NewService(Config{Mailer: mailer, Hasher: BcryptHasher{Cost: bcrypt.MinCost}}, tokens, repo, logger.NewNoOpLogger())
			require.NoError(t, err, "auth service could't be started")

			fn(s, repo, mailer)
		})
	}

	t.Run("new service defaults", func(t *testing.T) {
		s, err := NewService(Config{}, tokens, &postgres.PrincipalRepo{DB: pg.Pool}, logger.NewNoOpLogger())
		require.NoError(t, err)

		require.Equal(t, BcryptHasher{}, s.hasher, "default hasher should be set to BcryptHasher")
		require.IsType(t, LogMailer{}, s.mailer)
	})

	t.Run("new service requires deps", func(t *testing.T) {
		_, err := NewService(Config{}, nil, nil, logger.NewNoOpLogger())
		require.Error(t, err)
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("new principal ok", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, mailer *recordingMailer) {
				pair, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")

				require.NoError(t, err, "registering new principal should be ok")
				require.Equal(t, models.TokenAppAuth, pair.Access.Type)
				require.Equal(t, models.TokenAppAuthRefresh, pair.Refresh.Type)

				access, err := tokens.Validate(pair.Access.Value, models.TokenAppAuth)
				require.NoError(t, err)
				require.Equal(t, "alice", access.Subject)

				refresh, err := tokens.Validate(pair.Refresh.Value, models.TokenAppAuthRefresh)
				require.NoError(t, err)
				require.Equal(t, access.ValidationClaim, refresh.ValidationClaim, "pair shares session id")

				require.NotEmpty(t, mailer.last(t, models.TokenVerification), "verification token should be mailed")
			})
		})

		t.Run("fail if principal exists", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, _ *recordingMailer) {
				_, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")
				require.NoError(t, err)

				_, err = s.Register(t.Context(), "alice", "other@example.com", "other-pwd")

				require.ErrorIs(t, err, apperrors.ErrPrincipalAlreadyExists)
			})
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("existing principal ok", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, _ *recordingMailer) {
				_, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")
				require.NoError(t, err)

				pair, err := s.Login(t.Context(), "alice", "pwd")

				require.NoError(t, err)
				require.NotEmpty(t, pair.Access.Value)
				require.NotEmpty(t, pair.Refresh.Value)
			})
		})

		tests := []struct {
			name     string
			login    string
			password string
		}{
			{"wrong password", "alice", "wrong"},
			{"unknown principal", "bob", "pwd"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				withTx(t, func(s *Service, _ *postgres.PrincipalRepo, _ *recordingMailer) {
					_, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")
					require.NoError(t, err)

					_, err = s.Login(t.Context(), tt.login, tt.password)

					require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
				})
			})
		}

		t.Run("disabled principal", func(t *testing.T) {
			withTx(t, func(s *Service, repo *postgres.PrincipalRepo, _ *recordingMailer) {
				hash, err := BcryptHasher{Cost: bcrypt.MinCost}.Hash("pwd")
				require.NoError(t, err)
				_, err = repo.Create(t.Context(), models.Principal{Username: "mallory", Email: "m@example.com", PasswordHash: hash, Disabled: true})
				require.NoError(t, err)

				_, err = s.Login(t.Context(), "mallory", "pwd")

				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
			})
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("keeps session", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, _ *recordingMailer) {
				pair, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")
				require.NoError(t, err)

				refreshed, err := s.Refresh(t.Context(), pair.Refresh.Value)
				require.NoError(t, err)

				before, err := tokens.Validate(pair.Access.Value, models.TokenAppAuth)
				require.NoError(t, err)
				after, err := tokens.Validate(refreshed.Access.Value, models.TokenAppAuth)
				require.NoError(t, err)
				require.Equal(t, before.ValidationClaim, after.ValidationClaim)
			})
		})

		t.Run("access token is not refresh token", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, _ *recordingMailer) {
				pair, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), pair.Access.Value)

				require.ErrorIs(t, err, apperrors.ErrAudienceMismatch)
			})
		})
	})

	t.Run("Password reset", func(t *testing.T) {
		t.Run("full flow", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, mailer *recordingMailer) {
				_, err := s.Register(t.Context(), "alice", "alice@example.com", "old-pwd")
				require.NoError(t, err)

				require.NoError(t, s.RequestPasswordReset(t.Context(), "alice"))
				resetToken := mailer.last(t, models.TokenPasswordReset)

				pwAuth, err := s.ConfirmPasswordReset(t.Context(), resetToken)
				require.NoError(t, err)
				require.Equal(t, models.TokenPasswordAuth, pwAuth.Type)

				require.NoError(t, s.ResetPassword(t.Context(), pwAuth.Value, "new-pwd"))

				_, err = s.Login(t.Context(), "alice", "old-pwd")
				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
				_, err = s.Login(t.Context(), "alice", "new-pwd")
				require.NoError(t, err)

				err = s.ResetPassword(t.Context(), pwAuth.Value, "third-pwd")
				require.ErrorIs(t, err, apperrors.ErrNonceMismatch, "password auth token works once")

				_, err = s.ConfirmPasswordReset(t.Context(), resetToken)
				require.ErrorIs(t, err, apperrors.ErrNonceMismatch, "reset token works until password is reset")
			})
		})

		t.Run("newer request replaces nonce", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, mailer *recordingMailer) {
				_, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")
				require.NoError(t, err)

				require.NoError(t, s.RequestPasswordReset(t.Context(), "alice"))
				first := mailer.last(t, models.TokenPasswordReset)
				require.NoError(t, s.RequestPasswordReset(t.Context(), "alice"))

				_, err = s.ConfirmPasswordReset(t.Context(), first)

				require.ErrorIs(t, err, apperrors.ErrNonceMismatch)
			})
		})

		t.Run("unknown principal is silent", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, mailer *recordingMailer) {
				err := s.RequestPasswordReset(t.Context(), "nobody")

				require.NoError(t, err)
				require.Empty(t, mailer.sent)
			})
		})

		t.Run("reset token is not password auth token", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, mailer *recordingMailer) {
				_, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")
				require.NoError(t, err)
				require.NoError(t, s.RequestPasswordReset(t.Context(), "alice"))

				err = s.ResetPassword(t.Context(), mailer.last(t, models.TokenPasswordReset), "new-pwd")

				require.ErrorIs(t, err, apperrors.ErrAudienceMismatch)
			})
		})
	})

	t.Run("Verification", func(t *testing.T) {
		t.Run("verify mailed token", func(t *testing.T) {
			withTx(t, func(s *Service, repo *postgres.PrincipalRepo, mailer *recordingMailer) {
				_, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")
				require.NoError(t, err)

				require.NoError(t, s.Verify(t.Context(), mailer.last(t, models.TokenVerification)))

				p, err := repo.GetByUsername(t.Context(), "alice")
				require.NoError(t, err)
				assert.True(t, p.EmailVerified)
			})
		})

		t.Run("request again", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, mailer *recordingMailer) {
				_, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")
				require.NoError(t, err)

				require.NoError(t, s.RequestVerification(t.Context(), "alice"))

				require.Len(t, mailer.sent, 2)
			})
		})

		t.Run("other token types rejected", func(t *testing.T) {
			withTx(t, func(s *Service, _ *postgres.PrincipalRepo, _ *recordingMailer) {
				pair, err := s.Register(t.Context(), "alice", "alice@example.com", "pwd")
				require.NoError(t, err)

				err = s.Verify(t.Context(), pair.Access.Value)

				require.ErrorIs(t, err, apperrors.ErrTokenValidation)
			})
		})
	})

	t.Run("Principal", func(t *testing.T) {
		withTx(t, func(s *Service, repo *postgres.PrincipalRepo, _ *recordingMailer) {
			_, err := repo.Create(t.Context(), models.Principal{Username: "mallory", Email: "m@example.com", PasswordHash: "x", Disabled: true})
			require.NoError(t, err)

			_, err = s.Principal(t.Context(), "mallory")
			require.ErrorIs(t, err, apperrors.ErrPrincipalDisabled)

			_, err = s.Principal(t.Context(), "nobody")
			require.ErrorIs(t, err, apperrors.ErrPrincipalNotFound)
		})
	})
}

func Test_LogMailer(t *testing.T) {
	m := LogMailer{Logger: logger.NewNoOpLogger()}

	err := m.Send(t.Context(), models.Principal{Email: "a@b.c"}, models.IssuedToken{Type: models.TokenVerification, Value: "v", ExpiresAt: time.Now()})

	require.NoError(t, err)
}
