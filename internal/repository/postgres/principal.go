package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
	"github.com/nkiryanov/gatekeeper/internal/models"
)

type PrincipalRepo struct {
	DB DBTX
}

const principalColumns = `id, created_at, username, email, password_hash, disabled, email_verified, reset_nonce`

const createPrincipal = `-- name: CreatePrincipal
INSERT INTO principals (id, username, email, password_hash, disabled, email_verified)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + principalColumns

// Create principal, zero ID is replaced with a new one
func (r *PrincipalRepo) Create(ctx context.Context, p models.Principal) (models.Principal, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, createPrincipal, p.ID, p.Username, p.Email, p.PasswordHash, p.Disabled, p.EmailVerified)
	created, err := pgx.CollectOneRow(rows, rowToPrincipal)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return created, apperrors.ErrPrincipalAlreadyExists
		}

		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getPrincipalByID = `-- name: GetPrincipalByID
SELECT ` + principalColumns + `
FROM principals
WHERE id = $1
`

func (r *PrincipalRepo) GetByID(ctx context.Context, id uuid.UUID) (models.Principal, error) {
	rows, _ := r.DB.Query(ctx, getPrincipalByID, id)
	return collectPrincipal(rows)
}

const getPrincipalByUsername = `-- name: GetPrincipalByUsername
SELECT ` + principalColumns + `
FROM principals
WHERE username = $1
`

func (r *PrincipalRepo) GetByUsername(ctx context.Context, username string) (models.Principal, error) {
	rows, _ := r.DB.Query(ctx, getPrincipalByUsername, username)
	return collectPrincipal(rows)
}

const setResetNonce = `-- name: SetResetNonce
UPDATE principals
SET reset_nonce = $2
WHERE id = $1
`

func (r *PrincipalRepo) SetResetNonce(ctx context.Context, id uuid.UUID, nonce *string) error {
	tag, err := r.DB.Exec(ctx, setResetNonce, id, nonce)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrPrincipalNotFound
	}
	return nil
}

const resetPassword = `-- name: ResetPassword
UPDATE principals
SET password_hash = $3, reset_nonce = NULL
WHERE id = $1 AND reset_nonce = $2
`

// Nonce is compared and cleared by the same statement so a nonce works once
func (r *PrincipalRepo) ResetPassword(ctx context.Context, id uuid.UUID, nonce string, passwordHash string) error {
	tag, err := r.DB.Exec(ctx, resetPassword, id, nonce, passwordHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNonceMismatch
	}
	return nil
}

const markEmailVerified = `-- name: MarkEmailVerified
UPDATE principals
SET email_verified = TRUE
WHERE id = $1 AND lower(email) = lower($2)
`

func (r *PrincipalRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID, email string) error {
	tag, err := r.DB.Exec(ctx, markEmailVerified, id, email)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNonceMismatch
	}
	return nil
}

func collectPrincipal(rows pgx.Rows) (models.Principal, error) {
	p, err := pgx.CollectOneRow(rows, rowToPrincipal)

	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, pgx.ErrNoRows):
		return p, apperrors.ErrPrincipalNotFound
	default:
		return p, fmt.Errorf("db error: %w", err)
	}
}

func rowToPrincipal(row pgx.CollectableRow) (models.Principal, error) {
	var p models.Principal
	err := row.Scan(&p.ID, &p.CreatedAt, &p.Username, &p.Email, &p.PasswordHash, &p.Disabled, &p.EmailVerified, &p.ResetNonce)
	return p, err
}
