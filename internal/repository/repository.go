package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gatekeeper/internal/models"
)

type Storage interface {
	Principal() PrincipalRepo
	Bucket() BucketRepo
}

// Principal directory
type PrincipalRepo interface {
	// Create principal
	// If username or email is taken already must return apperrors.ErrPrincipalAlreadyExists
	Create(ctx context.Context, p models.Principal) (models.Principal, error)

	// Get principal by it's id or username
	// If principal not found must return apperrors.ErrPrincipalNotFound
	GetByID(ctx context.Context, id uuid.UUID) (models.Principal, error)
	GetByUsername(ctx context.Context, username string) (models.Principal, error)

	// Store nonce of pending password reset, nil clears it
	SetResetNonce(ctx context.Context, id uuid.UUID, nonce *string) error

	// Replace password hash and clear the nonce in one step
	// If stored nonce differs (or is used already) must return apperrors.ErrNonceMismatch
	ResetPassword(ctx context.Context, id uuid.UUID, nonce string, passwordHash string) error

	// Mark email verified only if it still equals the email
	// Otherwise must return apperrors.ErrNonceMismatch
	MarkEmailVerified(ctx context.Context, id uuid.UUID, email string) error
}

// Token bucket store shared by every limiter instance
type BucketRepo interface {
	// Refill bucket up to now, then take cost tokens if available
	// All of it happens atomically per key. Rejection must not change the bucket.
	// Bucket missing or idle longer than limit.IdleTTL is taken as full.
	// Any failure must wrap apperrors.ErrStoreUnavailable
	Take(ctx context.Context, key string, limit models.Limit, cost int, now time.Time) (b models.Bucket, admitted bool, err error)

	// Remove buckets idle at now, returns number of removed buckets
	Evict(ctx context.Context, now time.Time) (int64, error)
}
