package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
	"github.com/nkiryanov/gatekeeper/internal/models"
)

// Shared token bucket store
// The whole refill-check-take sequence runs inside rate_bucket_take, see migration 000002
type BucketRepo struct {
	DB DBTX
}

const takeBucket = `-- name: TakeBucket
SELECT admitted, available_tokens, last_refill
FROM rate_bucket_take($1, $2, $3, $4, $5, $6)
`

func (r *BucketRepo) Take(ctx context.Context, key string, limit models.Limit, cost int, now time.Time) (models.Bucket, bool, error) {
	b := models.Bucket{Key: key, Capacity: limit.Capacity}
	var admitted bool

	err := r.DB.QueryRow(ctx, takeBucket,
		key, limit.Capacity, limit.RefillPerSecond, cost, now, limit.IdleTTL.Seconds(),
	).Scan(&admitted, &b.Tokens, &b.RefilledAt)
	if err != nil {
		return b, false, storeError("take bucket", err)
	}

	return b, admitted, nil
}

const evictBuckets = `-- name: EvictBuckets
DELETE FROM rate_buckets
WHERE expires_at <= $1
`

func (r *BucketRepo) Evict(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, evictBuckets, now)
	if err != nil {
		return 0, storeError("evict buckets", err)
	}
	return tag.RowsAffected(), nil
}

// Every store failure is ErrStoreUnavailable for the limiter
// Postgres error class is kept in the message for operators
func storeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w. %s failed with %s (%s). Err: %w", apperrors.ErrStoreUnavailable, op, pgErr.Code, errorClass(pgErr.Code), err)
	}
	return fmt.Errorf("%w. %s failed. Err: %w", apperrors.ErrStoreUnavailable, op, err)
}

func errorClass(code string) string {
	switch {
	case pgerrcode.IsConnectionException(code):
		return "connection"
	case pgerrcode.IsInsufficientResources(code):
		return "insufficient resources"
	case pgerrcode.IsOperatorIntervention(code):
		return "operator intervention"
	case pgerrcode.IsTransactionRollback(code):
		return "rollback"
	case code == pgerrcode.UndefinedFunction, code == pgerrcode.UndefinedTable:
		return "schema not migrated"
	default:
		return "other"
	}
}
