// Package ratelimit admits or rejects callers with token buckets kept in a shared store.
//
// The store does refill, check and take as one atomic step, the limiter only picks
// the key and decides what happens when the store can not answer in time.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/observability/errstatus"
	"github.com/nkiryanov/gatekeeper/internal/repository"
)

const DefaultStoreTimeout = 100 * time.Millisecond

// What to answer when the store failed or timed out
type FailurePolicy int

const (
	FailClosed FailurePolicy = iota // reject
	FailOpen                        // admit
)

func (p FailurePolicy) String() string {
	if p == FailOpen {
		return "fail-open"
	}
	return "fail-closed"
}

type Config struct {
	Name  string `validate:"required"`
	Limit models.Limit

	// FailClosed if not set
	Policy FailurePolicy

	// Max time of one store round trip, DefaultStoreTimeout if not set
	StoreTimeout time.Duration `validate:"gte=0"`

	// Clock, time.Now if not set
	Now func() time.Time
}

type Limiter struct {
	name    string
	limit   models.Limit
	store   repository.BucketRepo
	policy  FailurePolicy
	timeout time.Duration
	now     func() time.Time
	errs    *errstatus.Counter
	logger  logger.Logger
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func New(cfg Config, store repository.BucketRepo, errs *errstatus.Counter, l logger.Logger) (*Limiter, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid limiter %q config. Err: %w", cfg.Name, err)
	}
	if store == nil {
		return nil, errors.New("bucket store is required")
	}

	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Limiter{
		name:    cfg.Name,
		limit:   cfg.Limit,
		store:   store,
		policy:  cfg.Policy,
		timeout: cfg.StoreTimeout,
		now:     cfg.Now,
		errs:    errs,
		logger:  l.With("component", "ratelimit", "limiter", cfg.Name),
	}, nil
}

func (l *Limiter) Name() string {
	return l.name
}

// TryAcquire takes cost tokens from the key's bucket
//
// Store failures and timeouts never surface as errors, the failure policy decides instead
// and the decision is marked FailedOver.
func (l *Limiter) TryAcquire(ctx context.Context, key string, cost int) models.Decision {
	if cost < 1 {
		cost = 1
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	b, admitted, err := l.store.Take(ctx, l.name+":"+key, l.limit, cost, l.now())
	if err != nil {
		err = storeErr(err)
		l.logger.Error("Rate limit store failed, applying failure policy", "policy", l.policy, "key", key, "error", err)
		l.errs.Inc(errstatus.StoreUnavailable)
		return models.Decision{Admitted: l.policy == FailOpen, FailedOver: true}
	}

	if !admitted {
		l.logger.Debug("Rate limit exceeded", "key", key, "remaining", b.Tokens)
		l.errs.Inc(errstatus.RateLimited)
	}

	return models.Decision{Admitted: admitted, Remaining: b.Tokens}
}

// Stores wrap apperrors.ErrStoreUnavailable already, anything else gets wrapped here
func storeErr(err error) error {
	if errors.Is(err, apperrors.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w. Err: %w", apperrors.ErrStoreUnavailable, err)
}
