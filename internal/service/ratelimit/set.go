package ratelimit

import (
	"fmt"
	"time"

	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/observability/errstatus"
	"github.com/nkiryanov/gatekeeper/internal/repository"
)

// Names of the limiters the pipeline uses
const (
	Auth = "auth" // login, registration and other credential attempts
	API  = "api"  // everything else
)

const DefaultIdleTTL = 10 * time.Minute

// Strict limits for credential attempts, lenient for the rest of api
func DefaultLimits() map[string]models.Limit {
	return map[string]models.Limit{
		Auth: {Capacity: 5, RefillPerSecond: 5.0 / 60, IdleTTL: DefaultIdleTTL},
		API:  {Capacity: 100, RefillPerSecond: 100.0 / 60, IdleTTL: DefaultIdleTTL},
	}
}

type SetConfig struct {
	Limits       map[string]models.Limit
	Policy       FailurePolicy
	StoreTimeout time.Duration
	Now          func() time.Time
}

// Named limiters sharing one store
type Set struct {
	limiters map[string]*Limiter
}

func NewSet(cfg SetConfig, store repository.BucketRepo, errs *errstatus.Counter, l logger.Logger) (*Set, error) {
	s := &Set{limiters: make(map[string]*Limiter, len(cfg.Limits))}

	for name, limit := range cfg.Limits {
		limiter, err := New(Config{
			Name:         name,
			Limit:        limit,
			Policy:       cfg.Policy,
			StoreTimeout: cfg.StoreTimeout,
			Now:          cfg.Now,
		}, store, errs, l)
		if err != nil {
			return nil, err
		}
		s.limiters[name] = limiter
	}

	return s, nil
}

// Get limiter by name
// Unknown name is a configuration error, so it panics
func (s *Set) Get(name string) *Limiter {
	l, ok := s.limiters[name]
	if !ok {
		panic(fmt.Sprintf("rate limiter %q is not configured", name))
	}
	return l
}

func (s *Set) Has(name string) bool {
	_, ok := s.limiters[name]
	return ok
}
