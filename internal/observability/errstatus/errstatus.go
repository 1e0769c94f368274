// Package errstatus counts operational errors by category.
//
// One Counter is created at process start and handed to every component that
// reports errors. Counts only grow and are reset by restarting the process.
// They feed health reporting and metrics, never admission decisions.
package errstatus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nkiryanov/gatekeeper/internal/apperrors"
)

const (
	TokenMalformed    = "token_malformed"
	TokenSignature    = "token_signature"
	TokenAudience     = "token_audience"
	TokenExpired      = "token_expired"
	PrincipalRejected = "principal_rejected"
	RateLimited       = "rate_limited"
	StoreUnavailable  = "store_unavailable"
	Internal          = "internal"
)

type Counter struct {
	counts sync.Map // map[string]*atomic.Int64
	desc   *prometheus.Desc
}

func New() *Counter {
	return &Counter{
		desc: prometheus.NewDesc(
			"gatekeeper_errors_total",
			"Total number of operational errors by category",
			[]string{"category"},
			nil,
		),
	}
}

func (c *Counter) Inc(category string) {
	v, ok := c.counts.Load(category)
	if !ok {
		v, _ = c.counts.LoadOrStore(category, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(1)
}

// Count error under the category derived from it
func (c *Counter) IncErr(err error) {
	c.Inc(CategoryOf(err))
}

func (c *Counter) Get(category string) int64 {
	v, ok := c.counts.Load(category)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Point in time copy of all counters
func (c *Counter) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	c.counts.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Describe implements prometheus.Collector
func (c *Counter) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector
func (c *Counter) Collect(ch chan<- prometheus.Metric) {
	for category, count := range c.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(count), category)
	}
}

// Map error to its category, unknown errors are internal
func CategoryOf(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrSignatureMismatch):
		return TokenSignature
	case errors.Is(err, apperrors.ErrAudienceMismatch):
		return TokenAudience
	case errors.Is(err, apperrors.ErrMalformedToken):
		return TokenMalformed
	case errors.Is(err, apperrors.ErrTokenExpired):
		return TokenExpired
	case errors.Is(err, apperrors.ErrPrincipalNotFound),
		errors.Is(err, apperrors.ErrPrincipalDisabled),
		errors.Is(err, apperrors.ErrInvalidCredentials),
		errors.Is(err, apperrors.ErrNonceMismatch):
		return PrincipalRejected
	case errors.Is(err, apperrors.ErrRateLimitExceeded):
		return RateLimited
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return StoreUnavailable
	default:
		return Internal
	}
}
