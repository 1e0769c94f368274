package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nkiryanov/gatekeeper/internal/models"
)

// In process bucket store
// Buckets live in this process only, use it for a single instance or tests
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	limiter  *rate.Limiter
	limit    models.Limit
	lastSeen time.Time // latest time the bucket was asked at, refill never goes back
	touched  time.Time // latest take admitted or not, drives idle expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*memoryBucket)}
}

func (s *MemoryStore) Take(_ context.Context, key string, limit models.Limit, cost int, now time.Time) (models.Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || b.limit != limit || !now.Before(b.touched.Add(limit.IdleTTL)) {
		// New limit parameters start a fresh bucket too
		b = &memoryBucket{
			limiter:  rate.NewLimiter(rate.Limit(limit.RefillPerSecond), limit.Capacity),
			limit:    limit,
			lastSeen: now,
			touched:  now,
		}
		s.buckets[key] = b
	}

	if now.After(b.lastSeen) {
		b.lastSeen = now
	}

	admitted := b.limiter.AllowN(b.lastSeen, cost)
	b.touched = b.lastSeen

	return models.Bucket{
		Key:        key,
		Capacity:   limit.Capacity,
		Tokens:     b.tokens(),
		RefilledAt: b.lastSeen,
	}, admitted, nil
}

// Drop buckets idle at now
func (s *MemoryStore) Evict(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, b := range s.buckets {
		if !now.Before(b.touched.Add(b.limit.IdleTTL)) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.buckets)
}

func (b *memoryBucket) tokens() float64 {
	// Limiter without refill spends its burst directly
	if b.limit.RefillPerSecond == 0 {
		return float64(b.limiter.Burst())
	}
	return b.limiter.TokensAt(b.lastSeen)
}
