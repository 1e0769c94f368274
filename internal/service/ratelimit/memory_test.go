package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/testutil"
)

func Test_MemoryStore(t *testing.T) {
	now := testutil.MustParseTime("2025-03-01 10:00:00Z")
	limit := models.Limit{Capacity: 5, RefillPerSecond: 1, IdleTTL: time.Minute}

	t.Run("new bucket is full", func(t *testing.T) {
		s := NewMemoryStore()

		b, admitted, err := s.Take(t.Context(), "k", limit, 1, now)

		require.NoError(t, err)
		require.True(t, admitted)
		require.InDelta(t, 4.0, b.Tokens, 1e-9)
		require.Equal(t, 5, b.Capacity)
	})

	t.Run("cost above capacity never admitted", func(t *testing.T) {
		s := NewMemoryStore()

		b, admitted, err := s.Take(t.Context(), "k", limit, 6, now)

		require.NoError(t, err)
		require.False(t, admitted)
		require.InDelta(t, 5.0, b.Tokens, 1e-9)
	})

	t.Run("rejection keeps bucket", func(t *testing.T) {
		s := NewMemoryStore()
		_, _, err := s.Take(t.Context(), "k", limit, 4, now)
		require.NoError(t, err)

		_, admitted, err := s.Take(t.Context(), "k", limit, 2, now)
		require.NoError(t, err)
		require.False(t, admitted)

		b, admitted, err := s.Take(t.Context(), "k", limit, 1, now)
		require.NoError(t, err)
		require.True(t, admitted)
		require.InDelta(t, 0.0, b.Tokens, 1e-9)
	})

	t.Run("refill is capped", func(t *testing.T) {
		s := NewMemoryStore()
		_, _, err := s.Take(t.Context(), "k", limit, 1, now)
		require.NoError(t, err)

		b, _, err := s.Take(t.Context(), "k", limit, 1, now.Add(30*time.Second))

		require.NoError(t, err)
		require.InDelta(t, 4.0, b.Tokens, 1e-9)
	})

	t.Run("clock going back does not refill", func(t *testing.T) {
		s := NewMemoryStore()
		_, _, err := s.Take(t.Context(), "k", limit, 5, now)
		require.NoError(t, err)

		_, admitted, err := s.Take(t.Context(), "k", limit, 1, now.Add(-time.Hour))
		require.NoError(t, err)
		require.False(t, admitted)

		_, admitted, err = s.Take(t.Context(), "k", limit, 1, now)
		require.NoError(t, err)
		require.False(t, admitted, "going back and forth must not refill")
	})

	t.Run("zero refill", func(t *testing.T) {
		s := NewMemoryStore()
		zero := models.Limit{Capacity: 2, RefillPerSecond: 0, IdleTTL: time.Minute}

		b, admitted, err := s.Take(t.Context(), "k", zero, 1, now)
		require.NoError(t, err)
		require.True(t, admitted)
		require.Equal(t, 1.0, b.Tokens)

		_, admitted, err = s.Take(t.Context(), "k", zero, 1, now.Add(30*time.Second))
		require.NoError(t, err)
		require.True(t, admitted)

		b, admitted, err = s.Take(t.Context(), "k", zero, 1, now.Add(59*time.Second))
		require.NoError(t, err)
		require.False(t, admitted)
		require.Equal(t, 0.0, b.Tokens)
	})

	t.Run("idle bucket starts full", func(t *testing.T) {
		s := NewMemoryStore()
		zero := models.Limit{Capacity: 2, RefillPerSecond: 0, IdleTTL: time.Minute}
		_, _, err := s.Take(t.Context(), "k", zero, 2, now)
		require.NoError(t, err)

		b, admitted, err := s.Take(t.Context(), "k", zero, 1, now.Add(time.Minute))

		require.NoError(t, err)
		require.True(t, admitted)
		require.Equal(t, 1.0, b.Tokens)
	})

	t.Run("rejected takes keep bucket alive", func(t *testing.T) {
		s := NewMemoryStore()
		zero := models.Limit{Capacity: 2, RefillPerSecond: 0, IdleTTL: time.Minute}
		_, _, err := s.Take(t.Context(), "k", zero, 2, now)
		require.NoError(t, err)

		for i := 1; i <= 5; i++ {
			_, admitted, err := s.Take(t.Context(), "k", zero, 1, now.Add(time.Duration(i)*50*time.Second))
			require.NoError(t, err)
			require.Falsef(t, admitted, "take %d must stay rejected", i)
		}

		removed, err := s.Evict(t.Context(), now.Add(5*time.Minute))
		require.NoError(t, err)
		require.Zero(t, removed, "bucket touched by rejection is not idle")

		_, admitted, err := s.Take(t.Context(), "k", zero, 1, now.Add(250*time.Second+time.Minute))
		require.NoError(t, err)
		require.True(t, admitted, "bucket left alone for the whole ttl is full again")
	})

	t.Run("keys are independent", func(t *testing.T) {
		s := NewMemoryStore()
		_, _, err := s.Take(t.Context(), "a", limit, 5, now)
		require.NoError(t, err)

		_, admitted, err := s.Take(t.Context(), "b", limit, 5, now)

		require.NoError(t, err)
		require.True(t, admitted)
	})

	t.Run("evict idle", func(t *testing.T) {
		s := NewMemoryStore()
		_, _, err := s.Take(t.Context(), "old", limit, 1, now)
		require.NoError(t, err)
		_, _, err = s.Take(t.Context(), "fresh", limit, 1, now.Add(30*time.Second))
		require.NoError(t, err)

		removed, err := s.Evict(t.Context(), now.Add(time.Minute))

		require.NoError(t, err)
		require.Equal(t, int64(1), removed)
		require.Equal(t, 1, s.Len())
	})

	t.Run("concurrent takes never overdraw", func(t *testing.T) {
		for n := 2; n <= 64; n *= 2 {
			s := NewMemoryStore()
			zero := models.Limit{Capacity: n - 1, RefillPerSecond: 0, IdleTTL: time.Hour}

			var admitted atomic.Int32
			var wg sync.WaitGroup
			for range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, ok, err := s.Take(t.Context(), "k", zero, 1, now)
					assert.NoError(t, err)
					if ok {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()

			require.Equal(t, int32(n-1), admitted.Load(), "n=%d", n)
		}
	})
}
