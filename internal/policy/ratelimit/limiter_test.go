package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlidingWindowCumulativeDelay(t *testing.T) {
	t.Parallel()

	const (
		limit  = 5
		calls  = 15
		window = 100 * time.Millisecond
	)
	l := NewSlidingWindow("test", limit, window)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < calls; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	elapsed := time.Since(start)

	// (N - limit) / limit * window
	minDelay := time.Duration(calls-limit) * window / limit
	require.GreaterOrEqual(t, elapsed, minDelay)
}

func TestSlidingWindowAdmitsBurstWithinLimit(t *testing.T) {
	t.Parallel()

	l := NewSlidingWindow("test", 10, time.Second)
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Equal(t, 10, l.InWindow())
}

func TestSlidingWindowConcurrentCallers(t *testing.T) {
	t.Parallel()

	l := NewSlidingWindow("test", 4, 80*time.Millisecond)
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background()))
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, time.Since(start), 160*time.Millisecond)
	require.LessOrEqual(t, l.InWindow(), 4)
}

func TestSlidingWindowPrunesExpired(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	l := NewSlidingWindow("test", 2, time.Second)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))
	require.Equal(t, 2, l.InWindow())

	now = now.Add(time.Second)
	require.Equal(t, 0, l.InWindow())
}

func TestSlidingWindowHonorsCancellation(t *testing.T) {
	t.Parallel()

	l := NewSlidingWindow("test", 1, time.Hour)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTokenBucketDelaysAfterBurst(t *testing.T) {
	t.Parallel()

	l := NewTokenBucket("test", 10, time.Second) // one token every 100ms
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(ctx))
	}

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestNewSelectsStrategy(t *testing.T) {
	t.Parallel()

	l, err := New("test", Config{})
	require.NoError(t, err)
	require.IsType(t, &SlidingWindow{}, l)

	l, err = New("test", Config{Strategy: "token_bucket", Limit: 5, Window: time.Second})
	require.NoError(t, err)
	require.IsType(t, &TokenBucket{}, l)

	_, err = New("test", Config{Strategy: "leaky"})
	require.Error(t, err)
}
