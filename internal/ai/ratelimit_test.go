package ai

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func newTestBucket(t *testing.T, rpm, burst int, clock *fakeClock) *TokenBucket {
	t.Helper()
	b, err := NewTokenBucket(rpm, burst,
		WithClock(clock.Now),
		WithSleeper(clock.Sleep),
		WithBucketLogger(zap.NewNop()))
	require.NoError(t, err)
	return b
}

func TestTokenBucketBurstFromColdStart(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(t, 14, 5, clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Acquire(context.Background()))
	}
	assert.Empty(t, clock.sleeps, "burst calls must not wait")

	require.NoError(t, b.Acquire(context.Background()))
	require.Len(t, clock.sleeps, 1)
	assert.InDelta(t, (60.0 / 14.0), clock.sleeps[0].Seconds(), 0.001)
}

func TestTokenBucketNeverExceedsBurstInShortWindow(t *testing.T) {
	for _, tc := range []struct{ rpm, burst int }{{14, 5}, {60, 1}, {120, 10}, {6, 3}} {
		clock := newFakeClock()
		b := newTestBucket(t, tc.rpm, tc.burst, clock)
		start := clock.Now()
		window := time.Duration(60.0 / float64(tc.rpm) * float64(time.Second))

		inWindow := 0
		for i := 0; i < tc.burst*4; i++ {
			require.NoError(t, b.Acquire(context.Background()))
			if clock.Now().Sub(start) < window {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, tc.burst, "rpm=%d burst=%d", tc.rpm, tc.burst)
	}
}

func TestTokenBucketConcurrentAcquireHonoursBurst(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(t, 14, 5, clock)
	start := clock.Now()

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// only the burst is granted without waiting, every other caller waits
	// exactly one token interval after the previous grant
	clock.mu.Lock()
	sleeps := append([]time.Duration(nil), clock.sleeps...)
	clock.mu.Unlock()
	require.Len(t, sleeps, callers-5)
	for _, d := range sleeps {
		assert.InDelta(t, 60.0/14.0, d.Seconds(), 0.001)
	}
	assert.InDelta(t, float64(callers-5)*60.0/14.0, clock.Now().Sub(start).Seconds(), 0.01)
	assert.InDelta(t, 0, b.Tokens(), 1e-9)
}

func TestTokenBucketLongRunThroughput(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(t, 60, 5, clock)
	start := clock.Now()

	const calls = 605
	for i := 0; i < calls; i++ {
		require.NoError(t, b.Acquire(context.Background()))
	}

	minutes := clock.Now().Sub(start).Minutes()
	rate := float64(calls-5) / minutes
	assert.InDelta(t, 60.0, rate, 0.5)
}

func TestTokenBucketRefillsLazily(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(t, 60, 2, clock)

	require.NoError(t, b.Acquire(context.Background()))
	require.NoError(t, b.Acquire(context.Background()))
	assert.InDelta(t, 0.0, b.Tokens(), 1e-9)

	// one minute at 60 rpm would be 60 tokens, capped at burst
	clock.now = clock.now.Add(time.Minute)
	require.NoError(t, b.Acquire(context.Background()))
	assert.InDelta(t, 1.0, b.Tokens(), 1e-9)
	assert.Empty(t, clock.sleeps)
}

func TestTokenBucketContextCanceledWhileWaiting(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(t, 60, 1, clock)
	require.NoError(t, b.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.InDelta(t, 0.0, b.Tokens(), 1e-9, "canceled acquire must not consume")
}

func TestNewTokenBucketValidates(t *testing.T) {
	_, err := NewTokenBucket(0, 5)
	assert.Error(t, err)
	_, err = NewTokenBucket(10, 0)
	assert.Error(t, err)
}
