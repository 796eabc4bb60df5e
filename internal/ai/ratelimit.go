package ai

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"prepos/internal/logging"
	"prepos/internal/metrics"
)

// TokenBucket bounds outbound model calls to rpm per minute with a burst
// allowance. One instance is shared by every caller of the client.
type TokenBucket struct {
	rpm   float64
	burst float64

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// BucketOption customises a TokenBucket
type BucketOption func(*TokenBucket)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) BucketOption {
	return func(b *TokenBucket) { b.now = now }
}

// WithSleeper replaces the context-aware sleep used while waiting for a token
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) BucketOption {
	return func(b *TokenBucket) { b.sleep = sleep }
}

// WithBucketLogger sets the logger
func WithBucketLogger(l *zap.Logger) BucketOption {
	return func(b *TokenBucket) { b.logger = l }
}

// NewTokenBucket creates a full bucket
func NewTokenBucket(rpm, burst int, opts ...BucketOption) (*TokenBucket, error) {
	if rpm <= 0 {
		return nil, fmt.Errorf("token bucket: rpm must be positive, got %d", rpm)
	}
	if burst < 1 {
		return nil, fmt.Errorf("token bucket: burst must be at least 1, got %d", burst)
	}

	b := &TokenBucket{
		rpm:   float64(rpm),
		burst: float64(burst),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.Named(b.logger, "ratelimit")
	b.tokens = b.burst
	b.lastRefill = b.now()
	return b, nil
}

// Acquire blocks until a token is available and consumes it. The lock is held
// across the wait so concurrent callers are spaced out instead of bursting.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.burst, b.tokens+elapsed*b.rpm/60)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) * 60 / b.rpm * float64(time.Second))
		b.logger.Info("rate limit: waiting for token", zap.Duration("wait", wait))
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
		metrics.Get().RecordRateLimitWait(wait)
		b.tokens = 1
		// the wait already paid for this token
		b.lastRefill = b.now()
	}

	b.tokens--
	return nil
}

// Tokens returns the current token count without refilling
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
