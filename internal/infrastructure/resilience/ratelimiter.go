package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrWaitTimeout is returned when tokens cannot be obtained before the caller's deadline.
	ErrWaitTimeout = errors.New("resilience: rate limit wait timed out")
	// ErrBurstExceeded is returned when more tokens are requested than the bucket can hold.
	ErrBurstExceeded = errors.New("resilience: request exceeds burst")
)

// LimiterStats contains statistics about token bucket usage.
type LimiterStats struct {
	TotalAcquired int64
	TotalRejected int64
	TotalTimeouts int64
	AvgWaitTime   time.Duration
}

// TokenBucket is a token bucket rate limiter backed by golang.org/x/time/rate.
//
// Thread Safety: Safe for concurrent use.
type TokenBucket struct {
	limiter *rate.Limiter

	totalAcquired atomic.Int64
	totalRejected atomic.Int64
	totalTimeouts atomic.Int64
	totalWaitTime atomic.Int64 // in nanoseconds
}

// NewTokenBucket creates a bucket refilled at perSecond tokens per second holding up to burst tokens.
// A non-positive rate defaults to 1, a non-positive burst to max(1, int(perSecond)).
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Wait blocks until n tokens are available or ctx ends.
// If ctx carries a deadline that cannot be met, Wait returns ErrWaitTimeout without
// sleeping; if ctx is cancelled, the returned error wraps context.Canceled.
func (b *TokenBucket) Wait(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if burst := b.limiter.Burst(); n > burst {
		b.totalRejected.Add(1)
		return fmt.Errorf("%w: requested %d tokens, burst is %d", ErrBurstExceeded, n, burst)
	}

	start := time.Now()
	err := b.limiter.WaitN(ctx, n)
	if err == nil {
		b.totalAcquired.Add(1)
		b.totalWaitTime.Add(int64(time.Since(start)))
		return nil
	}

	b.totalTimeouts.Add(1)
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("rate limit wait: %w", context.Canceled)
	}
	return fmt.Errorf("%w: %v", ErrWaitTimeout, err)
}

// Allow takes one token without blocking.
func (b *TokenBucket) Allow() bool {
	if b.limiter.Allow() {
		b.totalAcquired.Add(1)
		return true
	}
	b.totalRejected.Add(1)
	return false
}

// Tokens returns the number of tokens currently available.
func (b *TokenBucket) Tokens() float64 {
	return b.limiter.Tokens()
}

// Rate returns the refill rate in tokens per second.
func (b *TokenBucket) Rate() float64 {
	return float64(b.limiter.Limit())
}

// Burst returns the bucket capacity.
func (b *TokenBucket) Burst() int {
	return b.limiter.Burst()
}

// Stats returns current statistics about the bucket.
func (b *TokenBucket) Stats() LimiterStats {
	acquired := b.totalAcquired.Load()
	var avg time.Duration
	if acquired > 0 {
		avg = time.Duration(b.totalWaitTime.Load() / acquired)
	}
	return LimiterStats{
		TotalAcquired: acquired,
		TotalRejected: b.totalRejected.Load(),
		TotalTimeouts: b.totalTimeouts.Load(),
		AvgWaitTime:   avg,
	}
}
