package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskstream/integration-hub/internal/infrastructure/resilience"
	"github.com/taskstream/integration-hub/internal/interfaces/http/dto"
)

// hubKey is the bucket key used when limiting the gateway as a whole.
const hubKey = ""

// RateLimiter hands out one token bucket per key. With the default key
// function every request shares a single hub-wide bucket.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucketEntry
	rps       float64
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucketEntry struct {
	bucket   *resilience.TokenBucket
	lastSeen time.Time
}

// NewRateLimiter creates a limiter refilling rps tokens per second up to burst.
// Buckets idle for longer than ten refill windows are dropped.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	b := resilience.NewTokenBucket(rps, burst)
	window := time.Duration(float64(b.Burst()) / b.Rate() * float64(time.Second))
	return &RateLimiter{
		buckets: make(map[string]*bucketEntry),
		rps:     b.Rate(),
		burst:   b.Burst(),
		idleTTL: max(10*window, time.Minute),
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.get(key).Allow()
}

// Remaining returns the whole tokens left in key's bucket.
func (rl *RateLimiter) Remaining(key string) int {
	return int(math.Floor(rl.get(key).Tokens()))
}

// Limit returns the bucket capacity.
func (rl *RateLimiter) Limit() int {
	return rl.burst
}

func (rl *RateLimiter) get(key string) *resilience.TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.idleTTL {
		for k, e := range rl.buckets {
			if now.Sub(e.lastSeen) > rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	e, ok := rl.buckets[key]
	if !ok {
		e = &bucketEntry{bucket: resilience.NewTokenBucket(rl.rps, rl.burst)}
		rl.buckets[key] = e
	}
	e.lastSeen = now
	return e.bucket
}

// HubRateLimit limits the whole gateway with a single bucket.
func HubRateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return RateLimitByKey(limiter, func(*gin.Context) string { return hubKey })
}

// RateLimitByKey returns a rate limiting middleware with custom key extractor
func RateLimitByKey(limiter *RateLimiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	limit := strconv.Itoa(limiter.Limit())
	return func(c *gin.Context) {
		key := keyFunc(c)
		c.Header("X-RateLimit-Limit", limit)

		if !limiter.Allow(key) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited,
				"too many requests, please try again later",
				GetRequestID(c),
			))
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
		c.Next()
	}
}
