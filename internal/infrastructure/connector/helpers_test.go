package connector

import (
	"context"
	"sync"
	"time"

	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/infrastructure/metrics"
)

// fakeClock advances by step on every read so each event gets a distinct time.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fastResilience keeps tests quick: millisecond backoff, generous rate limit.
func fastResilience() integration.ResilienceConfig {
	return integration.ResilienceConfig{
		MaxAttempts:      3,
		Backoff:          time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerCoolDown:  time.Minute,
		HalfOpenProbes:   1,
		RateLimit:        1000,
		Burst:            1000,
	}
}

type recordingSink struct {
	mu    sync.Mutex
	calls []metrics.Call
}

func (s *recordingSink) RecordCall(_ context.Context, call metrics.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingSink) all() []metrics.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metrics.Call(nil), s.calls...)
}
