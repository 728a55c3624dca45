// Package metrics provides the per-adapter call counters behind IntegrationStatus.
// Each adapter owns one Collector; collectors share nothing with each other.
// Every recorded call is also pushed to a Sink, the process-wide registry.
package metrics

import (
	"context"
	"sync"
	"time"
)

// Sink receives every recorded call. Implementations must be safe for concurrent use.
type Sink interface {
	RecordCall(ctx context.Context, call Call)
}

// Call describes one completed adapter operation.
type Call struct {
	Integration string
	Type        string
	Success     bool
	ErrorKind   string
	Latency     time.Duration
	Attempts    int
	SuccessRate float64
}

type nopSink struct{}

func (nopSink) RecordCall(context.Context, Call) {}

// NopSink returns a sink that discards everything.
func NopSink() Sink {
	return nopSink{}
}

// Snapshot is a point-in-time copy of a collector.
type Snapshot struct {
	Total       uint64
	Failed      uint64
	LastSuccess time.Time
	LastFailure time.Time
	LastLatency time.Duration
	SuccessRate float64
}

// HasData reports whether any call has been recorded.
func (s Snapshot) HasData() bool {
	return s.Total > 0
}

// Collector counts calls for one adapter.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	name string
	typ  string
	sink Sink

	mu          sync.RWMutex
	total       uint64
	failed      uint64
	lastSuccess time.Time
	lastFailure time.Time
	lastLatency time.Duration
}

// NewCollector creates a collector for the named integration. A nil sink discards.
func NewCollector(name, typ string, sink Sink) *Collector {
	if sink == nil {
		sink = NopSink()
	}
	return &Collector{name: name, typ: typ, sink: sink}
}

// SuccessRate returns (total-failed)/total, or 1.0 when nothing was recorded.
func SuccessRate(total, failed uint64) float64 {
	if total == 0 {
		return 1.0
	}
	if failed > total {
		failed = total
	}
	return float64(total-failed) / float64(total)
}

// RecordSuccess records a successful call that finished at `at`.
func (c *Collector) RecordSuccess(ctx context.Context, at time.Time, latency time.Duration, attempts int) {
	c.mu.Lock()
	c.total++
	c.lastSuccess = at
	c.lastLatency = latency
	rate := SuccessRate(c.total, c.failed)
	c.mu.Unlock()

	c.sink.RecordCall(ctx, Call{
		Integration: c.name,
		Type:        c.typ,
		Success:     true,
		Latency:     latency,
		Attempts:    attempts,
		SuccessRate: rate,
	})
}

// RecordFailure records a failed call of the given error kind.
func (c *Collector) RecordFailure(ctx context.Context, at time.Time, latency time.Duration, attempts int, kind string) {
	c.mu.Lock()
	c.total++
	c.failed++
	c.lastFailure = at
	c.lastLatency = latency
	rate := SuccessRate(c.total, c.failed)
	c.mu.Unlock()

	c.sink.RecordCall(ctx, Call{
		Integration: c.name,
		Type:        c.typ,
		Success:     false,
		ErrorKind:   kind,
		Latency:     latency,
		Attempts:    attempts,
		SuccessRate: rate,
	})
}

// SuccessRate returns the collector's current success rate.
func (c *Collector) SuccessRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SuccessRate(c.total, c.failed)
}

// Snapshot returns a copy of the counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Total:       c.total,
		Failed:      c.failed,
		LastSuccess: c.lastSuccess,
		LastFailure: c.lastFailure,
		LastLatency: c.lastLatency,
		SuccessRate: SuccessRate(c.total, c.failed),
	}
}

// Reset clears all counters. Adapters call it on re-initialization.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = 0
	c.failed = 0
	c.lastSuccess = time.Time{}
	c.lastFailure = time.Time{}
	c.lastLatency = 0
}
