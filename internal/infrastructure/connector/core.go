// Package connector implements the email, chat and issue tracker adapters.
// Each adapter owns its circuit breaker, token bucket, retry policy and metrics
// collector; the shared send pipeline lives in core.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/infrastructure/metrics"
	"github.com/taskstream/integration-hub/internal/infrastructure/resilience"
	"github.com/taskstream/integration-hub/internal/infrastructure/telemetry"
)

// Status metadata keys shared by every adapter.
const (
	MetaCircuitState    = "circuit_state"
	MetaRateLimitTokens = "rate_limit_tokens"
	MetaSampleCount     = "sample_count"
	MetaHasData         = "has_data"
	MetaAttemptsLimit   = "max_attempts"
)

// BreakerObserver is notified of circuit breaker transitions.
type BreakerObserver func(name string, from, to resilience.State)

// Option configures an adapter.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	sink     metrics.Sink
	now      func() time.Time
	observer BreakerObserver

	mailDialer MailDialerFactory
	chat       ChatTransportFactory
	tracker    TrackerTransportFactory
}

// WithLogger sets the adapter logger. Default: no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsSink pushes every recorded call to sink.
func WithMetricsSink(sink metrics.Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithClock overrides time.Now for lastSync, metrics and the breaker.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithBreakerObserver registers a callback for circuit breaker transitions.
func WithBreakerObserver(fn BreakerObserver) Option {
	return func(o *options) {
		o.observer = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:     zap.NewNop(),
		sink:       metrics.NopSink(),
		now:        time.Now,
		mailDialer: NewGoMailDialer,
		chat:       NewSlackTransport,
		tracker:    NewJiraTransport,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// guard is the resilience state built by one successful Initialize.
type guard struct {
	breaker *resilience.CircuitBreaker
	limiter *resilience.TokenBucket
	policy  resilience.RetryPolicy
}

// core carries the lifecycle, status and send pipeline shared by all adapters.
//
// Thread Safety: mu guards guard, connected and lastSync. The collector,
// breaker and limiter are independently safe for concurrent use.
type core struct {
	name      string
	typ       integration.Type
	logger    *zap.Logger
	now       func() time.Time
	observer  BreakerObserver
	collector *metrics.Collector

	mu        sync.RWMutex
	guard     *guard
	connected bool
	lastSync  time.Time
}

func newCore(name string, typ integration.Type, o options) *core {
	return &core{
		name:      name,
		typ:       typ,
		logger:    o.logger.With(zap.String("integration", name), zap.String("integration_type", typ.String())),
		now:       o.now,
		observer:  o.observer,
		collector: metrics.NewCollector(name, typ.String(), o.sink),
	}
}

// Name returns the adapter name.
func (c *core) Name() string {
	return c.name
}

// Type returns the integration category.
func (c *core) Type() integration.Type {
	return c.typ
}

func (c *core) newGuard(res integration.ResilienceConfig) *guard {
	return &guard{
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:           c.name,
			Threshold:      res.BreakerThreshold,
			CoolDown:       res.BreakerCoolDown,
			HalfOpenProbes: res.HalfOpenProbes,
			Now:            c.now,
			OnStateChange:  c.onBreakerChange,
		}),
		limiter: resilience.NewTokenBucket(res.RateLimit, res.Burst),
		policy: resilience.RetryPolicy{
			MaxAttempts:    res.MaxAttempts,
			InitialBackoff: res.Backoff,
			MaxBackoff:     res.MaxBackoff,
			Multiplier:     2,
			Retryable:      retryable,
		},
	}
}

func (c *core) onBreakerChange(name string, from, to resilience.State) {
	c.logger.Warn("Circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if c.observer != nil {
		c.observer(name, from, to)
	}
}

// deactivate marks the adapter uninitialized.
func (c *core) deactivate() {
	c.mu.Lock()
	c.guard = nil
	c.connected = false
	c.mu.Unlock()
}

// failInit deactivates the adapter and returns err. Every failed Initialize goes
// through here, so a rejected re-initialization never leaves the previous
// configuration serving.
func (c *core) failInit(err error) error {
	c.deactivate()
	return err
}

// activate installs fresh resilience state and resets counters. swap runs under
// the write lock so adapters can replace their client handle atomically.
func (c *core) activate(res integration.ResilienceConfig, swap func()) {
	g := c.newGuard(res)
	c.collector.Reset()

	c.mu.Lock()
	if swap != nil {
		swap()
	}
	c.guard = g
	c.connected = true
	c.lastSync = c.now()
	c.mu.Unlock()

	c.logger.Info("Integration initialized",
		zap.Int("max_attempts", res.MaxAttempts),
		zap.Float64("rate_limit", res.RateLimit),
		zap.Int("burst", res.Burst),
		zap.Int("breaker_threshold", res.BreakerThreshold),
	)
}

func (c *core) current() (*guard, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.guard == nil {
		return nil, fmt.Errorf("%w: %s", integration.ErrNotInitialized, c.name)
	}
	return c.guard, nil
}

// setConnected records the outcome of a probe or a send.
func (c *core) setConnected(connected bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guard == nil {
		return
	}
	c.connected = connected
	if connected && !at.IsZero() {
		c.lastSync = at
	}
}

// sendFunc performs one transport attempt and returns the remote reference.
type sendFunc func(ctx context.Context, attempt int) (string, error)

// send runs the shared pipeline: rate limit wait, breaker check, bounded retries,
// then metrics and status bookkeeping. Payload validation happens before send.
func (c *core) send(ctx context.Context, g *guard, span trace.Span, op sendFunc) (integration.Receipt, error) {
	start := c.now()

	if err := g.limiter.Wait(ctx, 1); err != nil {
		return integration.Receipt{}, c.reject(ctx, span, start, mapWaitError(err))
	}

	if !g.breaker.Allow() {
		err := fmt.Errorf("%w: %w", integration.ErrUnavailable, resilience.ErrCircuitOpen)
		return integration.Receipt{}, c.reject(ctx, span, start, err)
	}

	policy := g.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("Send attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		telemetry.AddEvent(span, "retry",
			telemetry.SpanAttrAttempt, attempt,
			telemetry.SpanAttrErrorKind, integration.Classify(err).String(),
		)
	}

	var (
		reference   string
		succeededAt time.Time
	)
	attempts, err := resilience.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		ref, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		reference = ref
		succeededAt = c.now()
		return nil
	})
	latency := c.now().Sub(start)
	telemetry.SetAttribute(span, telemetry.SpanAttrAttempts, attempts)

	if err != nil {
		err = normalizeSendError(ctx, err)
		kind := integration.Classify(err)

		switch kind {
		case integration.KindConnectionFailed:
			g.breaker.OnFailure()
			c.setConnected(false, time.Time{})
		case integration.KindInvalidPayload:
			// the remote answered, so the circuit is healthy
			g.breaker.OnSuccess()
		}

		c.collector.RecordFailure(ctx, c.now(), latency, attempts, kind.String())
		telemetry.SetAttribute(span, telemetry.SpanAttrErrorKind, kind.String())
		telemetry.RecordError(span, err)
		c.logger.Warn("Send failed",
			zap.String("error_kind", kind.String()),
			zap.Int("attempts", attempts),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return integration.Receipt{}, err
	}

	g.breaker.OnSuccess()
	c.setConnected(true, succeededAt)
	c.collector.RecordSuccess(ctx, succeededAt, latency, attempts)

	telemetry.SetAttribute(span, telemetry.SpanAttrReference, reference)
	telemetry.SetOK(span)
	c.logger.Debug("Send succeeded",
		zap.String("reference", reference),
		zap.Int("attempts", attempts),
		zap.Duration("latency", latency),
	)

	return integration.Receipt{
		Integration: c.name,
		Reference:   reference,
		Attempts:    attempts,
		DeliveredAt: succeededAt,
	}, nil
}

// reject records a call refused before any transport attempt.
func (c *core) reject(ctx context.Context, span trace.Span, start time.Time, err error) error {
	kind := integration.Classify(err)
	c.collector.RecordFailure(ctx, c.now(), c.now().Sub(start), 0, kind.String())
	telemetry.SetAttribute(span, telemetry.SpanAttrErrorKind, kind.String())
	telemetry.RecordError(span, err)
	c.logger.Warn("Send rejected", zap.String("error_kind", kind.String()), zap.Error(err))
	return err
}

// startSpan opens the client span of one send.
func (c *core) startSpan(ctx context.Context) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, "integration."+c.name+".send",
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute(telemetry.SpanAttrIntegration, c.name),
		telemetry.WithAttribute(telemetry.SpanAttrIntegrationType, c.typ.String()),
	)
}

// status builds a fresh IntegrationStatus. It never fails; an adapter that was never
// initialized reports connected=false.
func (c *core) status() integration.IntegrationStatus {
	st := integration.NewStatus(c.name, c.typ)

	c.mu.RLock()
	g := c.guard
	st.Connected = c.connected && g != nil
	st.LastSync = c.lastSync
	c.mu.RUnlock()

	snap := c.collector.Snapshot()
	st.ErrorCount = snap.Failed
	st.SuccessRate = snap.SuccessRate
	if !snap.LastFailure.IsZero() {
		at := snap.LastFailure
		st.LastError = &at
	}

	st.Metadata[MetaSampleCount] = snap.Total
	st.Metadata[MetaHasData] = snap.HasData()
	if g != nil {
		st.Metadata[MetaCircuitState] = g.breaker.State().String()
		st.Metadata[MetaRateLimitTokens] = g.limiter.Tokens()
		st.Metadata[MetaAttemptsLimit] = g.policy.MaxAttempts
	}
	return st
}

// probe runs check with a timeout and records the outcome.
func (c *core) probe(ctx context.Context, timeout time.Duration, check func(ctx context.Context) error) error {
	if _, err := c.current(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := check(ctx); err != nil {
		c.setConnected(false, time.Time{})
		return err
	}
	c.setConnected(true, c.now())
	return nil
}

// retryable limits retries to connection failures that are not authentication errors.
func retryable(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	return integration.IsRetryable(err)
}

func mapWaitError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", integration.ErrCancelled, err)
	default:
		return fmt.Errorf("%w: %w", integration.ErrUnavailable, err)
	}
}

// normalizeSendError makes sure cancellation by the caller surfaces as ErrCancelled.
func normalizeSendError(ctx context.Context, err error) error {
	if errors.Is(err, integration.ErrCancelled) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", integration.ErrCancelled, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", integration.ErrCancelled, err)
	}
	return err
}
