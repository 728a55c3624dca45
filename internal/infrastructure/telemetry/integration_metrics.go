package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/infrastructure/metrics"
)

// IntegrationMetrics publishes adapter call metrics to the process-wide registry.
// It implements metrics.Sink.
type IntegrationMetrics struct {
	logger *zap.Logger

	callsTotal   *Counter
	attempts     *Counter
	callDuration *Histogram
	successRate  *FloatGauge
	circuitState *Gauge
	connected    *Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
}

// ConnectionSource reports the connection state of every registered integration.
type ConnectionSource interface {
	ConnectionStates(ctx context.Context) map[string]bool
}

// NewIntegrationMetrics creates the integration instruments on meter.
func NewIntegrationMetrics(meter metric.Meter, logger *zap.Logger) (*IntegrationMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &IntegrationMetrics{
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	var err error

	m.callsTotal, err = NewCounter(meter,
		"hub_integration_calls",
		"Total number of adapter send calls by outcome",
		"{calls}",
	)
	if err != nil {
		return nil, err
	}

	m.attempts, err = NewCounter(meter,
		"hub_integration_attempts",
		"Total number of transport attempts including retries",
		"{attempts}",
	)
	if err != nil {
		return nil, err
	}

	m.callDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "hub_integration_call_duration",
		Description: "Duration of adapter send calls including retries",
		Unit:        "s",
		Boundaries:  IntegrationDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	m.successRate, err = NewFloatGauge(meter,
		"hub_integration_success_rate",
		"Ratio of successful to total calls since initialization",
		"1",
	)
	if err != nil {
		return nil, err
	}

	m.circuitState, err = NewGauge(meter,
		"hub_circuit_state",
		"Circuit breaker state (0 closed, 1 open, 2 half-open)",
		"{state}",
	)
	if err != nil {
		return nil, err
	}

	m.connected, err = NewGauge(meter,
		"hub_integration_connected",
		"1 when the integration is initialized and its last call succeeded",
		"{state}",
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCall implements metrics.Sink.
func (m *IntegrationMetrics) RecordCall(ctx context.Context, call metrics.Call) {
	base := []attribute.KeyValue{
		AttrIntegration.String(call.Integration),
		AttrIntegrationType.String(call.Type),
	}

	outcome := "success"
	if !call.Success {
		outcome = "failure"
	}
	callAttrs := append(append([]attribute.KeyValue{}, base...), AttrOutcome.String(outcome))
	if call.ErrorKind != "" {
		callAttrs = append(callAttrs, AttrErrorKind.String(call.ErrorKind))
	}

	m.callsTotal.Inc(ctx, callAttrs...)
	if call.Attempts > 0 {
		m.attempts.Add(ctx, int64(call.Attempts), base...)
	}
	m.callDuration.RecordDuration(ctx, call.Latency, callAttrs...)
	m.successRate.Record(ctx, call.SuccessRate, base...)
}

// RecordCircuitState publishes a breaker transition. state is the numeric breaker state.
func (m *IntegrationMetrics) RecordCircuitState(ctx context.Context, breaker string, state int, label string) {
	m.circuitState.Record(ctx, int64(state),
		AttrIntegration.String(breaker),
		AttrCircuitState.String(label),
	)
}

// RecordConnected publishes one integration's connection state.
func (m *IntegrationMetrics) RecordConnected(ctx context.Context, integration string, connected bool) {
	var v int64
	if connected {
		v = 1
	}
	m.connected.Record(ctx, v, AttrIntegration.String(integration))
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection samples connection states every interval (default 30s).
// It is non-blocking and only starts once; use Stop to end it.
func (m *IntegrationMetrics) StartPeriodicCollection(ctx context.Context, source ConnectionSource, interval time.Duration) {
	m.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 30 * time.Second
		}
		go m.runPeriodicCollection(ctx, source, interval)
	})
}

func (m *IntegrationMetrics) runPeriodicCollection(ctx context.Context, source ConnectionSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.collectConnections(ctx, source)

	for {
		select {
		case <-m.stopChan:
			m.logger.Info("Stopping periodic integration metrics collection")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectConnections(ctx, source)
		}
	}
}

func (m *IntegrationMetrics) collectConnections(ctx context.Context, source ConnectionSource) {
	if source == nil {
		return
	}
	for name, connected := range source.ConnectionStates(ctx) {
		m.RecordConnected(ctx, name, connected)
	}
}

// Stop stops the periodic collection.
func (m *IntegrationMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewIntegrationMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

var _ metrics.Sink = (*IntegrationMetrics)(nil)
