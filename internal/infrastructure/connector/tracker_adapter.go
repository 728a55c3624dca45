package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/infrastructure/telemetry"
)

// TrackerAdapter creates issues in an issue tracker.
type TrackerAdapter struct {
	*core
	transportFactory TrackerTransportFactory

	// guarded by core.mu
	cfg       *integration.TrackerConfig
	transport TrackerTransport
	account   string
}

var (
	_ integration.Integration[integration.TrackerConfig, integration.IssueRequest] = (*TrackerAdapter)(nil)
	_ integration.Prober                                                           = (*TrackerAdapter)(nil)
)

// NewTrackerAdapter creates an uninitialized tracker adapter.
func NewTrackerAdapter(name string, opts ...Option) *TrackerAdapter {
	o := buildOptions(opts)
	return &TrackerAdapter{
		core:             newCore(name, integration.TypeProjectManagement, o),
		transportFactory: o.tracker,
	}
}

// Initialize validates cfg and looks up the authenticated account.
// Any failure leaves the adapter uninitialized until the next successful call.
func (a *TrackerAdapter) Initialize(ctx context.Context, cfg *integration.TrackerConfig) error {
	if cfg == nil {
		return a.failInit(fmt.Errorf("%w: tracker config is nil", integration.ErrInitializationFailed))
	}
	next := *cfg
	if err := next.Validate(); err != nil {
		return a.failInit(err)
	}

	transport, err := a.transportFactory(a.name, next)
	if err != nil {
		return a.failInit(err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, next.Timeout)
	account, err := transport.Myself(probeCtx)
	cancel()
	if err != nil {
		a.logger.Error("Tracker account lookup failed", zap.String("url", next.URL), zap.Error(err))
		return a.failInit(initError(err))
	}

	a.activate(next.Resilience, func() {
		a.cfg = &next
		a.transport = transport
		a.account = account
	})
	return nil
}

// Send creates the issue and returns its key as the receipt reference.
// Issue type and priority default to Task and Medium, the project to the configured key.
func (a *TrackerAdapter) Send(ctx context.Context, req integration.IssueRequest) (integration.Receipt, error) {
	ctx, span := a.startSpan(ctx)
	defer span.End()

	a.mu.RLock()
	g, cfg, transport := a.guard, a.cfg, a.transport
	a.mu.RUnlock()
	if g == nil || transport == nil {
		err := fmt.Errorf("%w: %s", integration.ErrNotInitialized, a.name)
		telemetry.RecordError(span, err)
		return integration.Receipt{}, err
	}

	req.Normalize(cfg.ProjectKey)
	if err := req.Validate(); err != nil {
		telemetry.RecordError(span, err)
		return integration.Receipt{}, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrProjectKey, req.ProjectKey)

	return a.send(ctx, g, span, func(ctx context.Context, _ int) (string, error) {
		return transport.CreateIssue(ctx, req)
	})
}

// Status reports the adapter status with the tracker account.
func (a *TrackerAdapter) Status(_ context.Context) (integration.IntegrationStatus, error) {
	st := a.status()

	a.mu.RLock()
	cfg, account := a.cfg, a.account
	a.mu.RUnlock()

	if cfg != nil {
		st.Metadata["url"] = cfg.URL
		st.Metadata["project_key"] = cfg.ProjectKey
		st.Metadata["account"] = account
	}
	return st, nil
}

// Probe repeats the account lookup.
func (a *TrackerAdapter) Probe(ctx context.Context) error {
	a.mu.RLock()
	cfg, transport := a.cfg, a.transport
	a.mu.RUnlock()
	if cfg == nil || transport == nil {
		return fmt.Errorf("%w: %s", integration.ErrNotInitialized, a.name)
	}

	return a.probe(ctx, cfg.Timeout, func(ctx context.Context) error {
		_, err := transport.Myself(ctx)
		return err
	})
}
