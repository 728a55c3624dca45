package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/infrastructure/telemetry"
)

// ChatAdapter posts ChatMessages to a chat platform.
type ChatAdapter struct {
	*core
	transportFactory ChatTransportFactory

	// guarded by core.mu
	cfg       *integration.ChatConfig
	transport ChatTransport
	identity  ChatIdentity
}

var (
	_ integration.Integration[integration.ChatConfig, integration.ChatMessage] = (*ChatAdapter)(nil)
	_ integration.Prober                                                       = (*ChatAdapter)(nil)
)

// NewChatAdapter creates an uninitialized chat adapter.
func NewChatAdapter(name string, opts ...Option) *ChatAdapter {
	o := buildOptions(opts)
	return &ChatAdapter{
		core:             newCore(name, integration.TypeChat, o),
		transportFactory: o.chat,
	}
}

// Initialize validates cfg, runs an auth test and swaps in the new client.
// Any failure leaves the adapter uninitialized until the next successful call.
func (a *ChatAdapter) Initialize(ctx context.Context, cfg *integration.ChatConfig) error {
	if cfg == nil {
		return a.failInit(fmt.Errorf("%w: chat config is nil", integration.ErrInitializationFailed))
	}
	next := *cfg
	if err := next.Validate(); err != nil {
		return a.failInit(err)
	}

	transport := a.transportFactory(a.name, next)

	probeCtx, cancel := context.WithTimeout(ctx, next.Timeout)
	identity, err := transport.AuthTest(probeCtx)
	cancel()
	if err != nil {
		a.logger.Error("Chat auth test failed", zap.Error(err))
		return a.failInit(initError(err))
	}

	a.activate(next.Resilience, func() {
		a.cfg = &next
		a.transport = transport
		a.identity = identity
	})
	return nil
}

// Send posts msg to its channel, or to the default channel when none is set.
func (a *ChatAdapter) Send(ctx context.Context, msg integration.ChatMessage) (integration.Receipt, error) {
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

	msg.Normalize(cfg.DefaultChannel)
	if err := msg.Validate(); err != nil {
		telemetry.RecordError(span, err)
		return integration.Receipt{}, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrChannel, msg.Channel)

	return a.send(ctx, g, span, func(ctx context.Context, _ int) (string, error) {
		return transport.PostMessage(ctx, msg.Channel, msg.Text)
	})
}

// Status reports the adapter status with the bot identity.
func (a *ChatAdapter) Status(_ context.Context) (integration.IntegrationStatus, error) {
	st := a.status()

	a.mu.RLock()
	cfg, identity := a.cfg, a.identity
	a.mu.RUnlock()

	if cfg != nil {
		st.Metadata["default_channel"] = cfg.DefaultChannel
		st.Metadata["team"] = identity.Team
		st.Metadata["bot_user"] = identity.User
	}
	return st, nil
}

// Probe re-runs the auth test.
func (a *ChatAdapter) Probe(ctx context.Context) error {
	a.mu.RLock()
	cfg, transport := a.cfg, a.transport
	a.mu.RUnlock()
	if cfg == nil || transport == nil {
		return fmt.Errorf("%w: %s", integration.ErrNotInitialized, a.name)
	}

	return a.probe(ctx, cfg.Timeout, func(ctx context.Context) error {
		_, err := transport.AuthTest(ctx)
		return err
	})
}
