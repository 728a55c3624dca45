package connector

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/infrastructure/telemetry"
)

// EmailAdapter delivers EmailMessages over SMTP.
type EmailAdapter struct {
	*core
	dialerFactory MailDialerFactory

	// guarded by core.mu
	cfg  *integration.EmailConfig
	pool *sessionPool
}

var (
	_ integration.Integration[integration.EmailConfig, integration.EmailMessage] = (*EmailAdapter)(nil)
	_ integration.Prober                                                         = (*EmailAdapter)(nil)
)

// NewEmailAdapter creates an uninitialized email adapter.
func NewEmailAdapter(name string, opts ...Option) *EmailAdapter {
	o := buildOptions(opts)
	return &EmailAdapter{
		core:          newCore(name, integration.TypeEmail, o),
		dialerFactory: o.mailDialer,
	}
}

// Initialize validates cfg, dials the server once and only then marks the adapter ready.
// Any failure leaves the adapter uninitialized until the next successful call.
func (a *EmailAdapter) Initialize(ctx context.Context, cfg *integration.EmailConfig) error {
	if cfg == nil {
		return a.failInit(fmt.Errorf("%w: email config is nil", integration.ErrInitializationFailed))
	}
	next := *cfg
	next.AllowedDomains = slices.Clone(cfg.AllowedDomains)
	if err := next.Validate(); err != nil {
		return a.failInit(err)
	}

	pool := newSessionPool(a.name, a.dialerFactory(next), next.PoolSize, next.DialTimeout)
	session, err := pool.dial(ctx)
	if err != nil {
		_ = pool.close()
		a.logger.Error("Email probe failed", zap.String("host", next.Host), zap.Error(err))
		return a.failInit(initError(err))
	}
	pool.release(session, false)

	var previous *sessionPool
	a.activate(next.Resilience, func() {
		previous = a.pool
		a.cfg = &next
		a.pool = pool
	})
	if previous != nil {
		_ = previous.close()
	}
	return nil
}

// Send validates msg and delivers it through a pooled session.
func (a *EmailAdapter) Send(ctx context.Context, msg integration.EmailMessage) (integration.Receipt, error) {
	ctx, span := a.startSpan(ctx)
	defer span.End()

	a.mu.RLock()
	g, cfg, pool := a.guard, a.cfg, a.pool
	a.mu.RUnlock()
	if g == nil || pool == nil {
		err := fmt.Errorf("%w: %s", integration.ErrNotInitialized, a.name)
		telemetry.RecordError(span, err)
		return integration.Receipt{}, err
	}

	msg.Normalize()
	if err := msg.Validate(cfg.AllowedDomains); err != nil {
		telemetry.RecordError(span, err)
		return integration.Receipt{}, err
	}

	m, messageID, err := buildMail(cfg, msg)
	if err != nil {
		telemetry.RecordError(span, err)
		return integration.Receipt{}, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrRecipients, len(msg.Recipients))

	return a.send(ctx, g, span, func(ctx context.Context, _ int) (string, error) {
		session, err := pool.acquire(ctx)
		if err != nil {
			return "", err
		}
		if err := session.Send(ctx, m); err != nil {
			pool.release(session, true)
			return "", smtpError(ctx, a.name, err)
		}
		pool.release(session, false)
		return messageID, nil
	})
}

// Status reports the adapter status with pool details.
func (a *EmailAdapter) Status(_ context.Context) (integration.IntegrationStatus, error) {
	st := a.status()

	a.mu.RLock()
	cfg, pool := a.cfg, a.pool
	a.mu.RUnlock()

	if cfg != nil {
		st.Metadata["host"] = cfg.Host
		st.Metadata["port"] = cfg.Port
		st.Metadata["pool_size"] = cfg.PoolSize
		st.Metadata["allowed_domains"] = len(cfg.AllowedDomains)
	}
	if pool != nil {
		st.Metadata["pool_idle"] = pool.Idle()
		st.Metadata["pool_dials"] = pool.Dials()
	}
	return st, nil
}

// Probe dials a fresh session and closes it.
func (a *EmailAdapter) Probe(ctx context.Context) error {
	a.mu.RLock()
	cfg, pool := a.cfg, a.pool
	a.mu.RUnlock()
	if cfg == nil || pool == nil {
		return fmt.Errorf("%w: %s", integration.ErrNotInitialized, a.name)
	}

	return a.probe(ctx, cfg.DialTimeout, func(ctx context.Context) error {
		session, err := pool.dial(ctx)
		if err != nil {
			return err
		}
		return session.Close()
	})
}

// Close drains the session pool. The adapter must be re-initialized afterwards.
func (a *EmailAdapter) Close() error {
	a.mu.Lock()
	pool := a.pool
	a.pool = nil
	a.cfg = nil
	a.mu.Unlock()

	a.deactivate()
	if pool == nil {
		return nil
	}
	return pool.close()
}

func buildMail(cfg *integration.EmailConfig, msg integration.EmailMessage) (*mail.Msg, string, error) {
	m := mail.NewMsg()
	if err := m.From(cfg.FromAddress); err != nil {
		return nil, "", fmt.Errorf("%w: from address: %v", integration.ErrInvalidPayload, err)
	}
	if err := m.To(msg.Recipients...); err != nil {
		return nil, "", fmt.Errorf("%w: recipients: %v", integration.ErrInvalidPayload, err)
	}
	m.Subject(msg.Subject)

	contentType := mail.TypeTextPlain
	if msg.ContentType == integration.ContentTypeHTML {
		contentType = mail.TypeTextHTML
	}
	m.SetBodyString(contentType, msg.Body)

	messageID := uuid.NewString() + "@integration-hub"
	m.SetMessageIDWithValue(messageID)
	m.SetDate()
	return m, messageID, nil
}
