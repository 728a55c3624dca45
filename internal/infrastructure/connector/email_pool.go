package connector

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/taskstream/integration-hub/internal/domain/integration"
)

// MailSession is one open SMTP connection.
type MailSession interface {
	Send(ctx context.Context, msg *mail.Msg) error
	Close() error
}

// MailDialer opens SMTP sessions.
type MailDialer interface {
	Dial(ctx context.Context) (MailSession, error)
}

// MailDialerFactory builds a dialer for a validated config.
type MailDialerFactory func(cfg integration.EmailConfig) MailDialer

// WithMailDialer replaces the go-mail dialer, mainly for tests.
func WithMailDialer(factory MailDialerFactory) Option {
	return func(o *options) {
		o.mailDialer = factory
	}
}

// ---------------------------------------------------------------------------
// go-mail dialer
// ---------------------------------------------------------------------------

type goMailDialer struct {
	cfg integration.EmailConfig
}

// NewGoMailDialer returns a dialer backed by github.com/wneessen/go-mail.
func NewGoMailDialer(cfg integration.EmailConfig) MailDialer {
	return &goMailDialer{cfg: cfg}
}

func (d *goMailDialer) Dial(ctx context.Context) (MailSession, error) {
	opts := []mail.Option{
		mail.WithPort(d.cfg.Port),
		mail.WithTimeout(d.cfg.DialTimeout),
	}
	if d.cfg.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if d.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(d.cfg.Username),
			mail.WithPassword(d.cfg.Password),
		)
	}

	client, err := mail.NewClient(d.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: email client: %v", integration.ErrInvalidPayload, err)
	}
	if err := client.DialWithContext(ctx); err != nil {
		return nil, err
	}
	return &goMailSession{client: client}, nil
}

type goMailSession struct {
	client *mail.Client
}

func (s *goMailSession) Send(ctx context.Context, msg *mail.Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.Send(msg)
}

func (s *goMailSession) Close() error {
	return s.client.Close()
}

// ---------------------------------------------------------------------------
// Session pool
// ---------------------------------------------------------------------------

var errPoolClosed = errors.New("email: session pool closed")

// sessionPool keeps up to size idle sessions. Sessions are dialed on demand,
// returned after use, and closed instead of returned when broken or surplus.
//
// Thread Safety: Safe for concurrent use.
type sessionPool struct {
	name        string
	dialer      MailDialer
	dialTimeout time.Duration
	idle        chan MailSession

	mu     sync.Mutex
	closed bool

	dials atomic.Int64
}

func newSessionPool(name string, dialer MailDialer, size int, dialTimeout time.Duration) *sessionPool {
	if size <= 0 {
		size = 1
	}
	return &sessionPool{
		name:        name,
		dialer:      dialer,
		dialTimeout: dialTimeout,
		idle:        make(chan MailSession, size),
	}
}

// acquire returns an idle session or dials a new one within the dial timeout.
func (p *sessionPool) acquire(ctx context.Context) (MailSession, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %v", integration.ErrNotInitialized, errPoolClosed)
	}

	select {
	case s := <-p.idle:
		return s, nil
	default:
	}
	return p.dial(ctx)
}

// dial always opens a fresh session.
func (p *sessionPool) dial(ctx context.Context) (MailSession, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	p.dials.Add(1)
	s, err := p.dialer.Dial(dialCtx)
	if err != nil {
		return nil, smtpError(ctx, p.name, err)
	}
	return s, nil
}

// release puts s back into the pool, or closes it when broken, surplus or the pool is closed.
func (p *sessionPool) release(s MailSession, broken bool) {
	if broken {
		_ = s.Close()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = s.Close()
		return
	}
	select {
	case p.idle <- s:
	default:
		_ = s.Close()
	}
}

// Idle returns the number of idle sessions.
func (p *sessionPool) Idle() int {
	return len(p.idle)
}

// Dials returns the number of dial attempts so far.
func (p *sessionPool) Dials() int64 {
	return p.dials.Load()
}

// close drains and closes every idle session. Sessions in use are closed on release.
func (p *sessionPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for {
		select {
		case s := <-p.idle:
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

// smtpError classifies SMTP failures. Authentication replies (530/534/535) are
// AuthErrors, permanent recipient rejections are invalid payloads, and everything
// else is a connection failure.
func smtpError(ctx context.Context, name string, err error) error {
	if errors.Is(err, integration.ErrInvalidPayload) {
		return err
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 530, 534, 535:
			return &AuthError{Integration: name, Reason: tpErr.Msg}
		}
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && !sendErr.IsTemp() && sendErr.Reason == mail.ErrSMTPRcptTo {
		return fmt.Errorf("%w: %s rejected recipients: %v", integration.ErrInvalidPayload, name, err)
	}

	return transportError(ctx, name, err)
}
