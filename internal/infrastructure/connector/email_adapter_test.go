package connector

import (
	"context"
	"errors"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap/zaptest"

	"github.com/taskstream/integration-hub/internal/domain/integration"
)

type fakeSession struct {
	dialer *fakeDialer
	closed atomic.Bool
}

func (s *fakeSession) Send(_ context.Context, msg *mail.Msg) error {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()
	if len(s.dialer.sendErrs) > 0 {
		err := s.dialer.sendErrs[0]
		s.dialer.sendErrs = s.dialer.sendErrs[1:]
		return err
	}
	s.dialer.sent = append(s.dialer.sent, msg)
	return nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	dialErr  error
	sendErrs []error
	sent     []*mail.Msg
	sessions []*fakeSession
	dials    atomic.Int32
}

func (d *fakeDialer) Dial(context.Context) (MailSession, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	s := &fakeSession{dialer: d}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func newTestEmailAdapter(t *testing.T, dialer *fakeDialer) *EmailAdapter {
	t.Helper()
	return NewEmailAdapter("email",
		WithLogger(zaptest.NewLogger(t)),
		WithMailDialer(func(integration.EmailConfig) MailDialer { return dialer }),
	)
}

func validEmailConfig() *integration.EmailConfig {
	return &integration.EmailConfig{
		Host:           "smtp.example.com",
		Port:           2525,
		FromAddress:    "hub@example.com",
		AllowedDomains: []string{"Example.com"},
		PoolSize:       2,
		DialTimeout:    time.Second,
		Resilience:     fastResilience(),
	}
}

func validEmail() integration.EmailMessage {
	return integration.EmailMessage{
		Subject:    "Deploy finished",
		Body:       "All green.",
		Recipients: []string{"ops@example.com"},
	}
}

func TestEmailAdapter_SendBeforeInitialize(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestEmailAdapter(t, dialer)

	_, err := a.Send(context.Background(), validEmail())
	require.ErrorIs(t, err, integration.ErrNotInitialized)
	assert.Equal(t, int32(0), dialer.dials.Load())

	st, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Connected)
	assert.Equal(t, "email", st.Name)
	assert.Equal(t, integration.TypeEmail, st.Type)

	assert.ErrorIs(t, a.Probe(context.Background()), integration.ErrNotInitialized)
}

func TestEmailAdapter_Initialize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *integration.EmailConfig
		dialErr error
		wantErr error
	}{
		{name: "nil config", cfg: nil, wantErr: integration.ErrInitializationFailed},
		{name: "missing host", cfg: &integration.EmailConfig{FromAddress: "hub@example.com"}, wantErr: integration.ErrInitializationFailed},
		{name: "bad port", cfg: &integration.EmailConfig{Host: "smtp", FromAddress: "hub@example.com", Port: 70000}, wantErr: integration.ErrInvalidPayload},
		{name: "dial refused", cfg: validEmailConfig(), dialErr: errors.New("connection refused"), wantErr: integration.ErrConnectionFailed},
		{name: "auth rejected", cfg: validEmailConfig(), dialErr: &textproto.Error{Code: 535, Msg: "bad credentials"}, wantErr: integration.ErrInitializationFailed},
		{name: "ok", cfg: validEmailConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{dialErr: tt.dialErr}
			a := newTestEmailAdapter(t, dialer)

			err := a.Initialize(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				st, _ := a.Status(context.Background())
				assert.False(t, st.Connected)
				_, sendErr := a.Send(context.Background(), validEmail())
				assert.ErrorIs(t, sendErr, integration.ErrNotInitialized)
				return
			}
			require.NoError(t, err)

			st, err := a.Status(context.Background())
			require.NoError(t, err)
			assert.True(t, st.Connected)
			assert.Equal(t, 1.0, st.SuccessRate)
			assert.Equal(t, false, st.Metadata[MetaHasData])
			assert.Equal(t, "closed", st.Metadata[MetaCircuitState])
			assert.Equal(t, 1, st.Metadata["pool_idle"])
			assert.Equal(t, int64(1), st.Metadata["pool_dials"])
		})
	}
}

func TestEmailAdapter_InvalidPayloadDoesNotTouchPool(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestEmailAdapter(t, dialer)
	require.NoError(t, a.Initialize(context.Background(), validEmailConfig()))
	dialsAfterInit := dialer.dials.Load()

	tests := []struct {
		name string
		msg  integration.EmailMessage
	}{
		{"empty recipients", integration.EmailMessage{Subject: "hi", Body: "x"}},
		{"missing subject", integration.EmailMessage{Body: "x", Recipients: []string{"ops@example.com"}}},
		{"bad address", integration.EmailMessage{Subject: "hi", Recipients: []string{"not-an-address"}}},
		{"domain not allowed", integration.EmailMessage{Subject: "hi", Recipients: []string{"someone@elsewhere.org"}}},
		{"bad content type", integration.EmailMessage{Subject: "hi", Recipients: []string{"ops@example.com"}, ContentType: "application/pdf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Send(context.Background(), tt.msg)
			require.ErrorIs(t, err, integration.ErrInvalidPayload)
		})
	}

	assert.Equal(t, dialsAfterInit, dialer.dials.Load())
	assert.Equal(t, 0, dialer.sentCount())
	assert.Equal(t, 1, a.pool.Idle())
}

func TestEmailAdapter_SendReusesPooledSession(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestEmailAdapter(t, dialer)
	require.NoError(t, a.Initialize(context.Background(), validEmailConfig()))

	for i := 0; i < 3; i++ {
		receipt, err := a.Send(context.Background(), validEmail())
		require.NoError(t, err)
		assert.Equal(t, 1, receipt.Attempts)
		assert.Equal(t, "email", receipt.Integration)
		assert.True(t, strings.HasSuffix(receipt.Reference, "@integration-hub"))
	}

	assert.Equal(t, int32(1), dialer.dials.Load(), "the probe session is reused")
	require.Equal(t, 3, dialer.sentCount())

	rcpts, err := dialer.sent[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com"}, rcpts)

	st, _ := a.Status(context.Background())
	assert.Equal(t, uint64(3), st.Metadata[MetaSampleCount])
	assert.Equal(t, 1.0, st.SuccessRate)
}

func TestEmailAdapter_BrokenSessionIsClosedAndRetried(t *testing.T) {
	dialer := &fakeDialer{sendErrs: []error{errors.New("broken pipe")}}
	a := newTestEmailAdapter(t, dialer)
	require.NoError(t, a.Initialize(context.Background(), validEmailConfig()))

	receipt, err := a.Send(context.Background(), validEmail())
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.Attempts)
	assert.Equal(t, int32(2), dialer.dials.Load())

	dialer.mu.Lock()
	first := dialer.sessions[0]
	dialer.mu.Unlock()
	assert.True(t, first.closed.Load(), "broken session must not return to the pool")
}

func TestEmailAdapter_RetriesExhausted(t *testing.T) {
	temp := errors.New("421 service not available")
	dialer := &fakeDialer{sendErrs: []error{temp, temp, temp}}
	a := newTestEmailAdapter(t, dialer)
	require.NoError(t, a.Initialize(context.Background(), validEmailConfig()))

	_, err := a.Send(context.Background(), validEmail())
	require.ErrorIs(t, err, integration.ErrConnectionFailed)

	st, _ := a.Status(context.Background())
	assert.False(t, st.Connected)
	assert.Equal(t, uint64(1), st.ErrorCount)
	assert.Equal(t, 0.0, st.SuccessRate)
	require.NotNil(t, st.LastError)
}

func TestEmailAdapter_ReinitializeResetsCounters(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestEmailAdapter(t, dialer)
	require.NoError(t, a.Initialize(context.Background(), validEmailConfig()))
	_, err := a.Send(context.Background(), validEmail())
	require.NoError(t, err)
	oldPool := a.pool

	require.NoError(t, a.Initialize(context.Background(), validEmailConfig()))

	st, _ := a.Status(context.Background())
	assert.Equal(t, uint64(0), st.Metadata[MetaSampleCount])
	assert.NotSame(t, oldPool, a.pool)
	assert.Equal(t, 0, oldPool.Idle(), "old pool drained")
}

func TestEmailAdapter_ProbeAndClose(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestEmailAdapter(t, dialer)
	require.NoError(t, a.Initialize(context.Background(), validEmailConfig()))

	require.NoError(t, a.Probe(context.Background()))
	assert.Equal(t, int32(2), dialer.dials.Load())

	dialer.mu.Lock()
	dialer.dialErr = errors.New("no route to host")
	dialer.mu.Unlock()
	require.ErrorIs(t, a.Probe(context.Background()), integration.ErrConnectionFailed)
	st, _ := a.Status(context.Background())
	assert.False(t, st.Connected)

	require.NoError(t, a.Close())
	_, err := a.Send(context.Background(), validEmail())
	assert.ErrorIs(t, err, integration.ErrNotInitialized)
}

func TestSmtpError(t *testing.T) {
	ctx := context.Background()

	var authErr *AuthError
	require.ErrorAs(t, smtpError(ctx, "email", &textproto.Error{Code: 535, Msg: "nope"}), &authErr)
	assert.ErrorIs(t, smtpError(ctx, "email", errors.New("EOF")), integration.ErrConnectionFailed)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, smtpError(cancelled, "email", errors.New("EOF")), integration.ErrCancelled)
}
