package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/infrastructure/metrics"
	"github.com/taskstream/integration-hub/internal/infrastructure/resilience"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code     int
		wantKind integration.Kind
		wantAuth bool
	}{
		{http.StatusUnauthorized, integration.KindConnectionFailed, true},
		{http.StatusForbidden, integration.KindConnectionFailed, true},
		{http.StatusBadRequest, integration.KindInvalidPayload, false},
		{http.StatusUnprocessableEntity, integration.KindInvalidPayload, false},
		{http.StatusNotFound, integration.KindConnectionFailed, false},
		{http.StatusTooManyRequests, integration.KindConnectionFailed, false},
		{http.StatusBadGateway, integration.KindConnectionFailed, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := classifyStatus("jira", tt.code, "detail")
			assert.Equal(t, tt.wantKind, integration.Classify(err))

			var authErr *AuthError
			assert.Equal(t, tt.wantAuth, errors.As(err, &authErr))
			assert.Equal(t, !tt.wantAuth && tt.wantKind == integration.KindConnectionFailed, retryable(err))
		})
	}
}

func TestTransportError(t *testing.T) {
	err := transportError(context.Background(), "slack", context.DeadlineExceeded)
	assert.ErrorIs(t, err, integration.ErrConnectionFailed)
	assert.NotErrorIs(t, err, context.DeadlineExceeded, "client timeouts are connection failures")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = transportError(ctx, "slack", errors.New("read: connection reset"))
	assert.ErrorIs(t, err, integration.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInitError(t *testing.T) {
	auth := &AuthError{Integration: "jira", Reason: "HTTP 401"}
	assert.ErrorIs(t, initError(auth), integration.ErrInitializationFailed)
	assert.Contains(t, initError(auth).Error(), "HTTP 401")

	conn := fmt.Errorf("%w: refused", integration.ErrConnectionFailed)
	assert.Same(t, conn, initError(conn))
}

func TestMapWaitError(t *testing.T) {
	assert.ErrorIs(t, mapWaitError(fmt.Errorf("wait: %w", context.Canceled)), integration.ErrCancelled)
	assert.ErrorIs(t, mapWaitError(resilience.ErrWaitTimeout), integration.ErrUnavailable)
	assert.ErrorIs(t, mapWaitError(resilience.ErrBurstExceeded), integration.ErrUnavailable)
}

func TestCore_RateLimitRejection(t *testing.T) {
	stub := &stubChat{}
	sink := &recordingSink{}
	cfg := validChatConfig()
	cfg.Resilience.RateLimit = 0.001
	cfg.Resilience.Burst = 1

	a := newTestChatAdapter(t, stub, WithMetricsSink(sink))
	require.NoError(t, a.Initialize(context.Background(), cfg))

	_, err := a.Send(context.Background(), integration.ChatMessage{Text: "one"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.Send(ctx, integration.ChatMessage{Text: "two"})
	require.ErrorIs(t, err, integration.ErrUnavailable)
	assert.ErrorIs(t, err, resilience.ErrWaitTimeout)
	assert.Equal(t, 1, stub.postCount())

	calls := sink.all()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].Success)
	assert.False(t, calls[1].Success)
	assert.Equal(t, 0, calls[1].Attempts)
	assert.Equal(t, integration.KindUnavailable.String(), calls[1].ErrorKind)
}

func TestCore_ValidationIsNotRecorded(t *testing.T) {
	sink := &recordingSink{}
	a := newTestChatAdapter(t, &stubChat{}, WithMetricsSink(sink))

	_, err := a.Send(context.Background(), integration.ChatMessage{Text: "x"})
	require.ErrorIs(t, err, integration.ErrNotInitialized)

	require.NoError(t, a.Initialize(context.Background(), validChatConfig()))
	_, err = a.Send(context.Background(), integration.ChatMessage{Text: ""})
	require.ErrorIs(t, err, integration.ErrInvalidPayload)

	assert.Empty(t, sink.all())
	st, _ := a.Status(context.Background())
	assert.Equal(t, uint64(0), st.Metadata[MetaSampleCount])
	assert.Equal(t, 1.0, st.SuccessRate)
}

func TestCore_SinkReceivesIntegrationIdentity(t *testing.T) {
	sink := &recordingSink{}
	a := newTestChatAdapter(t, &stubChat{}, WithMetricsSink(sink))
	require.NoError(t, a.Initialize(context.Background(), validChatConfig()))

	_, err := a.Send(context.Background(), integration.ChatMessage{Text: "x"})
	require.NoError(t, err)

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "slack", calls[0].Integration)
	assert.Equal(t, integration.TypeChat.String(), calls[0].Type)
	assert.Equal(t, 1, calls[0].Attempts)
}

var _ metrics.Sink = (*recordingSink)(nil)

func TestAdapters_FailedReinitializeDeactivates(t *testing.T) {
	tests := []struct {
		name    string
		build   func(t *testing.T) (reinit func() error, send func() error, status func() integration.IntegrationStatus)
		wantErr error
	}{
		{
			name: "email invalid config",
			build: func(t *testing.T) (func() error, func() error, func() integration.IntegrationStatus) {
				a := newTestEmailAdapter(t, &fakeDialer{})
				require.NoError(t, a.Initialize(context.Background(), validEmailConfig()))
				return func() error { return a.Initialize(context.Background(), &integration.EmailConfig{}) },
					func() error { _, err := a.Send(context.Background(), validEmail()); return err },
					func() integration.IntegrationStatus { st, _ := a.Status(context.Background()); return st }
			},
			wantErr: integration.ErrInitializationFailed,
		},
		{
			name: "chat nil config",
			build: func(t *testing.T) (func() error, func() error, func() integration.IntegrationStatus) {
				a := newTestChatAdapter(t, &stubChat{})
				require.NoError(t, a.Initialize(context.Background(), validChatConfig()))
				return func() error { return a.Initialize(context.Background(), nil) },
					func() error {
						_, err := a.Send(context.Background(), integration.ChatMessage{Text: "hi"})
						return err
					},
					func() integration.IntegrationStatus { st, _ := a.Status(context.Background()); return st }
			},
			wantErr: integration.ErrInitializationFailed,
		},
		{
			name: "chat auth rejected",
			build: func(t *testing.T) (func() error, func() error, func() integration.IntegrationStatus) {
				stub := &stubChat{}
				a := newTestChatAdapter(t, stub)
				require.NoError(t, a.Initialize(context.Background(), validChatConfig()))
				return func() error {
						stub.mu.Lock()
						stub.authErr = &AuthError{Integration: "slack", Reason: "token_revoked"}
						stub.mu.Unlock()
						return a.Initialize(context.Background(), validChatConfig())
					},
					func() error {
						_, err := a.Send(context.Background(), integration.ChatMessage{Text: "hi"})
						return err
					},
					func() integration.IntegrationStatus { st, _ := a.Status(context.Background()); return st }
			},
			wantErr: integration.ErrInitializationFailed,
		},
		{
			name: "tracker invalid url",
			build: func(t *testing.T) (func() error, func() error, func() integration.IntegrationStatus) {
				_, cfg := newJira(t)
				a := newTestTrackerAdapter(t)
				require.NoError(t, a.Initialize(context.Background(), cfg))
				bad := *cfg
				bad.URL = "not a url"
				return func() error { return a.Initialize(context.Background(), &bad) },
					func() error {
						_, err := a.Send(context.Background(), integration.IssueRequest{Summary: "x"})
						return err
					},
					func() integration.IntegrationStatus { st, _ := a.Status(context.Background()); return st }
			},
			wantErr: integration.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reinit, send, status := tt.build(t)
			require.True(t, status().Connected)

			require.ErrorIs(t, reinit(), tt.wantErr)

			assert.False(t, status().Connected)
			assert.ErrorIs(t, send(), integration.ErrNotInitialized)
		})
	}
}
