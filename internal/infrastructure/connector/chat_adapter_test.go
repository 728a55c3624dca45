package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/infrastructure/resilience"
)

// stubChat fails the first failures posts, then succeeds.
type stubChat struct {
	mu       sync.Mutex
	authErr  error
	postErr  error
	failures int
	posts    int
	auths    int
	channels []string
}

func (s *stubChat) AuthTest(context.Context) (ChatIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auths++
	if s.authErr != nil {
		return ChatIdentity{}, s.authErr
	}
	return ChatIdentity{Team: "Acme", User: "hubbot", UserID: "U1"}, nil
}

func (s *stubChat) PostMessage(_ context.Context, channel, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts++
	s.channels = append(s.channels, channel)
	if s.postErr != nil {
		return "", s.postErr
	}
	if s.posts <= s.failures {
		return "", fmt.Errorf("%w: stub outage %d", integration.ErrConnectionFailed, s.posts)
	}
	return fmt.Sprintf("1700000000.%06d", s.posts), nil
}

func (s *stubChat) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts
}

func newTestChatAdapter(t *testing.T, stub *stubChat, opts ...Option) *ChatAdapter {
	t.Helper()
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithChatTransport(func(string, integration.ChatConfig) ChatTransport { return stub }),
	}, opts...)
	return NewChatAdapter("slack", opts...)
}

func validChatConfig() *integration.ChatConfig {
	return &integration.ChatConfig{
		Token:          "xoxb-test",
		DefaultChannel: "#alerts",
		Timeout:        time.Second,
		Resilience:     fastResilience(),
	}
}

func TestChatAdapter_SendBeforeInitialize(t *testing.T) {
	stub := &stubChat{}
	a := newTestChatAdapter(t, stub)

	_, err := a.Send(context.Background(), integration.ChatMessage{Text: "hello"})
	require.ErrorIs(t, err, integration.ErrNotInitialized)
	assert.Equal(t, 0, stub.postCount())
	assert.Equal(t, 0, stub.auths)
}

func TestChatAdapter_Initialize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *integration.ChatConfig
		authErr error
		wantErr error
	}{
		{name: "nil config", wantErr: integration.ErrInitializationFailed},
		{name: "missing token", cfg: &integration.ChatConfig{DefaultChannel: "#x"}, wantErr: integration.ErrInitializationFailed},
		{name: "invalid auth", cfg: validChatConfig(), authErr: &AuthError{Integration: "slack", Reason: "invalid_auth"}, wantErr: integration.ErrInitializationFailed},
		{name: "unreachable", cfg: validChatConfig(), authErr: fmt.Errorf("%w: dial tcp", integration.ErrConnectionFailed), wantErr: integration.ErrConnectionFailed},
		{name: "ok", cfg: validChatConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestChatAdapter(t, &stubChat{authErr: tt.authErr})
			err := a.Initialize(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				st, _ := a.Status(context.Background())
				assert.False(t, st.Connected)
				return
			}
			require.NoError(t, err)

			st, err := a.Status(context.Background())
			require.NoError(t, err)
			assert.True(t, st.Connected)
			assert.Equal(t, "#alerts", st.Metadata["default_channel"])
			assert.Equal(t, "Acme", st.Metadata["team"])
			assert.Equal(t, "hubbot", st.Metadata["bot_user"])
			assert.Equal(t, 3, st.Metadata[MetaAttemptsLimit])
		})
	}
}

func TestChatAdapter_DefaultChannel(t *testing.T) {
	stub := &stubChat{}
	a := newTestChatAdapter(t, stub)
	require.NoError(t, a.Initialize(context.Background(), validChatConfig()))

	_, err := a.Send(context.Background(), integration.ChatMessage{Text: "deploy done"})
	require.NoError(t, err)
	_, err = a.Send(context.Background(), integration.ChatMessage{Channel: " #ops ", Text: "deploy done"})
	require.NoError(t, err)

	assert.Equal(t, []string{"#alerts", "#ops"}, stub.channels)

	_, err = a.Send(context.Background(), integration.ChatMessage{Text: "   "})
	require.ErrorIs(t, err, integration.ErrInvalidPayload)
	assert.Equal(t, 2, stub.postCount())
}

// Five consecutive outages with three attempts per send: the first send gives up,
// the second succeeds on its third attempt and lastSync is the time of that attempt.
func TestChatAdapter_RetriesThroughOutage(t *testing.T) {
	clock := newFakeClock(time.Second)
	stub := &stubChat{failures: 5}
	a := newTestChatAdapter(t, stub, WithClock(clock.Now))
	require.NoError(t, a.Initialize(context.Background(), validChatConfig()))

	_, err := a.Send(context.Background(), integration.ChatMessage{Text: "first"})
	require.ErrorIs(t, err, integration.ErrConnectionFailed)
	assert.Equal(t, 3, stub.postCount())

	st, _ := a.Status(context.Background())
	assert.False(t, st.Connected)
	assert.Equal(t, "closed", st.Metadata[MetaCircuitState])

	receipt, err := a.Send(context.Background(), integration.ChatMessage{Text: "second"})
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.Attempts)
	assert.Equal(t, "1700000000.000006", receipt.Reference)
	assert.Equal(t, 6, stub.postCount())

	st, _ = a.Status(context.Background())
	assert.True(t, st.Connected)
	assert.Equal(t, receipt.DeliveredAt, st.LastSync)
	assert.Equal(t, uint64(1), st.ErrorCount)
	assert.InDelta(t, 0.5, st.SuccessRate, 1e-9)
	require.NotNil(t, st.LastError)
	assert.True(t, st.LastError.Before(st.LastSync))
}

func TestChatAdapter_BreakerOpensAndRecovers(t *testing.T) {
	clock := newFakeClock(time.Millisecond)
	stub := &stubChat{postErr: fmt.Errorf("%w: 503", integration.ErrConnectionFailed)}

	var (
		mu          sync.Mutex
		transitions []string
	)
	observer := func(_ string, from, to resilience.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	cfg := validChatConfig()
	cfg.Resilience.MaxAttempts = 1
	cfg.Resilience.BreakerThreshold = 2
	a := newTestChatAdapter(t, stub, WithClock(clock.Now), WithBreakerObserver(observer))
	require.NoError(t, a.Initialize(context.Background(), cfg))

	for i := 0; i < 2; i++ {
		_, err := a.Send(context.Background(), integration.ChatMessage{Text: "x"})
		require.ErrorIs(t, err, integration.ErrConnectionFailed)
	}

	_, err := a.Send(context.Background(), integration.ChatMessage{Text: "x"})
	require.ErrorIs(t, err, integration.ErrUnavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, stub.postCount(), "an open circuit must not reach the transport")

	st, _ := a.Status(context.Background())
	assert.Equal(t, "open", st.Metadata[MetaCircuitState])
	assert.Equal(t, uint64(3), st.ErrorCount)

	stub.mu.Lock()
	stub.postErr = nil
	stub.mu.Unlock()
	clock.Advance(2 * time.Minute)

	_, err = a.Send(context.Background(), integration.ChatMessage{Text: "x"})
	require.NoError(t, err)

	st, _ = a.Status(context.Background())
	assert.Equal(t, "closed", st.Metadata[MetaCircuitState])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestChatAdapter_RemoteRejectionKeepsCircuitClosed(t *testing.T) {
	stub := &stubChat{postErr: fmt.Errorf("%w: channel_not_found", integration.ErrInvalidPayload)}
	cfg := validChatConfig()
	cfg.Resilience.BreakerThreshold = 1
	a := newTestChatAdapter(t, stub)
	require.NoError(t, a.Initialize(context.Background(), cfg))

	for i := 0; i < 3; i++ {
		_, err := a.Send(context.Background(), integration.ChatMessage{Channel: "#gone", Text: "x"})
		require.ErrorIs(t, err, integration.ErrInvalidPayload)
	}
	assert.Equal(t, 3, stub.postCount(), "invalid payloads are not retried")

	st, _ := a.Status(context.Background())
	assert.Equal(t, "closed", st.Metadata[MetaCircuitState])
	assert.True(t, st.Connected)
}

func TestChatAdapter_AuthErrorIsNotRetried(t *testing.T) {
	stub := &stubChat{postErr: &AuthError{Integration: "slack", Reason: "token_revoked"}}
	a := newTestChatAdapter(t, stub)
	require.NoError(t, a.Initialize(context.Background(), validChatConfig()))

	_, err := a.Send(context.Background(), integration.ChatMessage{Text: "x"})
	require.ErrorIs(t, err, integration.ErrConnectionFailed)
	assert.Equal(t, 1, stub.postCount())
}

func TestChatAdapter_CancelledContext(t *testing.T) {
	stub := &stubChat{}
	a := newTestChatAdapter(t, stub)
	require.NoError(t, a.Initialize(context.Background(), validChatConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Send(ctx, integration.ChatMessage{Text: "x"})
	require.ErrorIs(t, err, integration.ErrCancelled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, stub.postCount())
}

func TestChatAdapter_Probe(t *testing.T) {
	stub := &stubChat{}
	a := newTestChatAdapter(t, stub)
	require.NoError(t, a.Initialize(context.Background(), validChatConfig()))

	require.NoError(t, a.Probe(context.Background()))
	assert.Equal(t, 2, stub.auths)

	stub.mu.Lock()
	stub.authErr = fmt.Errorf("%w: timeout", integration.ErrConnectionFailed)
	stub.mu.Unlock()
	require.Error(t, a.Probe(context.Background()))

	st, _ := a.Status(context.Background())
	assert.False(t, st.Connected)
}

func newSlackServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) integration.ChatConfig {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return integration.ChatConfig{Token: "xoxb-test", BaseURL: srv.URL, Timeout: time.Second}
}

func TestSlackTransport(t *testing.T) {
	t.Run("auth test and post", func(t *testing.T) {
		cfg := newSlackServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/auth.test":
				_, _ = w.Write([]byte(`{"ok":true,"team":"Acme","user":"hubbot","team_id":"T1","user_id":"U1"}`))
			case "/chat.postMessage":
				assert.NoError(t, r.ParseForm())
				assert.Equal(t, "#alerts", r.PostForm.Get("channel"))
				assert.Equal(t, "deploy done", r.PostForm.Get("text"))
				_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
			default:
				http.NotFound(w, r)
			}
		})
		transport := NewSlackTransport("slack", cfg)

		id, err := transport.AuthTest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ChatIdentity{Team: "Acme", User: "hubbot", UserID: "U1"}, id)

		ts, err := transport.PostMessage(context.Background(), "#alerts", "deploy done")
		require.NoError(t, err)
		assert.Equal(t, "1700000000.000100", ts)
	})

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		auth    bool
	}{
		{name: "invalid auth", status: http.StatusOK, body: `{"ok":false,"error":"invalid_auth"}`, wantErr: integration.ErrConnectionFailed, auth: true},
		{name: "channel not found", status: http.StatusOK, body: `{"ok":false,"error":"channel_not_found"}`, wantErr: integration.ErrInvalidPayload},
		{name: "unknown api error", status: http.StatusOK, body: `{"ok":false,"error":"fatal_error"}`, wantErr: integration.ErrConnectionFailed},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantErr: integration.ErrConnectionFailed},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, wantErr: integration.ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newSlackServer(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "1")
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := NewSlackTransport("slack", cfg).PostMessage(context.Background(), "#alerts", "x")
			require.ErrorIs(t, err, tt.wantErr)

			var authErr *AuthError
			assert.Equal(t, tt.auth, errors.As(err, &authErr))
		})
	}
}
