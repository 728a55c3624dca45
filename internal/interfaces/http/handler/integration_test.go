package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appintegration "github.com/taskstream/integration-hub/internal/application/integration"
	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/interfaces/http/dto"
	"github.com/taskstream/integration-hub/internal/interfaces/http/middleware"
)

// stubAdapter records the payloads it receives
type stubAdapter[P any] struct {
	name      string
	typ       integration.Type
	connected bool
	sendErr   error

	mu   sync.Mutex
	sent []P
}

func (s *stubAdapter[P]) Name() string           { return s.name }
func (s *stubAdapter[P]) Type() integration.Type { return s.typ }

func (s *stubAdapter[P]) Status(context.Context) (integration.IntegrationStatus, error) {
	st := integration.NewStatus(s.name, s.typ)
	st.Connected = s.connected
	return st, nil
}

func (s *stubAdapter[P]) Send(_ context.Context, payload P) (integration.Receipt, error) {
	if s.sendErr != nil {
		return integration.Receipt{}, s.sendErr
	}
	s.mu.Lock()
	s.sent = append(s.sent, payload)
	s.mu.Unlock()
	return integration.Receipt{
		Integration: s.name,
		Reference:   "ref-1",
		Attempts:    1,
		DeliveredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

type testAdapters struct {
	email *stubAdapter[integration.EmailMessage]
	chat  *stubAdapter[integration.ChatMessage]
	jira  *stubAdapter[integration.IssueRequest]
}

func newTestHub(t *testing.T) (*appintegration.Hub, testAdapters) {
	t.Helper()
	a := testAdapters{
		email: &stubAdapter[integration.EmailMessage]{name: "email", typ: integration.TypeEmail, connected: true},
		chat:  &stubAdapter[integration.ChatMessage]{name: "slack", typ: integration.TypeChat, connected: true},
		jira:  &stubAdapter[integration.IssueRequest]{name: "jira", typ: integration.TypeProjectManagement, connected: true},
	}
	hub := appintegration.NewHub(nil)
	require.NoError(t, hub.Register(a.email))
	require.NoError(t, hub.Register(a.chat))
	require.NoError(t, hub.Register(a.jira))
	return hub, a
}

var testNames = IntegrationNames{Email: "email", Chat: "slack", Tracker: "jira"}

func setupIntegrationRouter(h *IntegrationHandler) *gin.Engine {
	middleware.SetupValidator()
	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("/api/v1")
	api.POST("/email/send", h.SendEmail)
	api.POST("/slack/post", h.PostChat)
	api.POST("/jira/create", h.CreateIssue)
	api.GET("/integrations", h.ListIntegrations)
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIntegrationHandler_SendEmail(t *testing.T) {
	hub, a := newTestHub(t)
	r := setupIntegrationRouter(NewIntegrationHandler(hub, testNames))

	w := doJSON(r, http.MethodPost, "/api/v1/email/send",
		`{"subject":"Hello","body":"<b>hi</b>","recipients":["ops@example.com"],"contentType":"text/html"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","data":{"integration":"email","reference":"ref-1","attempts":1,"deliveredAt":"2026-01-02T03:04:05Z"}}`,
		w.Body.String())
	require.Len(t, a.email.sent, 1)
	assert.Equal(t, integration.EmailMessage{
		Subject:     "Hello",
		Body:        "<b>hi</b>",
		Recipients:  []string{"ops@example.com"},
		ContentType: "text/html",
	}, a.email.sent[0])
}

func TestIntegrationHandler_SendEmail_Validation(t *testing.T) {
	hub, a := newTestHub(t)
	r := setupIntegrationRouter(NewIntegrationHandler(hub, testNames))

	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing subject", `{"recipients":["a@example.com"]}`, dto.ErrCodeValidation},
		{"no recipients", `{"subject":"s","recipients":[]}`, dto.ErrCodeValidation},
		{"bad recipient", `{"subject":"s","recipients":["not-an-email"]}`, dto.ErrCodeValidation},
		{"bad content type", `{"subject":"s","recipients":["a@example.com"],"contentType":"text/xml"}`, dto.ErrCodeValidation},
		{"malformed json", `{"subject":`, dto.ErrCodeInvalidJSON},
		{"empty body", ``, dto.ErrCodeInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/v1/email/send", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
	assert.Empty(t, a.email.sent)
}

func TestIntegrationHandler_PostChat(t *testing.T) {
	hub, a := newTestHub(t)
	r := setupIntegrationRouter(NewIntegrationHandler(hub, testNames))

	w := doJSON(r, http.MethodPost, "/api/v1/slack/post", `{"channel":"#ops","text":"deploy done"}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, a.chat.sent, 1)
	assert.Equal(t, integration.ChatMessage{Channel: "#ops", Text: "deploy done"}, a.chat.sent[0])

	w = doJSON(r, http.MethodPost, "/api/v1/slack/post", `{"channel":"#ops"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIntegrationHandler_CreateIssue(t *testing.T) {
	hub, a := newTestHub(t)
	r := setupIntegrationRouter(NewIntegrationHandler(hub, testNames))

	w := doJSON(r, http.MethodPost, "/api/v1/jira/create",
		`{"summary":"Disk full","description":"db-1 at 95%","issueType":"Bug","priority":"High","projectKey":"OPS"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Status string              `json:"status"`
		Data   integration.Receipt `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "jira", resp.Data.Integration)
	assert.Equal(t, "ref-1", resp.Data.Reference)
	require.Len(t, a.jira.sent, 1)
	assert.Equal(t, "OPS", a.jira.sent[0].ProjectKey)
}

func TestIntegrationHandler_SendErrors(t *testing.T) {
	tests := []struct {
		name           string
		sendErr        error
		expectedStatus int
		expectedCode   string
	}{
		{"not initialized", integration.ErrNotInitialized, http.StatusServiceUnavailable, dto.ErrCodeNotInitialized},
		{"unavailable", fmt.Errorf("%w: circuit open", integration.ErrUnavailable), http.StatusServiceUnavailable, dto.ErrCodeUnavailable},
		{"invalid payload", fmt.Errorf("%w: channel not found", integration.ErrInvalidPayload), http.StatusBadRequest, dto.ErrCodeInvalidPayload},
		{"cancelled", integration.ErrCancelled, http.StatusGatewayTimeout, dto.ErrCodeCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, a := newTestHub(t)
			a.chat.sendErr = tt.sendErr
			r := setupIntegrationRouter(NewIntegrationHandler(hub, testNames))

			w := doJSON(r, http.MethodPost, "/api/v1/slack/post", `{"text":"hi"}`)

			assert.Equal(t, tt.expectedStatus, w.Code)
			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestIntegrationHandler_NotConfigured(t *testing.T) {
	hub := appintegration.NewHub(nil)
	r := setupIntegrationRouter(NewIntegrationHandler(hub, testNames))

	w := doJSON(r, http.MethodPost, "/api/v1/jira/create", `{"summary":"x"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeNotConfigured, resp.Code)
}

func TestIntegrationHandler_ListIntegrations(t *testing.T) {
	hub, a := newTestHub(t)
	a.jira.connected = false
	r := setupIntegrationRouter(NewIntegrationHandler(hub, testNames))

	w := doJSON(r, http.MethodGet, "/api/v1/integrations", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data dto.IntegrationList `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Integrations, 3)
	assert.Equal(t, "email", resp.Data.Integrations[0].Name)
	assert.Equal(t, "jira", resp.Data.Integrations[1].Name)
	assert.Equal(t, "slack", resp.Data.Integrations[2].Name)
	assert.False(t, resp.Data.Integrations[1].Connected)
	assert.Equal(t, integration.OverallDegraded, resp.Data.Overall)
}
