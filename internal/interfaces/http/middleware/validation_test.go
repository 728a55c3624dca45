package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskstream/integration-hub/internal/interfaces/http/dto"
)

func bindRouter() *gin.Engine {
	SetupValidator()
	router := gin.New()
	router.Use(BodyLimit(256))
	router.POST("/email", func(c *gin.Context) {
		var req dto.SendEmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleBindError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(nil))
	})
	return router
}

func TestHandleBindError(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
		wantFields []string
	}{
		{
			name:       "valid",
			body:       `{"subject":"Deploy","recipients":["ops@example.com"]}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing fields",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeValidation,
			wantFields: []string{"subject", "recipients"},
		},
		{
			name:       "bad recipient",
			body:       `{"subject":"Deploy","recipients":["not-an-email"]}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeValidation,
			wantFields: []string{"recipients[0]"},
		},
		{
			name:       "bad content type",
			body:       `{"subject":"Deploy","recipients":["a@example.com"],"contentType":"text/markdown"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeValidation,
			wantFields: []string{"contentType"},
		},
		{
			name:       "wrong type",
			body:       `{"subject":42,"recipients":["a@example.com"]}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeValidation,
			wantFields: []string{"subject"},
		},
		{
			name:       "malformed json",
			body:       `{"subject":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeInvalidJSON,
		},
		{
			name:       "syntax error",
			body:       `{subject}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeInvalidJSON,
		},
		{
			name:       "empty body",
			body:       ``,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeInvalidJSON,
		},
		{
			name:       "too large",
			body:       `{"subject":"` + strings.Repeat("x", 300) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   dto.ErrCodeRequestTooLarge,
		},
	}

	router := bindRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/email", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			if tt.wantCode == "" {
				assert.Equal(t, dto.StatusSuccess, resp.Status)
				return
			}
			assert.Equal(t, dto.StatusError, resp.Status)
			assert.Equal(t, tt.wantCode, resp.Code)

			var fields []string
			for _, d := range resp.Details {
				fields = append(fields, d.Field)
				assert.NotEmpty(t, d.Message)
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}

func TestGetValidationMessage(t *testing.T) {
	type sample struct {
		Required string   `validate:"required"`
		Email    string   `validate:"email"`
		Min      string   `validate:"min=5"`
		Items    []string `validate:"min=1"`
		OneOf    string   `validate:"oneof=a b c"`
		Key      string   `validate:"alphanum"`
	}

	err := validator.New().Struct(sample{Email: "invalid", Min: "ab", OneOf: "d", Key: "a-b"})
	var errs validator.ValidationErrors
	require.ErrorAs(t, err, &errs)

	got := map[string]string{}
	for _, e := range errs {
		got[e.Field()] = getValidationMessage(e)
	}
	assert.Equal(t, map[string]string{
		"Required": "This field is required",
		"Email":    "Invalid email format",
		"Min":      "Must be at least 5 characters",
		"Items":    "Must contain at least 1 items",
		"OneOf":    "Must be one of: a b c",
		"Key":      "Must be alphanumeric",
	}, got)
}
