package dto

import (
	"errors"
	"net/http"

	"github.com/taskstream/integration-hub/internal/domain/integration"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Input error codes
const (
	// ErrCodeValidation is used when request fields fail validation
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeInvalidPayload is used when an adapter rejects the payload
	ErrCodeInvalidPayload = "ERR_INVALID_PAYLOAD"
	// ErrCodeRequestTooLarge is used when the body exceeds the size limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
	// ErrCodeDuplicateRequest is used when an Idempotency-Key was already used
	ErrCodeDuplicateRequest = "ERR_DUPLICATE_REQUEST"
	// ErrCodeUnauthorized is used when basic auth fails
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
)

// Integration error codes
const (
	ErrCodeNotConfigured        = "ERR_INTEGRATION_NOT_CONFIGURED"
	ErrCodeNotInitialized       = "ERR_INTEGRATION_NOT_INITIALIZED"
	ErrCodeInitializationFailed = "ERR_INTEGRATION_INITIALIZATION_FAILED"
	ErrCodeUnavailable          = "ERR_INTEGRATION_UNAVAILABLE"
	ErrCodeConnectionFailed     = "ERR_INTEGRATION_CONNECTION_FAILED"
	ErrCodeCancelled            = "ERR_INTEGRATION_CANCELLED"
)

// Gateway error codes
const (
	// ErrCodeRateLimited is used when the hub rate limit is exceeded
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
	// ErrCodeCircuitOpen is used when the hub circuit breaker rejects a request
	ErrCodeCircuitOpen = "ERR_CIRCUIT_OPEN"
	// ErrCodeTimeout is used when a route exceeds its time budget
	ErrCodeTimeout = "ERR_TIMEOUT"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	// Caller errors -> 4xx
	ErrCodeValidation:       http.StatusBadRequest,
	ErrCodeInvalidJSON:      http.StatusBadRequest,
	ErrCodeInvalidPayload:   http.StatusBadRequest,
	ErrCodeRequestTooLarge:  http.StatusRequestEntityTooLarge,
	ErrCodeDuplicateRequest: http.StatusConflict,
	ErrCodeUnauthorized:     http.StatusUnauthorized,

	// Integration not usable right now -> 503
	ErrCodeNotConfigured:        http.StatusServiceUnavailable,
	ErrCodeNotInitialized:       http.StatusServiceUnavailable,
	ErrCodeInitializationFailed: http.StatusServiceUnavailable,
	ErrCodeUnavailable:          http.StatusServiceUnavailable,
	ErrCodeCircuitOpen:          http.StatusServiceUnavailable,

	// Remote failure after retries -> 500
	ErrCodeConnectionFailed: http.StatusInternalServerError,

	// Time budget exhausted -> 504
	ErrCodeCancelled: http.StatusGatewayTimeout,
	ErrCodeTimeout:   http.StatusGatewayTimeout,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorCodeFor maps an integration error onto an API error code.
func ErrorCodeFor(err error) string {
	if errors.Is(err, integration.ErrIntegrationNotFound) {
		return ErrCodeNotConfigured
	}
	switch integration.Classify(err) {
	case integration.KindNone:
		return ""
	case integration.KindInvalidPayload:
		return ErrCodeInvalidPayload
	case integration.KindNotInitialized:
		return ErrCodeNotInitialized
	case integration.KindInitializationFail:
		return ErrCodeInitializationFailed
	case integration.KindUnavailable:
		return ErrCodeUnavailable
	case integration.KindCancelled:
		return ErrCodeCancelled
	case integration.KindConnectionFailed:
		return ErrCodeConnectionFailed
	default:
		return ErrCodeInternal
	}
}

// errorMessages are the client-facing messages for errors whose cause stays in the logs.
var errorMessages = map[string]string{
	ErrCodeNotConfigured:        "integration is not configured",
	ErrCodeNotInitialized:       "integration is not initialized",
	ErrCodeInitializationFailed: "integration failed to initialize",
	ErrCodeUnavailable:          "integration temporarily unavailable",
	ErrCodeConnectionFailed:     "integration connection failed",
	ErrCodeCancelled:            "request timed out",
	ErrCodeInternal:             "internal server error",
}

// ErrorResponseFor returns the status code and body for err.
// Payload and configuration errors keep their message; remote and internal
// failures get a fixed message so upstream details are not exposed.
func ErrorResponseFor(err error, requestID string) (int, Response) {
	code := ErrorCodeFor(err)
	if code == "" {
		code = ErrCodeInternal
	}
	msg, ok := errorMessages[code]
	if !ok {
		msg = err.Error()
	}
	return GetHTTPStatus(code), NewErrorResponseWithRequestID(code, msg, requestID)
}
