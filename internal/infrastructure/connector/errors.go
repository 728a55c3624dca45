package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/taskstream/integration-hub/internal/domain/integration"
)

// AuthError is a rejected credential (HTTP 401/403 or an equivalent API error).
// It wraps ErrConnectionFailed at send time; Initialize turns it into ErrInitializationFailed.
type AuthError struct {
	Integration string
	Reason      string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication rejected: %s", e.Integration, e.Reason)
}

// Unwrap returns ErrConnectionFailed.
func (e *AuthError) Unwrap() error {
	return integration.ErrConnectionFailed
}

// classifyStatus maps a REST status code onto the error taxonomy.
// 401/403 are authentication errors, 400/422 invalid payloads, 429, 5xx and anything
// else unexpected are connection failures.
func classifyStatus(name string, code int, detail string) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{Integration: name, Reason: fmt.Sprintf("HTTP %d %s", code, detail)}
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s rejected the request: HTTP %d %s", integration.ErrInvalidPayload, name, code, detail)
	default:
		return fmt.Errorf("%w: %s returned HTTP %d %s", integration.ErrConnectionFailed, name, code, detail)
	}
}

// transportError wraps a network failure. The caller's own cancellation is passed
// through untouched; everything else becomes a connection failure. The cause is
// formatted, not wrapped, so client timeouts are not mistaken for cancellation.
func transportError(ctx context.Context, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", integration.ErrCancelled, ctxErr)
	}
	return fmt.Errorf("%w: %s: %v", integration.ErrConnectionFailed, name, err)
}

// initError converts a probe failure during Initialize. Rejected credentials are a
// configuration problem; other failures stay connection failures.
func initError(err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return fmt.Errorf("%w: %s", integration.ErrInitializationFailed, authErr.Error())
	}
	return err
}
