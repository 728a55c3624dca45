package integration

import (
	"context"
	"errors"
)

// ---------------------------------------------------------------------------
// Error taxonomy shared by all adapters
// ---------------------------------------------------------------------------

var (
	// ErrInvalidPayload is a caller error. It is never retried.
	ErrInvalidPayload = errors.New("integration: invalid payload")
	// ErrNotInitialized is returned by Send before a successful Initialize.
	ErrNotInitialized = errors.New("integration: not initialized")
	// ErrInitializationFailed is a configuration error, fatal until reconfigured.
	ErrInitializationFailed = errors.New("integration: initialization failed")
	// ErrConnectionFailed is a transport or remote failure. Retried per policy.
	ErrConnectionFailed = errors.New("integration: connection failed")
	// ErrUnavailable signals backpressure: circuit open or rate limit deadline exceeded.
	ErrUnavailable = errors.New("integration: temporarily unavailable")
	// ErrCancelled is returned when the caller's context ends the operation.
	ErrCancelled = errors.New("integration: cancelled")

	// Registry errors
	ErrDuplicateIntegration = errors.New("integration: integration already registered")
	ErrIntegrationNotFound  = errors.New("integration: integration not found")
)

// Kind is the coarse class of an integration error.
type Kind string

const (
	KindNone               Kind = ""
	KindInvalidPayload     Kind = "INVALID_PAYLOAD"
	KindNotInitialized     Kind = "NOT_INITIALIZED"
	KindInitializationFail Kind = "INITIALIZATION_FAILED"
	KindConnectionFailed   Kind = "CONNECTION_FAILED"
	KindUnavailable        Kind = "UNAVAILABLE"
	KindCancelled          Kind = "CANCELLED"
	KindUnknown            Kind = "UNKNOWN"
)

// String returns the string representation of Kind
func (k Kind) String() string {
	return string(k)
}

// Classify maps err onto the shared taxonomy.
// Context errors that escaped unwrapped are reported as cancellations.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidPayload):
		return KindInvalidPayload
	case errors.Is(err, ErrNotInitialized):
		return KindNotInitialized
	case errors.Is(err, ErrInitializationFailed):
		return KindInitializationFail
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrConnectionFailed):
		return KindConnectionFailed
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether err may succeed on another attempt.
// Only connection failures are retried; cancellation always wins.
func IsRetryable(err error) bool {
	return Classify(err) == KindConnectionFailed
}
