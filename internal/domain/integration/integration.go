package integration

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Type represents the category of an external system
// ---------------------------------------------------------------------------

// Type represents the category of an external system
type Type string

const (
	// TypeEmail is an SMTP-backed mail system
	TypeEmail Type = "email"
	// TypeChat is a token-authenticated chat platform
	TypeChat Type = "chat"
	// TypeProjectManagement is an issue tracker
	TypeProjectManagement Type = "project_management"
)

// IsValid returns true if the type is valid
func (t Type) IsValid() bool {
	switch t {
	case TypeEmail, TypeChat, TypeProjectManagement:
		return true
	default:
		return false
	}
}

// String returns the string representation of Type
func (t Type) String() string {
	return string(t)
}

// ---------------------------------------------------------------------------
// Receipt
// ---------------------------------------------------------------------------

// Receipt describes a delivered message.
type Receipt struct {
	// Integration is the name of the adapter that delivered it
	Integration string `json:"integration"`
	// Reference is the remote identifier (issue key, message timestamp, message id)
	Reference string `json:"reference,omitempty"`
	// Attempts is the number of transport attempts, including the successful one
	Attempts int `json:"attempts"`
	// DeliveredAt is the time of the successful attempt
	DeliveredAt time.Time `json:"deliveredAt"`
}

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// StatusReporter is the untyped view of an adapter.
// The hub registry, health checks and the sync loop only need this much.
type StatusReporter interface {
	// Name returns the unique adapter name
	Name() string

	// Type returns the integration category
	Type() Type

	// Status returns a freshly computed snapshot.
	// It reports connected=false instead of an error when the adapter was never initialized.
	Status(ctx context.Context) (IntegrationStatus, error)
}

// Sender delivers typed payloads.
type Sender[P any] interface {
	Send(ctx context.Context, payload P) (Receipt, error)
}

// Integration is the capability contract of an adapter with config type C and payload type P.
// All methods are safe for concurrent use.
type Integration[C any, P any] interface {
	StatusReporter
	Sender[P]

	// Initialize validates cfg, builds the client, probes connectivity and only then
	// marks the adapter ready. Calling it again re-initializes and resets counters.
	Initialize(ctx context.Context, cfg *C) error
}

// Prober refreshes connectivity for adapters that support a lightweight probe.
type Prober interface {
	Probe(ctx context.Context) error
}
