package integration

import (
	"encoding/json"
	"time"
)

// IntegrationStatus is an immutable snapshot of an adapter's health.
// It is never persisted; adapters recompute it on every Status call.
type IntegrationStatus struct {
	Connected   bool
	Name        string
	Type        Type
	LastSync    time.Time
	LastError   *time.Time
	ErrorCount  uint64
	SuccessRate float64
	Metadata    map[string]any
}

// NewStatus returns a disconnected status with the optimistic defaults.
func NewStatus(name string, t Type) IntegrationStatus {
	return IntegrationStatus{
		Name:        name,
		Type:        t,
		SuccessRate: 1.0,
		Metadata:    map[string]any{},
	}
}

// Healthy reports whether the integration is connected.
func (s IntegrationStatus) Healthy() bool {
	return s.Connected
}

type statusJSON struct {
	Connected   bool           `json:"connected"`
	Name        string         `json:"name"`
	Type        Type           `json:"type"`
	LastSync    *string        `json:"lastSync"`
	LastError   *string        `json:"lastError"`
	ErrorCount  uint64         `json:"errorCount"`
	SuccessRate float64        `json:"successRate"`
	Metadata    map[string]any `json:"metadata"`
}

// MarshalJSON renders timestamps as RFC3339 and absent times as null.
func (s IntegrationStatus) MarshalJSON() ([]byte, error) {
	out := statusJSON{
		Connected:   s.Connected,
		Name:        s.Name,
		Type:        s.Type,
		ErrorCount:  s.ErrorCount,
		SuccessRate: s.SuccessRate,
		Metadata:    s.Metadata,
	}
	if !s.LastSync.IsZero() {
		v := s.LastSync.UTC().Format(time.RFC3339)
		out.LastSync = &v
	}
	if s.LastError != nil && !s.LastError.IsZero() {
		v := s.LastError.UTC().Format(time.RFC3339)
		out.LastError = &v
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the form produced by MarshalJSON.
func (s *IntegrationStatus) UnmarshalJSON(data []byte) error {
	var in statusJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = IntegrationStatus{
		Connected:   in.Connected,
		Name:        in.Name,
		Type:        in.Type,
		ErrorCount:  in.ErrorCount,
		SuccessRate: in.SuccessRate,
		Metadata:    in.Metadata,
	}
	if in.LastSync != nil {
		t, err := time.Parse(time.RFC3339, *in.LastSync)
		if err != nil {
			return err
		}
		s.LastSync = t
	}
	if in.LastError != nil {
		t, err := time.Parse(time.RFC3339, *in.LastError)
		if err != nil {
			return err
		}
		s.LastError = &t
	}
	return nil
}

// ---------------------------------------------------------------------------
// Overall health
// ---------------------------------------------------------------------------

// OverallStatus summarizes a set of integration statuses
type OverallStatus string

const (
	// OverallHealthy means every registered integration is connected
	OverallHealthy OverallStatus = "Healthy"
	// OverallDegraded means at least one integration is disconnected
	OverallDegraded OverallStatus = "Degraded"
)

// Summarize returns Healthy only when every status is connected.
// An empty set is Healthy.
func Summarize(statuses map[string]IntegrationStatus) OverallStatus {
	for _, s := range statuses {
		if !s.Connected {
			return OverallDegraded
		}
	}
	return OverallHealthy
}
