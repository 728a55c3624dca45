// Package integration is the application layer of the hub: the registry of
// adapters, typed dispatch and the periodic status sync.
package integration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/domain/integration"
)

// Initializer (re)connects an adapter with its stored configuration.
type Initializer func(ctx context.Context) error

// RegisterOption configures one registration.
type RegisterOption func(*entry)

// WithInitializer lets the sync loop retry initialization of an adapter that
// is not initialized, e.g. because the remote was down at startup.
func WithInitializer(init Initializer) RegisterOption {
	return func(e *entry) {
		e.init = init
	}
}

type entry struct {
	reporter integration.StatusReporter
	init     Initializer
}

// Hub is the registry of integrations, keyed by adapter name.
type Hub struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register adds r under r.Name(). Empty names and duplicates are rejected.
func (h *Hub) Register(r integration.StatusReporter, opts ...RegisterOption) error {
	if r == nil {
		return fmt.Errorf("%w: nil integration", integration.ErrInvalidPayload)
	}
	name := strings.TrimSpace(r.Name())
	if name == "" {
		return fmt.Errorf("%w: integration name is required", integration.ErrInvalidPayload)
	}

	e := &entry{reporter: r}
	for _, opt := range opts {
		opt(e)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.entries[name]; exists {
		return fmt.Errorf("%w: %s", integration.ErrDuplicateIntegration, name)
	}
	h.entries[name] = e

	h.logger.Info("Integration registered",
		zap.String("integration", name),
		zap.String("type", r.Type().String()),
	)
	return nil
}

// Get returns the integration registered under name
func (h *Hub) Get(name string) (integration.StatusReporter, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrIntegrationNotFound, name)
	}
	return e.reporter, nil
}

// Names returns the registered names in sorted order
func (h *Hub) Names() []string {
	h.mu.RLock()
	names := make([]string, 0, len(h.entries))
	for name := range h.entries {
		names = append(names, name)
	}
	h.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of registered integrations
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *Hub) snapshot() map[string]*entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*entry, len(h.entries))
	for name, e := range h.entries {
		out[name] = e
	}
	return out
}

// Statuses returns a fresh status per integration.
// An adapter whose Status fails is reported disconnected.
func (h *Hub) Statuses(ctx context.Context) map[string]integration.IntegrationStatus {
	entries := h.snapshot()
	out := make(map[string]integration.IntegrationStatus, len(entries))
	for name, e := range entries {
		st, err := e.reporter.Status(ctx)
		if err != nil {
			h.logger.Warn("Integration status failed",
				zap.String("integration", name),
				zap.Error(err),
			)
			st = integration.NewStatus(name, e.reporter.Type())
		}
		out[name] = st
	}
	return out
}

// Overall returns the statuses together with their summary.
func (h *Hub) Overall(ctx context.Context) (map[string]integration.IntegrationStatus, integration.OverallStatus) {
	statuses := h.Statuses(ctx)
	return statuses, integration.Summarize(statuses)
}

// ConnectionStates reports connected per integration for the metrics collector.
func (h *Hub) ConnectionStates(ctx context.Context) map[string]bool {
	statuses := h.Statuses(ctx)
	out := make(map[string]bool, len(statuses))
	for name, st := range statuses {
		out[name] = st.Connected
	}
	return out
}
