package integration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/infrastructure/telemetry"
)

// SyncConfig controls the periodic status refresh.
type SyncConfig struct {
	// Interval between sync rounds. Default: 1m
	Interval time.Duration
	// InitialBackoff is the delay after the first failed refresh. Default: 1s
	InitialBackoff time.Duration
	// MaxBackoff caps the per-integration delay. Default: 1h
	MaxBackoff time.Duration
}

// DefaultSyncConfig returns the default sync configuration
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Interval:       time.Minute,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Hour,
	}
}

func (c SyncConfig) withDefaults() SyncConfig {
	def := DefaultSyncConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = def.MaxBackoff
		if c.MaxBackoff < c.InitialBackoff {
			c.MaxBackoff = c.InitialBackoff
		}
	}
	return c
}

// SyncOption configures a SyncLoop
type SyncOption func(*SyncLoop)

// WithSyncClock replaces time.Now, for tests.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *SyncLoop) {
		if now != nil {
			s.now = now
		}
	}
}

// syncState is the per-integration backoff state.
type syncState struct {
	backoff   *backoff.ExponentialBackOff
	next      time.Time
	connected bool
	seen      bool
	failures  int
}

// SyncLoop refreshes every registered integration on a fixed interval.
// An integration whose refresh fails is skipped until its backoff elapses;
// the delay doubles per consecutive failure up to MaxBackoff.
type SyncLoop struct {
	hub    *Hub
	cfg    SyncConfig
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	states map[string]*syncState
}

// NewSyncLoop creates a sync loop over hub
func NewSyncLoop(hub *Hub, cfg SyncConfig, logger *zap.Logger, opts ...SyncOption) *SyncLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SyncLoop{
		hub:    hub,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		states: make(map[string]*syncState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run syncs immediately and then every interval until ctx is done.
func (s *SyncLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Integration sync loop started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("max_backoff", s.cfg.MaxBackoff),
	)

	s.SyncOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Integration sync loop stopped")
			return nil
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce refreshes every integration whose backoff has elapsed.
func (s *SyncLoop) SyncOnce(ctx context.Context) {
	ctx, span := telemetry.StartServiceSpan(ctx, "hub", "sync")
	defer span.End()

	for name, e := range s.hub.snapshot() {
		if ctx.Err() != nil {
			return
		}
		s.syncOne(ctx, name, e)
	}
}

// NextAttempt returns when name will be refreshed again after a failure.
// The zero time means the next round.
func (s *SyncLoop) NextAttempt(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[name]; ok {
		return st.next
	}
	return time.Time{}
}

func (s *SyncLoop) state(name string) *syncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = s.cfg.InitialBackoff
		eb.MaxInterval = s.cfg.MaxBackoff
		eb.Multiplier = 2
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		eb.Reset()
		st = &syncState{backoff: eb}
		s.states[name] = st
	}
	return st
}

func (s *SyncLoop) syncOne(ctx context.Context, name string, e *entry) {
	st := s.state(name)
	now := s.now()

	s.mu.Lock()
	due := !now.Before(st.next)
	s.mu.Unlock()
	if !due {
		return
	}

	err := refresh(ctx, e)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		if st.seen && !st.connected {
			s.logger.Info("Integration reconnected",
				zap.String("integration", name),
				zap.Int("failed_rounds", st.failures),
			)
		}
		st.backoff.Reset()
		st.next = time.Time{}
		st.connected = true
		st.failures = 0
		st.seen = true
		return
	}

	if ctx.Err() != nil {
		return
	}

	wait := st.backoff.NextBackOff()
	st.next = now.Add(wait)
	st.failures++

	fields := []zap.Field{
		zap.String("integration", name),
		zap.String("error_kind", integration.Classify(err).String()),
		zap.Duration("backoff", wait),
		zap.Int("failed_rounds", st.failures),
		zap.Error(err),
	}
	if st.connected || !st.seen {
		s.logger.Warn("Integration sync failed", fields...)
	} else {
		s.logger.Debug("Integration still unavailable", fields...)
	}
	st.connected = false
	st.seen = true
}

// refresh probes the integration, initializing it first when it never was.
func refresh(ctx context.Context, e *entry) error {
	prober, ok := e.reporter.(integration.Prober)
	if !ok {
		st, err := e.reporter.Status(ctx)
		if err != nil {
			return err
		}
		if st.Connected {
			return nil
		}
		if e.init != nil {
			return e.init(ctx)
		}
		return integration.ErrConnectionFailed
	}

	err := prober.Probe(ctx)
	if errors.Is(err, integration.ErrNotInitialized) && e.init != nil {
		return e.init(ctx)
	}
	return err
}
