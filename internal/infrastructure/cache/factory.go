// Package cache holds the idempotency stores behind the gateway's Idempotency-Key handling.
package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrStoreUnavailable wraps every backend failure of a store.
var ErrStoreUnavailable = errors.New("cache: idempotency store unavailable")

// IdempotencyStore remembers request keys for a limited time.
type IdempotencyStore interface {
	// Reserve claims key for ttl. It returns false when the key is already claimed.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Exists reports whether key is currently claimed.
	Exists(ctx context.Context, key string) (bool, error)
	// Release drops a claim so the request can be retried with the same key.
	Release(ctx context.Context, key string) error
	Close() error
}

// IdempotencyStoreFactory creates idempotency stores based on configuration
type IdempotencyStoreFactory struct {
	redis                 RedisOptions
	redisEnabled          bool
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// IdempotencyStoreFactoryOption is a functional option for configuring the factory
type IdempotencyStoreFactoryOption func(*IdempotencyStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory store when Redis is unavailable
// Default is true (allow fallback)
func WithInMemoryFallback(allow bool) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewIdempotencyStoreFactory creates a new factory. With redisEnabled false the
// factory always builds the in-memory store.
func NewIdempotencyStoreFactory(redisOpts RedisOptions, redisEnabled bool, opts ...IdempotencyStoreFactoryOption) *IdempotencyStoreFactory {
	f := &IdempotencyStoreFactory{
		redis:                 redisOpts,
		redisEnabled:          redisEnabled,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateStore returns a Redis store when Redis is enabled and reachable, and the
// in-memory store otherwise (unless fallback is disabled).
func (f *IdempotencyStoreFactory) CreateStore(ctx context.Context) (IdempotencyStore, error) {
	if !f.redisEnabled {
		f.logger.Info("Using in-memory idempotency store")
		return NewInMemoryIdempotencyStore(0), nil
	}

	store, err := NewRedisIdempotencyStore(ctx, f.redis)
	if err == nil {
		f.logger.Info("Using Redis idempotency store", zap.String("addr", f.redis.Addr))
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, err
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory idempotency store; "+
		"replicas will not share Idempotency-Key claims",
		zap.String("addr", f.redis.Addr),
		zap.Error(err),
	)
	return NewInMemoryIdempotencyStore(0), nil
}
