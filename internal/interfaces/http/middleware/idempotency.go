package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/infrastructure/cache"
	"github.com/taskstream/integration-hub/internal/infrastructure/logger"
	"github.com/taskstream/integration-hub/internal/interfaces/http/dto"
)

// IdempotencyKeyHeader is the request header that makes a POST idempotent.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 255

// IdempotencyConfig configures the Idempotency middleware.
type IdempotencyConfig struct {
	Store cache.IdempotencyStore
	TTL   time.Duration
}

// Idempotency rejects a replayed Idempotency-Key with 409. Keys are scoped
// to the route. A request without the header passes through. When the
// request does not succeed the key is released so the client can retry.
// Store failures are logged and the request proceeds.
func Idempotency(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.Store == nil {
		return passThrough
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeValidation, "Idempotency-Key must be at most 255 characters", GetRequestID(c)))
			return
		}

		ctx := c.Request.Context()
		storeKey := c.FullPath() + ":" + key

		reserved, err := cfg.Store.Reserve(ctx, storeKey, cfg.TTL)
		if err != nil {
			logger.L(ctx).Warn("Idempotency store unavailable, processing request", zap.Error(err))
			c.Next()
			return
		}
		if !reserved {
			c.AbortWithStatusJSON(http.StatusConflict, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeDuplicateRequest, "request with this Idempotency-Key was already processed", GetRequestID(c)))
			return
		}

		c.Next()

		if status := c.Writer.Status(); status < http.StatusOK || status >= http.StatusMultipleChoices {
			if err := cfg.Store.Release(context.WithoutCancel(ctx), storeKey); err != nil {
				logger.L(ctx).Warn("Failed to release idempotency key", zap.Error(err))
			}
		}
	}
}
