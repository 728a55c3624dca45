package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskstream/integration-hub/internal/infrastructure/resilience"
	"github.com/taskstream/integration-hub/internal/interfaces/http/dto"
)

// HubBreaker guards the whole gateway with one circuit breaker. A response
// counts as a failure when it is a 5xx other than 503 or when the handler
// panics; 503 already reports backpressure from an adapter's own breaker.
func HubBreaker(breaker *resilience.CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !breaker.Allow() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeCircuitOpen,
				"service temporarily unavailable",
				GetRequestID(c),
			))
			return
		}

		defer func() {
			if r := recover(); r != nil {
				breaker.OnFailure()
				panic(r)
			}
		}()

		c.Next()

		if isBreakerFailure(c.Writer.Status()) {
			breaker.OnFailure()
			return
		}
		breaker.OnSuccess()
	}
}

func isBreakerFailure(status int) bool {
	return status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable
}
