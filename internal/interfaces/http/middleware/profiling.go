package middleware

import (
	"context"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskstream/integration-hub/internal/infrastructure/telemetry"
)

// ProfilingConfig holds configuration for the profiling middleware.
type ProfilingConfig struct {
	// Enabled controls whether profiling labels are added to requests.
	Enabled bool
	// SkipPaths are paths that don't need profiling labels (e.g., health checks).
	SkipPaths []string
}

// DefaultProfilingConfig returns default profiling middleware configuration.
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:   true,
		SkipPaths: []string{"/health", "/health/secure", "/metrics"},
	}
}

// ProfilingWithConfig attaches Pyroscope labels to the request so CPU and
// allocation profiles can be filtered per route and integration:
//   - route: route pattern, e.g. "/api/v1/jira/create"
//   - integration: "jira"
//   - operation: "create"
func ProfilingWithConfig(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return passThrough
	}

	return func(c *gin.Context) {
		if slices.Contains(cfg.SkipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}

		telemetry.WithProfilingLabels(c.Request.Context(), extractProfilingLabels(c), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func extractProfilingLabels(c *gin.Context) map[string]string {
	route := c.FullPath()
	if route == "" {
		return nil
	}
	labels := map[string]string{telemetry.ProfilingLabelRoute: route}
	if integration, operation := splitRoute(route); integration != "" {
		labels[telemetry.ProfilingLabelIntegration] = integration
		if operation != "" {
			labels[telemetry.ProfilingLabelOperation] = operation
		}
	}
	return labels
}

// splitRoute derives the integration and operation from a versioned route.
// Example: "/api/v1/email/send" -> ("email", "send")
// Example: "/api/v1/integrations" -> ("integrations", "")
func splitRoute(route string) (integration, operation string) {
	var parts []string
	for _, part := range strings.Split(route, "/") {
		if part == "" || part == "api" || isVersionSegment(part) || strings.HasPrefix(part, ":") {
			continue
		}
		parts = append(parts, part)
	}
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], parts[len(parts)-1]
	}
}

// isVersionSegment checks if a path segment is an API version (v1, v2, etc.)
func isVersionSegment(segment string) bool {
	if len(segment) < 2 || (segment[0] != 'v' && segment[0] != 'V') {
		return false
	}
	for i := 1; i < len(segment); i++ {
		if segment[i] < '0' || segment[i] > '9' {
			return false
		}
	}
	return true
}
