package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/infrastructure/logger"
	"github.com/taskstream/integration-hub/internal/infrastructure/resilience"
	"github.com/taskstream/integration-hub/internal/interfaces/http/handler"
	"github.com/taskstream/integration-hub/internal/interfaces/http/middleware"
)

// EngineConfig holds everything the gateway engine is assembled from.
// Nil collaborators disable the corresponding middleware.
type EngineConfig struct {
	Logger         *zap.Logger
	TrustedProxies []string

	Security middleware.SecurityConfig
	CORS     middleware.CORSConfig
	Tracing  middleware.TracingConfig

	// Hub-level protection, separate from each adapter's own breaker and limiter.
	Breaker *resilience.CircuitBreaker
	Limiter *middleware.RateLimiter

	Meter          metric.Meter
	MetricsEnabled bool
	Profiling      middleware.ProfilingConfig

	RouteTimeout time.Duration
	MaxBodySize  int64
	Idempotency  middleware.IdempotencyConfig

	// BasicAuth guards /health/secure; the route is not registered when empty.
	BasicAuth gin.Accounts
	// Gatherer backs /metrics; the route is not registered when nil.
	Gatherer prometheus.Gatherer
}

// Handlers are the HTTP handlers served by the engine.
type Handlers struct {
	Integrations *handler.IntegrationHandler
	Health       *handler.HealthHandler
}

// NewEngine builds the gateway engine.
//
// API middleware order: recovery, security headers, hub breaker, hub rate
// limit, tracing, request id, span enrichment, request logging, CORS, HTTP
// metrics, profiling labels. The health and metrics routes only get recovery.
func NewEngine(cfg EngineConfig, h Handlers) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if len(cfg.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}
	engine.Use(logger.Recovery(log))

	registerOpsRoutes(engine, cfg, h.Health)

	r := NewRouter(engine, WithAPIVersion("v1"))
	r.Use(middleware.SecureWithConfig(cfg.Security))
	if cfg.Breaker != nil {
		r.Use(middleware.HubBreaker(cfg.Breaker))
	}
	if cfg.Limiter != nil {
		r.Use(middleware.HubRateLimit(cfg.Limiter))
	}
	r.Use(
		middleware.TracingWithConfig(cfg.Tracing),
		middleware.RequestID(),
		middleware.SpanEnricher(),
		logger.GinMiddleware(log),
		middleware.CORSWithConfig(cfg.CORS),
	)
	if cfg.Meter != nil {
		r.Use(middleware.HTTPMetricsWithMeter(cfg.Meter, cfg.MetricsEnabled))
	}
	r.Use(middleware.ProfilingWithConfig(cfg.Profiling))

	r.Register(integrationRoutes(cfg, h.Integrations))
	api := r.Setup()

	// Preflight requests carry no route of their own; CORS answers them.
	api.OPTIONS("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	return engine
}

// integrationRoutes returns the /api/v1 routes. Each integration gets its own
// subgroup so its POST route is wrapped as idempotency, body limit, timeout,
// handler; the status listing is not.
func integrationRoutes(cfg EngineConfig, ih *handler.IntegrationHandler) *DomainGroup {
	post := []gin.HandlerFunc{middleware.Idempotency(cfg.Idempotency)}
	if cfg.MaxBodySize > 0 {
		post = append(post, middleware.BodyLimit(cfg.MaxBodySize))
	}
	post = append(post, middleware.Timeout(cfg.RouteTimeout))

	g := NewDomainGroup("")
	g.Group("/email").Use(post...).POST("/send", ih.SendEmail)
	g.Group("/slack").Use(post...).POST("/post", ih.PostChat)
	g.Group("/jira").Use(post...).POST("/create", ih.CreateIssue)
	g.GET("/integrations", ih.ListIntegrations)
	return g
}

func registerOpsRoutes(engine *gin.Engine, cfg EngineConfig, health *handler.HealthHandler) {
	engine.GET("/health", health.Health)
	if len(cfg.BasicAuth) > 0 {
		engine.GET("/health/secure", gin.BasicAuth(cfg.BasicAuth), health.Health)
	}
	if cfg.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
}
