package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appintegration "github.com/taskstream/integration-hub/internal/application/integration"
	"github.com/taskstream/integration-hub/internal/infrastructure/cache"
	"github.com/taskstream/integration-hub/internal/infrastructure/config"
	"github.com/taskstream/integration-hub/internal/infrastructure/connector"
	"github.com/taskstream/integration-hub/internal/infrastructure/logger"
	"github.com/taskstream/integration-hub/internal/infrastructure/resilience"
	"github.com/taskstream/integration-hub/internal/infrastructure/telemetry"
	"github.com/taskstream/integration-hub/internal/interfaces/http/handler"
	"github.com/taskstream/integration-hub/internal/interfaces/http/middleware"
	"github.com/taskstream/integration-hub/internal/interfaces/http/router"
)

//	@title			Integration Hub API
//	@version		1.0
//	@description	Gateway to the email, chat and issue tracker integrations.

//	@BasePath	/api/v1

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The OTEL log bridge needs a logger of its own before the process logger exists.
	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize OTEL logs", zap.Error(err))
	}

	log, err := logger.New(logCfg, telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		LoggerProvider: logProvider,
		Level:          logger.ParseLevel(cfg.Telemetry.LogsLevel),
	}))
	if err != nil {
		bootLog.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting Integration Hub",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("config_version", cfg.Version),
	)

	if err := run(ctx, cfg, log, logProvider); err != nil {
		log.Fatal("Integration Hub stopped with error", zap.Error(err))
	}
	log.Info("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, logProvider *telemetry.LoggerProvider) error {
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.TracingEnabled,
		Exporter:          cfg.Telemetry.TracingExporter,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
		Registerer:        registry,
	}, log)
	if err != nil {
		return err
	}

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.ProfilingEnabled,
		ServerAddress:     cfg.Telemetry.ProfilingServerAddress,
		ApplicationName:   cfg.Telemetry.ServiceName,
		BasicAuthUser:     cfg.Telemetry.ProfilingAuthUser,
		BasicAuthPassword: cfg.Telemetry.ProfilingAuthPassword,
		ProfileCPU:        true,
		ProfileAlloc:      true,
		ProfileInuse:      true,
		ProfileGoroutines: true,
	}, log)
	if err != nil {
		return err
	}
	if profiler.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
		log.Info("Profiling started", zap.Bool("span_profiles", tracerProvider.IsSpanProfilesEnabled()))
	}

	integrationMetrics, err := telemetry.NewIntegrationMetrics(meterProvider.Meter("integration-hub"), log)
	if err != nil {
		return err
	}

	adapterOpts := []connector.Option{
		connector.WithLogger(log),
		connector.WithMetricsSink(integrationMetrics),
		connector.WithBreakerObserver(func(name string, _, to resilience.State) {
			integrationMetrics.RecordCircuitState(context.Background(), name, int(to), to.String())
		}),
	}

	hub := appintegration.NewHub(log)
	closers, err := registerAdapters(ctx, cfg, hub, log, adapterOpts)
	if err != nil {
		return err
	}

	idempotency := middleware.IdempotencyConfig{}
	if cfg.Idempotency.Enabled {
		factory := cache.NewIdempotencyStoreFactory(cache.RedisOptions{
			Addr:      cfg.Redis.Addr(),
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Idempotency.KeyPrefix,
		}, cfg.Redis.Enabled,
			cache.WithLogger(log),
			cache.WithInMemoryFallback(cfg.Idempotency.AllowInMemoryFallback),
		)
		store, err := factory.CreateStore(ctx)
		if err != nil {
			return err
		}
		closers = append(closers, store.Close)
		idempotency = middleware.IdempotencyConfig{Store: store, TTL: cfg.Idempotency.TTL}
	}

	engineCfg := router.EngineConfig{
		Logger:         log,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Security:       middleware.DefaultSecurityConfig(),
		CORS:           corsConfig(cfg.HTTP),
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.TracingEnabled,
		},
		Meter:          meterProvider.Meter("http.server"),
		MetricsEnabled: meterProvider.IsEnabled(),
		Profiling: middleware.ProfilingConfig{
			Enabled:   profiler.IsEnabled(),
			SkipPaths: middleware.DefaultProfilingConfig().SkipPaths,
		},
		RouteTimeout: cfg.HTTP.RouteTimeout,
		MaxBodySize:  cfg.HTTP.MaxBodySize,
		Idempotency:  idempotency,
		Gatherer:     registry,
	}
	if cfg.HTTP.BreakerEnabled {
		engineCfg.Breaker = resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:           "hub",
			Threshold:      cfg.HTTP.BreakerThreshold,
			CoolDown:       cfg.HTTP.BreakerCoolDown,
			HalfOpenProbes: cfg.HTTP.BreakerProbes,
			OnStateChange: func(name string, from, to resilience.State) {
				log.Warn("Hub circuit breaker state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
				integrationMetrics.RecordCircuitState(context.Background(), name, int(to), to.String())
			},
		})
	}
	if cfg.HTTP.RateLimitEnabled {
		engineCfg.Limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
		log.Info("Hub rate limiting enabled",
			zap.Float64("rps", cfg.HTTP.RateLimitRPS),
			zap.Int("burst", cfg.HTTP.RateLimitBurst),
		)
	}
	if cfg.HTTP.BasicAuthUser != "" {
		engineCfg.BasicAuth = gin.Accounts{cfg.HTTP.BasicAuthUser: cfg.HTTP.BasicAuthPassword}
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	names := handler.IntegrationNames{
		Email:   cfg.Email.Name,
		Chat:    cfg.Chat.Name,
		Tracker: cfg.Tracker.Name,
	}
	engine := router.NewEngine(engineCfg, router.Handlers{
		Integrations: handler.NewIntegrationHandler(hub, names),
		Health:       handler.NewHealthHandler(hub, cfg.Telemetry.ServiceName),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           engine,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
	}

	integrationMetrics.StartPeriodicCollection(ctx, hub, cfg.Telemetry.ConnectionInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Sync.Enabled {
		syncLoop := appintegration.NewSyncLoop(hub, appintegration.SyncConfig{
			Interval:       cfg.Sync.Interval,
			InitialBackoff: cfg.Sync.InitialBackoff,
			MaxBackoff:     cfg.Sync.MaxBackoff,
		}, log)
		g.Go(func() error {
			return syncLoop.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		errs := []error{srv.Shutdown(shutdownCtx)}
		integrationMetrics.Stop()
		for _, closeFn := range closers {
			errs = append(errs, closeFn())
		}
		errs = append(errs,
			profiler.Stop(),
			meterProvider.Shutdown(shutdownCtx),
			tracerProvider.Shutdown(shutdownCtx),
			logProvider.Shutdown(shutdownCtx),
		)
		return errors.Join(errs...)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerAdapters initializes the enabled adapters and registers them in hub.
// An adapter that fails to initialize is still registered; the sync loop keeps
// retrying it and it reports disconnected meanwhile.
func registerAdapters(ctx context.Context, cfg *config.Config, hub *appintegration.Hub, log *zap.Logger, opts []connector.Option) ([]func() error, error) {
	var closers []func() error

	if cfg.Email.Enabled {
		email := connector.NewEmailAdapter(cfg.Email.Name, opts...)
		emailCfg := cfg.Email.EmailConfig
		initFn := func(ctx context.Context) error { return email.Initialize(ctx, &emailCfg) }
		if err := hub.Register(email, appintegration.WithInitializer(initFn)); err != nil {
			return nil, err
		}
		initialize(ctx, log, cfg.Email.Name, initFn)
		closers = append(closers, email.Close)
	}

	if cfg.Chat.Enabled {
		chat := connector.NewChatAdapter(cfg.Chat.Name, opts...)
		chatCfg := cfg.Chat.ChatConfig
		initFn := func(ctx context.Context) error { return chat.Initialize(ctx, &chatCfg) }
		if err := hub.Register(chat, appintegration.WithInitializer(initFn)); err != nil {
			return nil, err
		}
		initialize(ctx, log, cfg.Chat.Name, initFn)
	}

	if cfg.Tracker.Enabled {
		tracker := connector.NewTrackerAdapter(cfg.Tracker.Name, opts...)
		trackerCfg := cfg.Tracker.TrackerConfig
		initFn := func(ctx context.Context) error { return tracker.Initialize(ctx, &trackerCfg) }
		if err := hub.Register(tracker, appintegration.WithInitializer(initFn)); err != nil {
			return nil, err
		}
		initialize(ctx, log, cfg.Tracker.Name, initFn)
	}

	log.Info("Integrations registered", zap.Strings("integrations", hub.Names()))
	return closers, nil
}

func initialize(ctx context.Context, log *zap.Logger, name string, initFn appintegration.Initializer) {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := initFn(initCtx); err != nil {
		log.Warn("Integration failed to initialize",
			zap.String("integration", name),
			zap.Error(err),
		)
	}
}

func corsConfig(cfg config.HTTPConfig) middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	if len(cfg.CORSAllowOrigins) > 0 {
		cors.AllowOrigins = cfg.CORSAllowOrigins
	}
	if len(cfg.CORSAllowMethods) > 0 {
		cors.AllowMethods = cfg.CORSAllowMethods
	}
	if len(cfg.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = cfg.CORSAllowHeaders
	}
	return cors
}
