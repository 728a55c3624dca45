package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/taskstream/integration-hub/internal/domain/integration"
)

// SupportedVersion is the only configuration schema version this build accepts.
const SupportedVersion = "1.0.0"

// maxTimeout bounds every configured timeout.
const maxTimeout = 5 * time.Minute

// Error is a configuration problem. Context names the offending key or section.
type Error struct {
	Context string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Context, e.Message)
}

func newError(context, format string, args ...any) *Error {
	return &Error{Context: context, Message: fmt.Sprintf(format, args...)}
}

// Config holds all application configuration
type Config struct {
	Version     string
	App         AppConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	Telemetry   TelemetryConfig
	Email       EmailSection
	Chat        ChatSection
	Tracker     TrackerSection
	Sync        SyncConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Env     string
	Port    string
	Version string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// IdempotencyConfig controls Idempotency-Key handling on POST routes.
type IdempotencyConfig struct {
	Enabled   bool
	TTL       time.Duration
	KeyPrefix string
	// AllowInMemoryFallback keeps the gateway up with a per-process store when Redis is down.
	AllowInMemoryFallback bool
}

// HTTPConfig holds HTTP server and gateway configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RouteTimeout      time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64

	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	BreakerEnabled   bool
	BreakerThreshold int
	BreakerCoolDown  time.Duration
	BreakerProbes    int

	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string

	BasicAuthUser     string
	BasicAuthPassword string
}

// TelemetryConfig holds OpenTelemetry and profiling configuration
type TelemetryConfig struct {
	ServiceName       string
	CollectorEndpoint string // OTEL Collector endpoint (e.g., "localhost:4317")
	Insecure          bool   // Use insecure (non-TLS) connection (development only)

	TracingEnabled  bool
	TracingExporter string  // otlp or stdout
	SamplingRatio   float64 // 0.0-1.0

	MetricsEnabled        bool // OTLP push; the Prometheus endpoint is always served
	MetricsExportInterval time.Duration
	ConnectionInterval    time.Duration

	LogsEnabled bool
	LogsLevel   string

	ProfilingEnabled       bool
	ProfilingServerAddress string
	ProfilingAuthUser      string
	ProfilingAuthPassword  string
}

// EmailSection enables and configures the SMTP adapter.
type EmailSection struct {
	Enabled bool
	Name    string
	integration.EmailConfig
}

// ChatSection enables and configures the chat adapter.
type ChatSection struct {
	Enabled bool
	Name    string
	integration.ChatConfig
}

// TrackerSection enables and configures the issue tracker adapter.
type TrackerSection struct {
	Enabled bool
	Name    string
	integration.TrackerConfig
}

// SyncConfig controls the periodic status sync.
type SyncConfig struct {
	Enabled        bool
	Interval       time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with HUB_ prefix (e.g., HUB_CHAT_TOKEN)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/integration-hub")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, newError("file", "error reading config file: %v", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	return load(v)
}

// LoadFile reads configuration from an explicit path, still honouring HUB_ overrides.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, newError("file", "error reading %s: %v", path, err)
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setBoolDefaults(v)

	cfg := &Config{
		Version: v.GetString("version"),
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
			Version: v.GetString("app.version"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			ReadHeaderTimeout: v.GetDuration("http.read_header_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:   v.GetDuration("http.shutdown_timeout"),
			RouteTimeout:      v.GetDuration("http.route_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRPS:      v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:    v.GetInt("http.rate_limit_burst"),
			BreakerEnabled:    v.GetBool("http.breaker_enabled"),
			BreakerThreshold:  v.GetInt("http.breaker_threshold"),
			BreakerCoolDown:   v.GetDuration("http.breaker_cool_down"),
			BreakerProbes:     v.GetInt("http.breaker_probes"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:  v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:  v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
			BasicAuthUser:     v.GetString("http.basic_auth_user"),
			BasicAuthPassword: v.GetString("http.basic_auth_password"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Idempotency: IdempotencyConfig{
			Enabled:               v.GetBool("idempotency.enabled"),
			TTL:                   v.GetDuration("idempotency.ttl"),
			KeyPrefix:             v.GetString("idempotency.key_prefix"),
			AllowInMemoryFallback: v.GetBool("idempotency.allow_in_memory_fallback"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:            v.GetString("telemetry.service_name"),
			CollectorEndpoint:      v.GetString("telemetry.collector_endpoint"),
			Insecure:               v.GetBool("telemetry.insecure"),
			TracingEnabled:         v.GetBool("telemetry.tracing_enabled"),
			TracingExporter:        v.GetString("telemetry.tracing_exporter"),
			SamplingRatio:          v.GetFloat64("telemetry.sampling_ratio"),
			MetricsEnabled:         v.GetBool("telemetry.metrics_enabled"),
			MetricsExportInterval:  v.GetDuration("telemetry.metrics_export_interval"),
			ConnectionInterval:     v.GetDuration("telemetry.connection_interval"),
			LogsEnabled:            v.GetBool("telemetry.logs_enabled"),
			LogsLevel:              v.GetString("telemetry.logs_level"),
			ProfilingEnabled:       v.GetBool("telemetry.profiling_enabled"),
			ProfilingServerAddress: v.GetString("telemetry.profiling_server_address"),
			ProfilingAuthUser:      v.GetString("telemetry.profiling_auth_user"),
			ProfilingAuthPassword:  v.GetString("telemetry.profiling_auth_password"),
		},
		Email: EmailSection{
			Enabled: v.GetBool("email.enabled"),
			Name:    v.GetString("email.name"),
			EmailConfig: integration.EmailConfig{
				Host:           v.GetString("email.host"),
				Port:           v.GetInt("email.port"),
				Username:       v.GetString("email.username"),
				Password:       v.GetString("email.password"),
				UseTLS:         v.GetBool("email.use_tls"),
				FromAddress:    v.GetString("email.from_address"),
				AllowedDomains: v.GetStringSlice("email.allowed_domains"),
				RequireAuth:    v.GetBool("email.require_auth"),
				PoolSize:       v.GetInt("email.pool_size"),
				DialTimeout:    v.GetDuration("email.dial_timeout"),
				Resilience:     resilienceSection(v, "email"),
			},
		},
		Chat: ChatSection{
			Enabled: v.GetBool("chat.enabled"),
			Name:    v.GetString("chat.name"),
			ChatConfig: integration.ChatConfig{
				Token:          v.GetString("chat.token"),
				DefaultChannel: v.GetString("chat.default_channel"),
				BaseURL:        v.GetString("chat.base_url"),
				Timeout:        v.GetDuration("chat.timeout"),
				Resilience:     resilienceSection(v, "chat"),
			},
		},
		Tracker: TrackerSection{
			Enabled: v.GetBool("tracker.enabled"),
			Name:    v.GetString("tracker.name"),
			TrackerConfig: integration.TrackerConfig{
				URL:        v.GetString("tracker.url"),
				Username:   v.GetString("tracker.username"),
				APIToken:   v.GetString("tracker.api_token"),
				ProjectKey: v.GetString("tracker.project_key"),
				Timeout:    v.GetDuration("tracker.timeout"),
				Resilience: resilienceSection(v, "tracker"),
			},
		},
		Sync: SyncConfig{
			Enabled:        v.GetBool("sync.enabled"),
			Interval:       v.GetDuration("sync.interval"),
			InitialBackoff: v.GetDuration("sync.initial_backoff"),
			MaxBackoff:     v.GetDuration("sync.max_backoff"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resilienceSection reads <section>.resilience.*. Zero values are filled from the
// adapter defaults when the adapter validates its config.
func resilienceSection(v *viper.Viper, section string) integration.ResilienceConfig {
	key := func(name string) string { return section + ".resilience." + name }
	return integration.ResilienceConfig{
		MaxAttempts:      v.GetInt(key("max_attempts")),
		Backoff:          v.GetDuration(key("backoff")),
		MaxBackoff:       v.GetDuration(key("max_backoff")),
		BreakerThreshold: v.GetInt(key("breaker_threshold")),
		BreakerCoolDown:  v.GetDuration(key("breaker_cool_down")),
		HalfOpenProbes:   v.GetInt(key("half_open_probes")),
		RateLimit:        v.GetFloat64(key("rate_limit")),
		Burst:            v.GetInt(key("burst")),
	}
}

// setBoolDefaults registers the switches that default to on; zero-value checks
// cannot tell an explicit false from an unset key.
func setBoolDefaults(v *viper.Viper) {
	v.SetDefault("http.rate_limit_enabled", true)
	v.SetDefault("http.breaker_enabled", true)
	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.allow_in_memory_fallback", true)
	v.SetDefault("sync.enabled", true)
	v.SetDefault("email.use_tls", true)
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = SupportedVersion
	}
	if cfg.App.Name == "" {
		cfg.App.Name = "integration-hub"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = SupportedVersion
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.ReadHeaderTimeout == 0 {
		cfg.HTTP.ReadHeaderTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.RouteTimeout == 0 {
		cfg.HTTP.RouteTimeout = 25 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.HTTP.RateLimitRPS == 0 {
		cfg.HTTP.RateLimitRPS = 100
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = 200
	}
	if cfg.HTTP.BreakerThreshold == 0 {
		cfg.HTTP.BreakerThreshold = 20
	}
	if cfg.HTTP.BreakerCoolDown == 0 {
		cfg.HTTP.BreakerCoolDown = 30 * time.Second
	}
	if cfg.HTTP.BreakerProbes == 0 {
		cfg.HTTP.BreakerProbes = 3
	}
	// An empty origin list allows no cross-origin requests.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key"}
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
	if cfg.Idempotency.KeyPrefix == "" {
		cfg.Idempotency.KeyPrefix = "hub:idempotency:"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.TracingExporter == "" {
		cfg.Telemetry.TracingExporter = "otlp"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.MetricsExportInterval == 0 {
		cfg.Telemetry.MetricsExportInterval = 60 * time.Second
	}
	if cfg.Telemetry.ConnectionInterval == 0 {
		cfg.Telemetry.ConnectionInterval = 30 * time.Second
	}
	if cfg.Telemetry.LogsLevel == "" {
		cfg.Telemetry.LogsLevel = "info"
	}

	if cfg.Email.Name == "" {
		cfg.Email.Name = "email"
	}
	if cfg.Chat.Name == "" {
		cfg.Chat.Name = "slack"
	}
	if cfg.Tracker.Name == "" {
		cfg.Tracker.Name = "jira"
	}

	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = time.Minute
	}
	if cfg.Sync.InitialBackoff == 0 {
		cfg.Sync.InitialBackoff = time.Second
	}
	if cfg.Sync.MaxBackoff == 0 {
		cfg.Sync.MaxBackoff = time.Hour
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Version != SupportedVersion {
		return newError("version", "unsupported version %q, expected %q", c.Version, SupportedVersion)
	}
	if strings.TrimSpace(c.App.Port) == "" {
		return newError("app.port", "port is required")
	}

	timeouts := []struct {
		key string
		d   time.Duration
	}{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.read_header_timeout", c.HTTP.ReadHeaderTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout},
		{"http.route_timeout", c.HTTP.RouteTimeout},
		{"email.dial_timeout", c.Email.DialTimeout},
		{"chat.timeout", c.Chat.Timeout},
		{"tracker.timeout", c.Tracker.Timeout},
	}
	for _, t := range timeouts {
		// zero adapter timeouts are filled by the adapter
		if t.d < 0 || t.d > maxTimeout {
			return newError(t.key, "must be between 0 and %s, got %s", maxTimeout, t.d)
		}
	}

	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		return newError("http.rate_limit", "rate and burst cannot be negative")
	}
	if c.HTTP.BasicAuthUser != "" && c.HTTP.BasicAuthPassword == "" {
		return newError("http.basic_auth_password", "required when basic_auth_user is set")
	}

	if c.Email.Enabled && c.Email.RequireAuth && (c.Email.Username == "" || c.Email.Password == "") {
		return newError("email", "require_auth needs username and password")
	}
	if c.Chat.Enabled && c.Chat.Token == "" {
		return newError("chat.token", "required when chat is enabled")
	}
	if c.Tracker.Enabled && (c.Tracker.URL == "" || c.Tracker.APIToken == "") {
		return newError("tracker", "url and api_token are required when the tracker is enabled")
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return newError("telemetry.sampling_ratio", "must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingServerAddress == "" {
		return newError("telemetry.profiling_server_address", "required when profiling is enabled")
	}

	if c.App.Env == "production" {
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return newError("http.cors_allow_origins", "cannot be '*' in production")
			}
		}
		if c.Chat.Enabled && c.Chat.BaseURL != "" && strings.HasPrefix(c.Chat.BaseURL, "http://") {
			return newError("chat.base_url", "must use https in production")
		}
	}

	return nil
}
