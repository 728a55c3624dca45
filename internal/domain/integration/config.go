package integration

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// MaxTimeout bounds every adapter timeout.
const MaxTimeout = 5 * time.Minute

// ---------------------------------------------------------------------------
// ResilienceConfig
// ---------------------------------------------------------------------------

// ResilienceConfig tunes the retry, circuit breaker and rate limiter of one adapter.
// Zero fields are filled from the adapter's defaults by Merge.
type ResilienceConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	Backoff          time.Duration `mapstructure:"backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCoolDown  time.Duration `mapstructure:"breaker_cool_down"`
	HalfOpenProbes   int           `mapstructure:"half_open_probes"`
	RateLimit        float64       `mapstructure:"rate_limit"` // tokens per second
	Burst            int           `mapstructure:"burst"`
}

// Merge returns r with every zero field taken from def.
func (r ResilienceConfig) Merge(def ResilienceConfig) ResilienceConfig {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.Backoff <= 0 {
		r.Backoff = def.Backoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = def.MaxBackoff
	}
	if r.BreakerThreshold <= 0 {
		r.BreakerThreshold = def.BreakerThreshold
	}
	if r.BreakerCoolDown <= 0 {
		r.BreakerCoolDown = def.BreakerCoolDown
	}
	if r.HalfOpenProbes <= 0 {
		r.HalfOpenProbes = def.HalfOpenProbes
	}
	if r.RateLimit <= 0 {
		r.RateLimit = def.RateLimit
	}
	if r.Burst <= 0 {
		r.Burst = def.Burst
	}
	return r
}

// DefaultEmailResilience returns the email adapter defaults: 3 attempts, 500ms apart.
func DefaultEmailResilience() ResilienceConfig {
	return ResilienceConfig{
		MaxAttempts:      3,
		Backoff:          500 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		BreakerThreshold: 5,
		BreakerCoolDown:  30 * time.Second,
		HalfOpenProbes:   1,
		RateLimit:        10,
		Burst:            20,
	}
}

// DefaultChatResilience returns the chat adapter defaults: 5 rps with a burst of 10.
func DefaultChatResilience() ResilienceConfig {
	return ResilienceConfig{
		MaxAttempts:      3,
		Backoff:          time.Second,
		MaxBackoff:       4 * time.Second,
		BreakerThreshold: 5,
		BreakerCoolDown:  30 * time.Second,
		HalfOpenProbes:   5,
		RateLimit:        5,
		Burst:            10,
	}
}

// DefaultTrackerResilience returns the issue tracker defaults: 3 attempts 2s apart,
// breaker threshold 5 with a one minute cool-down, one request per second.
func DefaultTrackerResilience() ResilienceConfig {
	return ResilienceConfig{
		MaxAttempts:      3,
		Backoff:          2 * time.Second,
		MaxBackoff:       8 * time.Second,
		BreakerThreshold: 5,
		BreakerCoolDown:  time.Minute,
		HalfOpenProbes:   1,
		RateLimit:        1,
		Burst:            3,
	}
}

func validateTimeout(field string, d time.Duration) error {
	if d < 0 || d > MaxTimeout {
		return fmt.Errorf("%w: %s must be between 0 and %s, got %s", ErrInvalidPayload, field, MaxTimeout, d)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInitializationFailed, field)
}

// ---------------------------------------------------------------------------
// EmailConfig
// ---------------------------------------------------------------------------

// EmailConfig configures the SMTP adapter.
type EmailConfig struct {
	Host           string           `mapstructure:"host"`
	Port           int              `mapstructure:"port"`
	Username       string           `mapstructure:"username"`
	Password       string           `mapstructure:"password"`
	UseTLS         bool             `mapstructure:"use_tls"`
	FromAddress    string           `mapstructure:"from_address"`
	AllowedDomains []string         `mapstructure:"allowed_domains"`
	RequireAuth    bool             `mapstructure:"require_auth"`
	PoolSize       int              `mapstructure:"pool_size"`
	DialTimeout    time.Duration    `mapstructure:"dial_timeout"`
	Resilience     ResilienceConfig `mapstructure:"resilience"`
}

// Validate checks completeness and fills defaults (port 587, pool of 4, 10s dial timeout).
func (c *EmailConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return missing("email host")
	}
	if strings.TrimSpace(c.FromAddress) == "" {
		return missing("email from address")
	}
	if _, err := mail.ParseAddress(c.FromAddress); err != nil {
		return fmt.Errorf("%w: invalid from address %q", ErrInvalidPayload, c.FromAddress)
	}
	if c.RequireAuth && (c.Username == "" || c.Password == "") {
		return missing("email username and password")
	}
	if c.Port == 0 {
		c.Port = 587
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid email port %d", ErrInvalidPayload, c.Port)
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if err := validateTimeout("email dial timeout", c.DialTimeout); err != nil {
		return err
	}
	for i, d := range c.AllowedDomains {
		c.AllowedDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	c.Resilience = c.Resilience.Merge(DefaultEmailResilience())
	return nil
}

// ---------------------------------------------------------------------------
// ChatConfig
// ---------------------------------------------------------------------------

// ChatConfig configures the chat adapter.
type ChatConfig struct {
	Token          string           `mapstructure:"token"`
	DefaultChannel string           `mapstructure:"default_channel"`
	BaseURL        string           `mapstructure:"base_url"` // empty means the public API
	Timeout        time.Duration    `mapstructure:"timeout"`
	Resilience     ResilienceConfig `mapstructure:"resilience"`
}

// Validate checks completeness and fills defaults.
func (c *ChatConfig) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return missing("chat token")
	}
	if c.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
			return fmt.Errorf("%w: invalid chat base url %q", ErrInvalidPayload, c.BaseURL)
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if err := validateTimeout("chat timeout", c.Timeout); err != nil {
		return err
	}
	c.Resilience = c.Resilience.Merge(DefaultChatResilience())
	return nil
}

// ---------------------------------------------------------------------------
// TrackerConfig
// ---------------------------------------------------------------------------

// TrackerConfig configures the issue tracker adapter.
type TrackerConfig struct {
	URL        string           `mapstructure:"url"`
	Username   string           `mapstructure:"username"`
	APIToken   string           `mapstructure:"api_token"`
	ProjectKey string           `mapstructure:"project_key"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
}

// Validate checks completeness and fills defaults.
func (c *TrackerConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return missing("tracker url")
	}
	u, err := url.ParseRequestURI(c.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: invalid tracker url %q", ErrInvalidPayload, c.URL)
	}
	if c.Username == "" || c.APIToken == "" {
		return missing("tracker username and api token")
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if err := validateTimeout("tracker timeout", c.Timeout); err != nil {
		return err
	}
	c.Resilience = c.Resilience.Merge(DefaultTrackerResilience())
	return nil
}
