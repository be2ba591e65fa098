// Package config defines the orchestrator's component configuration
// tree and loads it from YAML/JSON5 files with $include merging and
// ${ENV} expansion, grounded on the teacher's config.go/loader.go.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure. Every component named in
// spec.md §4 reads its own nested section; none read the root struct
// directly.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Session       SessionConfig       `yaml:"session"`
	Quota         QuotaConfig         `yaml:"quota"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	Bulkhead      BulkheadConfig      `yaml:"bulkhead"`
	Retry         RetryConfig         `yaml:"retry"`
	Cache         CacheConfig         `yaml:"cache"`
	Event         EventConfig         `yaml:"event"`
	Tool          ToolConfig          `yaml:"tool"`
	ModelEngine   ModelEngineConfig   `yaml:"model_engine"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the process's network-facing listeners.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// StoreConfig configures the Redis-backed store contract
// (internal/store) that backs sessions, quota counters, breaker state,
// and the audit buffer.
type StoreConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPassword string        `yaml:"redis_password"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

// SessionConfig configures the Session Manager, per spec.md §6's
// session.* keys.
type SessionConfig struct {
	MaxConcurrentPerUser int `yaml:"max_concurrent_per_user"` // default 5
	IdleTTLSeconds       int `yaml:"idle_ttl_s"`              // default 86400
	MaxTTLSeconds        int `yaml:"max_ttl_s"`                // default 259200
}

func (s SessionConfig) withDefaults() SessionConfig {
	if s.MaxConcurrentPerUser <= 0 {
		s.MaxConcurrentPerUser = 5
	}
	if s.IdleTTLSeconds <= 0 {
		s.IdleTTLSeconds = 86400
	}
	if s.MaxTTLSeconds <= 0 {
		s.MaxTTLSeconds = 259200
	}
	return s
}

// IdleTTL returns IdleTTLSeconds as a time.Duration.
func (s SessionConfig) IdleTTL() time.Duration {
	return time.Duration(s.withDefaults().IdleTTLSeconds) * time.Second
}

// MaxTTL returns MaxTTLSeconds as a time.Duration.
func (s SessionConfig) MaxTTL() time.Duration {
	return time.Duration(s.withDefaults().MaxTTLSeconds) * time.Second
}

// QuotaConfig configures the Gate's hourly/daily admission ceilings,
// per spec.md §6's quota.* keys.
type QuotaConfig struct {
	RequestsPerHour int64 `yaml:"requests_per_hour"` // default 100
	RequestsPerDay  int64 `yaml:"requests_per_day"`  // default 1000
}

func (q QuotaConfig) withDefaults() QuotaConfig {
	if q.RequestsPerHour <= 0 {
		q.RequestsPerHour = 100
	}
	if q.RequestsPerDay <= 0 {
		q.RequestsPerDay = 1000
	}
	return q
}

// RateLimitConfig configures the Gate's per-user token bucket, per
// spec.md §6's ratelimit.* keys.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"` // default 100
}

func (r RateLimitConfig) withDefaults() RateLimitConfig {
	if r.PerMinute <= 0 {
		r.PerMinute = 100
	}
	return r
}

// BreakerConfig configures internal/resilience.CircuitBreaker defaults,
// per spec.md §6's breaker.* keys.
type BreakerConfig struct {
	Threshold    int `yaml:"threshold"`    // default 5
	CooldownSecs int `yaml:"cooldown_s"`   // default 60
}

func (b BreakerConfig) withDefaults() BreakerConfig {
	if b.Threshold <= 0 {
		b.Threshold = 5
	}
	if b.CooldownSecs <= 0 {
		b.CooldownSecs = 60
	}
	return b
}

// Cooldown returns CooldownSecs as a time.Duration.
func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.withDefaults().CooldownSecs) * time.Second
}

// BulkheadConfig configures internal/resilience.Pool capacities, per
// spec.md §6's bulkhead.* keys. Zero values fall back to
// resilience.DefaultCapacities.
type BulkheadConfig struct {
	ModelInference    int64 `yaml:"model_inference"`    // default 20
	SessionManagement int64 `yaml:"session_management"` // default 10
	ToolExecution     int64 `yaml:"tool_execution"`     // default 50
	VoiceProcessing   int64 `yaml:"voice_processing"`   // default 5
}

// RetryConfig configures internal/resilience.Do's retry policy, per
// spec.md §6's retry.* keys.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"` // default 3
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	return r
}

// CacheConfig configures the Model Engine's response cache, per
// spec.md §6's cache.* keys.
type CacheConfig struct {
	ResponseTTLSeconds int  `yaml:"response_ttl_s"` // default 3600
	AllowStaleOnOutage bool `yaml:"allow_stale_on_outage"`
	StaleWindowSeconds int  `yaml:"stale_window_s"` // default 86400
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.ResponseTTLSeconds <= 0 {
		c.ResponseTTLSeconds = 3600
	}
	if c.StaleWindowSeconds <= 0 {
		c.StaleWindowSeconds = 86400
	}
	return c
}

// ResponseTTL returns ResponseTTLSeconds as a time.Duration.
func (c CacheConfig) ResponseTTL() time.Duration {
	return time.Duration(c.withDefaults().ResponseTTLSeconds) * time.Second
}

// StaleWindow returns StaleWindowSeconds as a time.Duration.
func (c CacheConfig) StaleWindow() time.Duration {
	return time.Duration(c.withDefaults().StaleWindowSeconds) * time.Second
}

// EventConfig configures the Event Bus's per-session replay buffer,
// per spec.md §6's event.* keys.
type EventConfig struct {
	BufferPerSession int `yaml:"buffer_per_session"` // default 256
}

func (e EventConfig) withDefaults() EventConfig {
	if e.BufferPerSession <= 0 {
		e.BufferPerSession = 256
	}
	return e
}

// ToolConfig configures the Tool Dispatcher's default timeout, per
// spec.md §6's tool.* keys.
type ToolConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_s"` // default 30
}

func (t ToolConfig) withDefaults() ToolConfig {
	if t.DefaultTimeoutSeconds <= 0 {
		t.DefaultTimeoutSeconds = 30
	}
	return t
}

// DefaultTimeout returns DefaultTimeoutSeconds as a time.Duration.
func (t ToolConfig) DefaultTimeout() time.Duration {
	return time.Duration(t.withDefaults().DefaultTimeoutSeconds) * time.Second
}

// ModelEngineConfig configures the Model Engine's fallback chains — a
// runtime, config-driven list rather than a hardcoded sequence, per
// SPEC_FULL.md §4.2 / spec.md §9 open question 1.
type ModelEngineConfig struct {
	// FallbackChains maps a model name to the ordered steps tried after
	// its own retry budget is exhausted. Steps are either another model
	// name, "cached_response", or "canned_degraded_message".
	FallbackChains map[string][]string `yaml:"fallback_chains"`

	// PoolSize is the number of pooled connections per backend endpoint.
	PoolSize int `yaml:"pool_size"` // default 3

	CallTimeoutSeconds int `yaml:"call_timeout_s"` // default 30

	// BedrockRegion is the AWS region used for fallback_chains steps
	// prefixed "bedrock:". Ignored when no such step is configured.
	BedrockRegion string `yaml:"bedrock_region"` // default us-east-1
}

func (m ModelEngineConfig) withDefaults() ModelEngineConfig {
	if m.PoolSize <= 0 {
		m.PoolSize = 3
	}
	if m.CallTimeoutSeconds <= 0 {
		m.CallTimeoutSeconds = 30
	}
	if m.BedrockRegion == "" {
		m.BedrockRegion = "us-east-1"
	}
	return m
}

// CallTimeout returns CallTimeoutSeconds as a time.Duration.
func (m ModelEngineConfig) CallTimeout() time.Duration {
	return time.Duration(m.withDefaults().CallTimeoutSeconds) * time.Second
}

// AuditConfig configures the audit sink's durable backend.
type AuditConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	RetentionDays int    `yaml:"retention_days"` // default 30
}

func (a AuditConfig) withDefaults() AuditConfig {
	if a.RetentionDays <= 0 {
		a.RetentionDays = 30
	}
	return a
}

// RetentionDuration returns RetentionDays as a time.Duration.
func (a AuditConfig) RetentionDuration() time.Duration {
	return time.Duration(a.withDefaults().RetentionDays) * 24 * time.Hour
}

// ObservabilityConfig configures logging, tracing, and metrics.
type ObservabilityConfig struct {
	LogLevel        string `yaml:"log_level"`
	OTLPEndpoint    string `yaml:"otlp_endpoint"`
	ServiceName     string `yaml:"service_name"`
	PrometheusPath  string `yaml:"prometheus_path"`
}

// WithDefaults fills in every component's documented defaults. Load
// always returns a defaulted Config; call sites that construct a
// Config directly (tests, programmatic callers) should call this too.
func (c Config) WithDefaults() Config {
	c.Session = c.Session.withDefaults()
	c.Quota = c.Quota.withDefaults()
	c.RateLimit = c.RateLimit.withDefaults()
	c.Breaker = c.Breaker.withDefaults()
	c.Retry = c.Retry.withDefaults()
	c.Cache = c.Cache.withDefaults()
	c.Event = c.Event.withDefaults()
	c.Tool = c.Tool.withDefaults()
	c.ModelEngine = c.ModelEngine.withDefaults()
	c.Audit = c.Audit.withDefaults()
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "nexus-orchestrator"
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	return c
}

// Load reads path (resolving $include directives and ${ENV}
// expansion), decodes it strictly against Config, and fills in
// defaults.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	defaulted := cfg.WithDefaults()
	return &defaulted, nil
}
