// Package config defines the process-wide configuration surface for the
// orchestration runtime: the environment selector, the Flow Engine / Event
// Bus / Conversation Manager / Metrics tunables, and the LLM Provider and
// MCP endpoint declarations. A Loader resolves it from defaults, an
// optional YAML file, and environment variable overrides; a HotReloadManager
// applies a whitelisted subset of later changes without a restart.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Environment selects the deployment profile. It gates nothing in this
// package directly; components consult it to choose defaults (e.g. log
// format, CORS strictness).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
	EnvTesting     Environment = "testing"
)

func (e Environment) valid() bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction, EnvTesting:
		return true
	default:
		return false
	}
}

// LogConfig controls the injected *zap.Logger construction.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json | console
}

// CORSConfig carries the allowed-origin list consumed (but not enforced) by
// this core; an embedding HTTP layer decides how to apply it.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// CircuitBreakerConfig mirrors flow.CircuitBreakerConfig's field set so it
// can round-trip through YAML/env without the config package importing flow.
type CircuitBreakerConfig struct {
	FailureThreshold           int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	RecoveryTimeout            time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	HalfOpenMaxProbes          int           `yaml:"half_open_max_probes" env:"HALF_OPEN_MAX_PROBES"`
	SuccessThresholdInHalfOpen int           `yaml:"success_threshold_in_half_open" env:"SUCCESS_THRESHOLD_IN_HALF_OPEN"`
}

// FlowEngineConfig tunes the Flow Engine (C8).
type FlowEngineConfig struct {
	DefaultTimeoutMs int                  `yaml:"default_timeout_ms" env:"DEFAULT_TIMEOUT_MS"`
	MaxParallel      int                  `yaml:"max_parallel" env:"MAX_PARALLEL"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
}

// EventBusConfig declares per-subscriber backpressure defaults for the
// streaming event bus (C9). It is validated but not passed to the bus:
// eventbus.New takes no configuration and applies its own built-in
// subscriber defaults, and each Subscribe call passes its own
// SubscriberConfig.
type EventBusConfig struct {
	DefaultBufferSize int           `yaml:"default_buffer_size" env:"DEFAULT_BUFFER_SIZE"`
	DefaultPolicy     string        `yaml:"default_policy" env:"DEFAULT_POLICY"` // dropOldest | dropNewest | blockWithTimeout
	BlockTimeout      time.Duration `yaml:"block_timeout" env:"BLOCK_TIMEOUT"`
}

// ConversationConfig tunes the Conversation Manager (C10).
type ConversationConfig struct {
	TTL             time.Duration `yaml:"ttl" env:"TTL"`
	JanitorInterval time.Duration `yaml:"janitor_interval" env:"JANITOR_INTERVAL"`

	// RedisAddr, when set, mirrors every suspended conversation to Redis so
	// a second process (or this one, after a restart) can see what is
	// waiting on a human. The live resume channel itself always stays
	// in-process; Redis never brokers the resume, only the bookkeeping.
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
}

// MetricsConfig tunes the Prometheus collector (C11/C15).
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"` // for promhttp.Handler
}

// AuditConfig tunes the audit Hook (C11).
type AuditConfig struct {
	AsyncQueueSize int `yaml:"async_queue_size" env:"ASYNC_QUEUE_SIZE"`
	AsyncWorkers   int `yaml:"async_workers" env:"ASYNC_WORKERS"`
}

// MCPConfig declares how the process exposes or reaches MCP endpoints (C3/C4).
type MCPConfig struct {
	ListenAddr     string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// ProviderConfig declares one LLM Provider Config entity (spec.md §3) as it
// is authored in YAML or overridden via environment variables. Fields mirror
// provider.Config; this package does not import provider to avoid a cycle
// between configuration and the component it configures.
type ProviderConfig struct {
	Name        string  `yaml:"name" env:"NAME"`
	Provider    string  `yaml:"provider" env:"PROVIDER"`
	Model       string  `yaml:"model" env:"MODEL"`
	APIKey      string  `yaml:"api_key" env:"API_KEY"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	Deployment  string  `yaml:"deployment" env:"DEPLOYMENT"`
	Region      string  `yaml:"region" env:"REGION"`
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	TopP        float64 `yaml:"top_p" env:"TOP_P"`
	MaxTokens   int     `yaml:"max_tokens" env:"MAX_TOKENS"`
	TimeoutMs   int     `yaml:"timeout_ms" env:"TIMEOUT_MS"`

	// RateLimitRPS and RateLimitBurst bound the client-side token bucket
	// placed in front of this provider's adapter. RateLimitRPS <= 0 disables
	// limiting entirely (the adapter is used unwrapped).
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// Config is the complete process configuration.
type Config struct {
	Environment Environment `yaml:"environment" env:"ENVIRONMENT"`

	CORS         CORSConfig         `yaml:"cors" env:"CORS"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	FlowEngine   FlowEngineConfig   `yaml:"flow_engine" env:"FLOW_ENGINE"`
	EventBus     EventBusConfig     `yaml:"event_bus" env:"EVENT_BUS"`
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`
	Metrics      MetricsConfig      `yaml:"metrics" env:"METRICS"`
	Audit        AuditConfig        `yaml:"audit" env:"AUDIT"`
	MCP          MCPConfig          `yaml:"mcp" env:"MCP"`

	// Providers is not environment-overridable field by field: it is a
	// slice of structs, which setFieldsFromEnv cannot address by index. It
	// is populated from the YAML file (or left empty, in which case the
	// caller registers providers programmatically).
	Providers []ProviderConfig `yaml:"providers"`
}

// DefaultConfig returns the built-in defaults every Loader starts from.
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		FlowEngine: FlowEngineConfig{
			DefaultTimeoutMs: 60_000,
			MaxParallel:      8,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:           5,
				RecoveryTimeout:            30 * time.Second,
				HalfOpenMaxProbes:          3,
				SuccessThresholdInHalfOpen: 2,
			},
		},
		EventBus: EventBusConfig{
			DefaultBufferSize: 256,
			DefaultPolicy:     "dropOldest",
			BlockTimeout:      2 * time.Second,
		},
		Conversation: ConversationConfig{
			TTL:             15 * time.Minute,
			JanitorInterval: time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			Namespace:  "archflow",
			ListenAddr: ":9090",
		},
		Audit: AuditConfig{
			AsyncQueueSize: 10000,
			AsyncWorkers:   2,
		},
		MCP: MCPConfig{
			ListenAddr:     ":7700",
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Validate checks the invariants the rest of the runtime assumes hold.
func (c *Config) Validate() error {
	var errs []string

	if !c.Environment.valid() {
		errs = append(errs, fmt.Sprintf("unknown environment %q", c.Environment))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	if c.FlowEngine.MaxParallel <= 0 {
		errs = append(errs, "flow_engine.max_parallel must be positive")
	}
	if c.FlowEngine.DefaultTimeoutMs <= 0 {
		errs = append(errs, "flow_engine.default_timeout_ms must be positive")
	}
	if c.EventBus.DefaultBufferSize <= 0 {
		errs = append(errs, "event_bus.default_buffer_size must be positive")
	}
	switch c.EventBus.DefaultPolicy {
	case "dropOldest", "dropNewest", "blockWithTimeout":
	default:
		errs = append(errs, fmt.Sprintf("unknown event_bus.default_policy %q", c.EventBus.DefaultPolicy))
	}
	if c.Conversation.JanitorInterval <= 0 {
		errs = append(errs, "conversation.janitor_interval must be positive")
	}
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, "a provider entry is missing a name")
			continue
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			errs = append(errs, fmt.Sprintf("provider %s: temperature must be within [0,2]", p.Name))
		}
		if p.TopP < 0 || p.TopP > 1 {
			errs = append(errs, fmt.Sprintf("provider %s: topP must be within [0,1]", p.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
