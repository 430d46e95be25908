package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the reminder engine. It supports
// two-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (highest priority)
//
// Example usage:
//
//	cfg := DefaultConfig()
//	if err := cfg.LoadFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	Name string `json:"name" env:"REMINDERD_NAME" default:"reminderd"`
	Port int    `json:"port" env:"REMINDERD_PORT" default:"8080"`

	HTTP       HTTPConfig       `json:"http"`
	Store      StoreConfig      `json:"store"`
	Logging    LoggingConfig    `json:"logging"`
	Development DevelopmentConfig `json:"development"`
	Resilience ResilienceConfig `json:"resilience"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Transport  TransportConfig  `json:"transport"`
	Security   SecurityConfig   `json:"security"`
	Tracing    TracingConfig    `json:"tracing"`
}

// TracingConfig controls the OpenTelemetry trace exporter. Exporter selects
// between a stdout exporter (useful in development, never dials out) and an
// OTLP/gRPC exporter pointed at a collector.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" env:"REMINDERD_TRACING_ENABLED" default:"false"`
	Exporter     string `json:"exporter" env:"REMINDERD_TRACING_EXPORTER" default:"stdout"`
	OTLPEndpoint string `json:"otlp_endpoint" env:"REMINDERD_TRACING_OTLP_ENDPOINT" default:"localhost:4317"`
}

// HTTPConfig contains HTTP server configuration including timeouts and CORS.
type HTTPConfig struct {
	ReadTimeout     time.Duration `json:"read_timeout" env:"REMINDERD_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"REMINDERD_HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `json:"idle_timeout" env:"REMINDERD_HTTP_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"REMINDERD_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	CORS            CORSConfig    `json:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration.
// Supports wildcard domains (e.g., *.example.com) and wildcard ports.
type CORSConfig struct {
	Enabled          bool     `json:"enabled" env:"REMINDERD_CORS_ENABLED" default:"false"`
	AllowedOrigins   []string `json:"allowed_origins" env:"REMINDERD_CORS_ORIGINS"`
	AllowedMethods   []string `json:"allowed_methods" env:"REMINDERD_CORS_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `json:"allowed_headers" env:"REMINDERD_CORS_HEADERS" default:"Content-Type,Authorization"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool    `json:"allow_credentials" env:"REMINDERD_CORS_CREDENTIALS" default:"false"`
	MaxAge           int      `json:"max_age" env:"REMINDERD_CORS_MAX_AGE" default:"86400"`
}

// StoreConfig contains the durable store connection settings.
type StoreConfig struct {
	RedisURL  string `json:"redis_url" env:"REMINDERD_REDIS_URL,REDIS_URL" default:"redis://localhost:6379/0"`
	Namespace string `json:"namespace" env:"REMINDERD_NAMESPACE" default:"reminderd"`
}

// ResilienceConfig groups retry and circuit-breaker settings applied to
// outbound Transport calls.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
}

// CircuitBreakerConfig defines circuit breaker pattern settings. The
// breaker prevents hammering a downstream channel that is already failing.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" env:"REMINDERD_CB_ENABLED" default:"true"`
	Threshold        int           `json:"threshold" env:"REMINDERD_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" env:"REMINDERD_CB_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `json:"half_open_requests" env:"REMINDERD_CB_HALF_OPEN" default:"2"`
}

// RetryConfig defines the dispatch retry policy with exponential backoff.
// Formula: delay = min(InitialDelay * (BackoffFactor ^ attempt), MaxDelay)
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" env:"REMINDERD_RETRY_MAX_ATTEMPTS" default:"5"`
	InitialDelay  time.Duration `json:"initial_delay" env:"REMINDERD_RETRY_INITIAL_DELAY" default:"30s"`
	MaxDelay      time.Duration `json:"max_delay" env:"REMINDERD_RETRY_MAX_DELAY" default:"15m"`
	BackoffFactor float64       `json:"backoff_factor" env:"REMINDERD_RETRY_BACKOFF_FACTOR" default:"2.0"`
	JitterEnabled bool          `json:"jitter_enabled" env:"REMINDERD_RETRY_JITTER" default:"true"`
}

// SchedulerConfig controls the cron-driven dispatch and escalation ticks.
type SchedulerConfig struct {
	DueCheckSpec        string        `json:"due_check_spec" env:"REMINDERD_SCHED_DUE_SPEC" default:"@every 60s"`
	EscalationCheckSpec string        `json:"escalation_check_spec" env:"REMINDERD_SCHED_ESCALATION_SPEC" default:"@every 120s"`
	TickBudget          time.Duration `json:"tick_budget" env:"REMINDERD_SCHED_TICK_BUDGET" default:"45s"`
}

// TransportConfig configures the outbound notification channel client.
type TransportConfig struct {
	Token   string        `json:"-" env:"REMINDERD_TRANSPORT_TOKEN"`
	AppID   string        `json:"app_id" env:"REMINDERD_APP_ID"`
	Timeout time.Duration `json:"timeout" env:"REMINDERD_TRANSPORT_TIMEOUT" default:"10s"`
}

// SecurityConfig configures admin API access and link-ack signing.
type SecurityConfig struct {
	AdminAllowlist []string `json:"admin_allowlist" env:"REMINDERD_ADMIN_ALLOWLIST"`
	SigningSecret  string   `json:"-" env:"REMINDERD_SIGNING_SECRET"`
}

// LoggingConfig contains logging configuration. Supports structured (JSON)
// and human-readable (text) formats. In Kubernetes, JSON is recommended.
type LoggingConfig struct {
	Level  string `json:"level" env:"REMINDERD_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"REMINDERD_LOG_FORMAT" default:"text"`
	Output string `json:"output" env:"REMINDERD_LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig contains settings for local development and testing.
// WARNING: never enable development mode in production.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"REMINDERD_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"REMINDERD_DEBUG" default:"false"`
}

// DefaultConfig returns a configuration with sensible defaults. Kubernetes
// is detected via KUBERNETES_SERVICE_HOST and switches logging to JSON.
func DefaultConfig() *Config {
	cfg := &Config{
		Name: "reminderd",
		Port: 8080,
		HTTP: HTTPConfig{
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:         86400,
			},
		},
		Store: StoreConfig{
			RedisURL:  "redis://localhost:6379/0",
			Namespace: "reminderd",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Development: DevelopmentConfig{},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				Threshold:        5,
				Timeout:          30 * time.Second,
				HalfOpenRequests: 2,
			},
			Retry: RetryConfig{
				MaxAttempts:   5,
				InitialDelay:  30 * time.Second,
				MaxDelay:      15 * time.Minute,
				BackoffFactor: 2.0,
				JitterEnabled: true,
			},
		},
		Scheduler: SchedulerConfig{
			DueCheckSpec:        "@every 60s",
			EscalationCheckSpec: "@every 120s",
			TickBudget:          45 * time.Second,
		},
		Transport: TransportConfig{
			Timeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			OTLPEndpoint: "localhost:4317",
		},
	}

	if _, onK8s := os.LookupEnv("KUBERNETES_SERVICE_HOST"); onK8s {
		cfg.Logging.Format = "json"
	}

	return cfg
}

// LoadFromEnv overlays environment variables onto cfg. Unset variables
// leave the current value untouched, so callers should start from
// DefaultConfig(). Only the variables checked below are read: the tags
// REMINDERD_HTTP_IDLE_TIMEOUT, REMINDERD_CORS_METHODS, REMINDERD_CORS_HEADERS,
// REMINDERD_CORS_CREDENTIALS, REMINDERD_CORS_MAX_AGE, REMINDERD_CB_TIMEOUT,
// REMINDERD_CB_HALF_OPEN, REMINDERD_RETRY_BACKOFF_FACTOR, REMINDERD_RETRY_JITTER,
// REMINDERD_SCHED_TICK_BUDGET and REMINDERD_TRANSPORT_TIMEOUT are not read,
// so those fields keep the values they already hold.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("REMINDERD_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("REMINDERD_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REMINDERD_PORT: %w", err)
		}
		c.Port = p
	}

	if v := os.Getenv("REMINDERD_HTTP_READ_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REMINDERD_HTTP_READ_TIMEOUT: %w", err)
		}
		c.HTTP.ReadTimeout = d
	}
	if v := os.Getenv("REMINDERD_HTTP_WRITE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REMINDERD_HTTP_WRITE_TIMEOUT: %w", err)
		}
		c.HTTP.WriteTimeout = d
	}
	if v := os.Getenv("REMINDERD_HTTP_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REMINDERD_HTTP_SHUTDOWN_TIMEOUT: %w", err)
		}
		c.HTTP.ShutdownTimeout = d
	}
	if v := os.Getenv("REMINDERD_CORS_ENABLED"); v != "" {
		c.HTTP.CORS.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("REMINDERD_CORS_ORIGINS"); v != "" {
		c.HTTP.CORS.AllowedOrigins = splitCSV(v)
	}

	if v := os.Getenv("REMINDERD_REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv("REMINDERD_NAMESPACE"); v != "" {
		c.Store.Namespace = v
	}

	if v := os.Getenv("REMINDERD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REMINDERD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("REMINDERD_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}

	if v := os.Getenv("REMINDERD_DEV_MODE"); v != "" {
		c.Development.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("REMINDERD_DEBUG"); v != "" {
		c.Development.DebugLogging = strings.EqualFold(v, "true")
	}

	if v := os.Getenv("REMINDERD_CB_ENABLED"); v != "" {
		c.Resilience.CircuitBreaker.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("REMINDERD_CB_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REMINDERD_CB_THRESHOLD: %w", err)
		}
		c.Resilience.CircuitBreaker.Threshold = n
	}
	if v := os.Getenv("REMINDERD_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REMINDERD_RETRY_MAX_ATTEMPTS: %w", err)
		}
		c.Resilience.Retry.MaxAttempts = n
	}
	if v := os.Getenv("REMINDERD_RETRY_INITIAL_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REMINDERD_RETRY_INITIAL_DELAY: %w", err)
		}
		c.Resilience.Retry.InitialDelay = d
	}
	if v := os.Getenv("REMINDERD_RETRY_MAX_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REMINDERD_RETRY_MAX_DELAY: %w", err)
		}
		c.Resilience.Retry.MaxDelay = d
	}

	if v := os.Getenv("REMINDERD_SCHED_DUE_SPEC"); v != "" {
		c.Scheduler.DueCheckSpec = v
	}
	if v := os.Getenv("REMINDERD_SCHED_ESCALATION_SPEC"); v != "" {
		c.Scheduler.EscalationCheckSpec = v
	}

	if v := os.Getenv("REMINDERD_TRANSPORT_TOKEN"); v != "" {
		c.Transport.Token = v
	}
	if v := os.Getenv("REMINDERD_APP_ID"); v != "" {
		c.Transport.AppID = v
	}

	if v := os.Getenv("REMINDERD_ADMIN_ALLOWLIST"); v != "" {
		c.Security.AdminAllowlist = splitCSV(v)
	}
	if v := os.Getenv("REMINDERD_SIGNING_SECRET"); v != "" {
		c.Security.SigningSecret = v
	}

	if v := os.Getenv("REMINDERD_TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("REMINDERD_TRACING_EXPORTER"); v != "" {
		c.Tracing.Exporter = v
	}
	if v := os.Getenv("REMINDERD_TRACING_OTLP_ENDPOINT"); v != "" {
		c.Tracing.OTLPEndpoint = v
	}

	return c.Validate()
}

// Validate checks invariants that must hold before the engine starts.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &Error{Op: "Config.Validate", Kind: KindValidation, Field: "name", Message: "name must not be empty"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &Error{Op: "Config.Validate", Kind: KindValidation, Field: "port", Message: "port must be between 1 and 65535"}
	}
	if c.Store.RedisURL == "" {
		return &Error{Op: "Config.Validate", Kind: KindValidation, Field: "store.redis_url", Message: "redis url must not be empty"}
	}
	if !c.Development.Enabled && c.Security.SigningSecret == "" {
		return &Error{Op: "Config.Validate", Kind: KindValidation, Field: "security.signing_secret", Message: "signing secret is required outside development mode"}
	}
	if c.Tracing.Enabled && c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "otlp" {
		return &Error{Op: "Config.Validate", Kind: KindValidation, Field: "tracing.exporter", Message: "exporter must be \"stdout\" or \"otlp\""}
	}
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
