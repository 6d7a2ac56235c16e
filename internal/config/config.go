// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment constants.
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig
	Server      ServerConfig
	Log         LogConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Security    SecurityConfig
	ThreatIntel ThreatIntelConfig
	Notify      NotifyConfig
	NATS        NATSConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// IsProduction reports whether the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// RedisConfig holds Redis configuration for the shared backend.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Enabled toggles the rate limit middleware entirely.
	Enabled bool

	// UseSharedBackend selects the Redis backend when reachable.
	// Falls back to the in-process backend transparently.
	UseSharedBackend bool

	// SweepInterval is how often expired in-process records are removed.
	SweepInterval time.Duration
}

// SecurityConfig holds security monitor configuration.
type SecurityConfig struct {
	// RingCapacity bounds the in-process event buffer.
	RingCapacity int

	// EventRetention is the durable-store TTL for event records and
	// type indices.
	EventRetention time.Duration

	// IPIndexRetention is the TTL for per-IP event indices.
	IPIndexRetention time.Duration

	// RulesFile optionally points at a YAML file with additional alert
	// rules merged over the built-in defaults at startup.
	RulesFile string
}

// ThreatIntelConfig holds threat-intelligence lookup configuration.
type ThreatIntelConfig struct {
	Enabled       bool
	EndpointURL   string
	APIKey        string
	Timeout       time.Duration
	LookupsPerSec float64
	CacheSize     int
	CacheTTL      time.Duration
}

// NotifyConfig holds alert delivery configuration.
type NotifyConfig struct {
	// AdminWebhookURL receives notify_admin alert actions.
	AdminWebhookURL string

	// SMTP settings for email alert actions.
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPTimeout  time.Duration
}

// EmailConfigured reports whether SMTP delivery can be used.
func (c *NotifyConfig) EmailConfigured() bool {
	return c.SMTPHost != "" && c.SMTPPort > 0 && c.SMTPFrom != ""
}

// NATSConfig holds the optional event publisher configuration.
type NATSConfig struct {
	Enabled       bool
	URL           string
	SubjectPrefix string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "shield"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 1<<20), // 1MB default
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getEnvBool("RATE_LIMIT_ENABLED", true),
			UseSharedBackend: getEnvBool("RATE_LIMIT_SHARED_BACKEND", true),
			SweepInterval:    getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
		},
		Security: SecurityConfig{
			RingCapacity:     getEnvInt("SECURITY_RING_CAPACITY", 10000),
			EventRetention:   getEnvDuration("SECURITY_EVENT_RETENTION", 30*24*time.Hour),
			IPIndexRetention: getEnvDuration("SECURITY_IP_INDEX_RETENTION", 7*24*time.Hour),
			RulesFile:        getEnv("SECURITY_RULES_FILE", ""),
		},
		ThreatIntel: ThreatIntelConfig{
			Enabled:       getEnvBool("THREAT_INTEL_ENABLED", false),
			EndpointURL:   getEnv("THREAT_INTEL_URL", ""),
			APIKey:        getEnv("THREAT_INTEL_API_KEY", ""),
			Timeout:       getEnvDuration("THREAT_INTEL_TIMEOUT", 5*time.Second),
			LookupsPerSec: getEnvFloat("THREAT_INTEL_LOOKUPS_PER_SEC", 10),
			CacheSize:     getEnvInt("THREAT_INTEL_CACHE_SIZE", 10000),
			CacheTTL:      getEnvDuration("THREAT_INTEL_CACHE_TTL", time.Hour),
		},
		Notify: NotifyConfig{
			AdminWebhookURL: getEnv("NOTIFY_ADMIN_WEBHOOK_URL", ""),
			SMTPHost:        getEnv("SMTP_HOST", ""),
			SMTPPort:        getEnvInt("SMTP_PORT", 587),
			SMTPUser:        getEnv("SMTP_USER", ""),
			SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:        getEnv("SMTP_FROM", ""),
			SMTPTimeout:     getEnvDuration("SMTP_TIMEOUT", 30*time.Second),
		},
		NATS: NATSConfig{
			Enabled:       getEnvBool("NATS_ENABLED", false),
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "shield.events"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level != "" && !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}

	if c.Security.RingCapacity < 1 {
		return fmt.Errorf("SECURITY_RING_CAPACITY must be positive, got %d", c.Security.RingCapacity)
	}
	if c.Security.EventRetention <= 0 {
		return fmt.Errorf("SECURITY_EVENT_RETENTION must be positive")
	}
	if c.RateLimit.SweepInterval <= 0 {
		return fmt.Errorf("RATE_LIMIT_SWEEP_INTERVAL must be positive")
	}

	if c.ThreatIntel.Enabled && c.ThreatIntel.EndpointURL == "" {
		return fmt.Errorf("THREAT_INTEL_URL is required when threat intel is enabled")
	}

	if c.IsProduction() && c.Redis.Password == "" {
		return fmt.Errorf("REDIS_PASSWORD is required in production")
	}

	return nil
}

// Environment helpers.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
