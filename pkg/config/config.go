package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/tasknest/tasknest/pkg/observability"
	"github.com/tasknest/tasknest/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Billing       BillingConfig       `yaml:"billing"`
	Paystack      PaystackConfig      `yaml:"paystack"`
	SMTP          SMTPConfig          `yaml:"smtp"`
	Access        AccessConfig        `yaml:"access"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	FrontendURL     string        `yaml:"frontend_url"`
}

// Addr returns host:port for http.Server
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// Postgres converts to the storage connection settings
func (d DatabaseConfig) Postgres() storage.PostgresConfig {
	return storage.PostgresConfig{
		URL:             d.URL,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnectTimeout:  d.ConnectTimeout,
	}
}

// RedisConfig holds Redis settings. An empty URL disables Redis-backed
// locking and webhook de-duplication.
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MaxRetries int    `yaml:"max_retries"`
	PoolSize   int    `yaml:"pool_size"`
}

// Enabled reports whether a Redis URL is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// Storage converts to the storage client settings
func (r RedisConfig) Storage() storage.RedisConfig {
	return storage.RedisConfig{
		URL:        r.URL,
		Password:   r.Password,
		DB:         r.DB,
		MaxRetries: r.MaxRetries,
		PoolSize:   r.PoolSize,
	}
}

// BillingConfig holds pricing and sweep settings
type BillingConfig struct {
	BasicPrice         float64       `yaml:"basic_price"`
	MemberPrice        float64       `yaml:"member_price"`
	TrialDays          int           `yaml:"trial_days"`
	Currency           string        `yaml:"currency"`
	Schedule           string        `yaml:"schedule"`
	GatewayTimeout     time.Duration `yaml:"gateway_timeout"`
	MaxBillingAttempts int           `yaml:"max_billing_attempts"`
	SweepLockTTL       time.Duration `yaml:"sweep_lock_ttl"`
	WebhookDedupeTTL   time.Duration `yaml:"webhook_dedupe_ttl"`
}

// PaystackConfig holds payment gateway credentials
type PaystackConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	BaseURL       string `yaml:"base_url"`
	CallbackURL   string `yaml:"callback_url"`
}

// SMTPConfig holds outbound email settings. An empty host logs emails
// instead of sending them.
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AccessConfig holds board access resolver settings
type AccessConfig struct {
	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheSize    int           `yaml:"cache_size"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// RateLimitConfig holds API rate limits. Limits are only enforced when
// Redis is configured.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	UserRequests      int           `yaml:"user_requests"`
	AnonymousRequests int           `yaml:"anonymous_requests"`
	Window            time.Duration `yaml:"window"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel           string `yaml:"log_level"`
	MetricsEnabled     bool   `yaml:"metrics_enabled"`
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Level parses LogLevel
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts to the observability OTel settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			FrontendURL:     "http://localhost:3000",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			AutoMigrate:     true,
		},
		Billing: BillingConfig{
			BasicPrice:         2.0,
			MemberPrice:        0.5,
			TrialDays:          14,
			Currency:           "USD",
			Schedule:           "0 0 * * *",
			GatewayTimeout:     30 * time.Second,
			MaxBillingAttempts: 3,
			SweepLockTTL:       time.Hour,
			WebhookDedupeTTL:   72 * time.Hour,
		},
		Paystack: PaystackConfig{
			BaseURL: "https://api.paystack.co",
		},
		SMTP: SMTPConfig{
			Port:    587,
			Timeout: 10 * time.Second,
		},
		Access: AccessConfig{
			CacheEnabled: false,
			CacheSize:    10000,
			CacheTTL:     5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			UserRequests:      600,
			AnonymousRequests: 120,
			Window:            time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tasknest",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by TASKNEST_CONFIG_FILE, and TASKNEST_* environment variables, in
// that order of precedence (env wins).
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("TASKNEST_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("TASKNEST_HOST", c.Server.Host)
	c.Server.Port = getEnv("TASKNEST_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("TASKNEST_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("TASKNEST_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("TASKNEST_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("TASKNEST_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.FrontendURL = getEnv("TASKNEST_FRONTEND_URL", c.Server.FrontendURL)

	c.Database.URL = getEnv("TASKNEST_DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("TASKNEST_DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("TASKNEST_DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("TASKNEST_DATABASE_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.AutoMigrate = getEnvBool("TASKNEST_DATABASE_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Redis.URL = getEnv("TASKNEST_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("TASKNEST_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("TASKNEST_REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("TASKNEST_REDIS_POOL_SIZE", c.Redis.PoolSize)

	c.Billing.BasicPrice = getEnvFloat("TASKNEST_BASIC_PLAN_PRICE", c.Billing.BasicPrice)
	c.Billing.MemberPrice = getEnvFloat("TASKNEST_MEMBER_PRICE", c.Billing.MemberPrice)
	c.Billing.TrialDays = getEnvInt("TASKNEST_TRIAL_DAYS", c.Billing.TrialDays)
	c.Billing.Currency = getEnv("TASKNEST_CURRENCY", c.Billing.Currency)
	c.Billing.Schedule = getEnv("TASKNEST_BILLING_SCHEDULE", c.Billing.Schedule)
	c.Billing.GatewayTimeout = getEnvDuration("TASKNEST_GATEWAY_TIMEOUT", c.Billing.GatewayTimeout)
	c.Billing.MaxBillingAttempts = getEnvInt("TASKNEST_MAX_BILLING_ATTEMPTS", c.Billing.MaxBillingAttempts)
	c.Billing.SweepLockTTL = getEnvDuration("TASKNEST_SWEEP_LOCK_TTL", c.Billing.SweepLockTTL)
	c.Billing.WebhookDedupeTTL = getEnvDuration("TASKNEST_WEBHOOK_DEDUPE_TTL", c.Billing.WebhookDedupeTTL)

	c.Paystack.SecretKey = getEnv("TASKNEST_PAYSTACK_SECRET_KEY", c.Paystack.SecretKey)
	c.Paystack.WebhookSecret = getEnv("TASKNEST_PAYSTACK_WEBHOOK_SECRET", c.Paystack.WebhookSecret)
	c.Paystack.BaseURL = getEnv("TASKNEST_PAYSTACK_BASE_URL", c.Paystack.BaseURL)
	c.Paystack.CallbackURL = getEnv("TASKNEST_PAYSTACK_CALLBACK_URL", c.Paystack.CallbackURL)

	c.SMTP.Host = getEnv("TASKNEST_SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getEnvInt("TASKNEST_SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getEnv("TASKNEST_SMTP_USER", c.SMTP.Username)
	c.SMTP.Password = getEnv("TASKNEST_SMTP_PASS", c.SMTP.Password)
	c.SMTP.From = getEnv("TASKNEST_SMTP_FROM", c.SMTP.From)

	c.Access.CacheEnabled = getEnvBool("TASKNEST_ACCESS_CACHE_ENABLED", c.Access.CacheEnabled)
	c.Access.CacheSize = getEnvInt("TASKNEST_ACCESS_CACHE_SIZE", c.Access.CacheSize)
	c.Access.CacheTTL = getEnvDuration("TASKNEST_ACCESS_CACHE_TTL", c.Access.CacheTTL)

	c.RateLimit.Enabled = getEnvBool("TASKNEST_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.UserRequests = getEnvInt("TASKNEST_RATE_LIMIT_USER_REQUESTS", c.RateLimit.UserRequests)
	c.RateLimit.AnonymousRequests = getEnvInt("TASKNEST_RATE_LIMIT_ANONYMOUS_REQUESTS", c.RateLimit.AnonymousRequests)
	c.RateLimit.Window = getEnvDuration("TASKNEST_RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.Observability.LogLevel = getEnv("TASKNEST_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("TASKNEST_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("TASKNEST_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("TASKNEST_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("TASKNEST_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelInsecure = getEnvBool("TASKNEST_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Billing.BasicPrice < 0 || c.Billing.MemberPrice < 0 {
		return fmt.Errorf("plan prices must not be negative")
	}
	if c.Billing.TrialDays < 1 {
		return fmt.Errorf("trial days must be at least 1, got %d", c.Billing.TrialDays)
	}
	if len(c.Billing.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter ISO code, got %q", c.Billing.Currency)
	}
	if _, err := cron.ParseStandard(c.Billing.Schedule); err != nil {
		return fmt.Errorf("invalid billing schedule %q: %w", c.Billing.Schedule, err)
	}
	if c.Billing.GatewayTimeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive")
	}
	if c.Billing.MaxBillingAttempts < 1 {
		return fmt.Errorf("max billing attempts must be at least 1")
	}

	if c.Paystack.SecretKey != "" && c.Paystack.WebhookSecret == "" {
		// Paystack signs webhooks with the secret key when no separate
		// webhook secret is issued.
		c.Paystack.WebhookSecret = c.Paystack.SecretKey
	}

	if c.Access.CacheEnabled && (c.Access.CacheSize <= 0 || c.Access.CacheTTL <= 0) {
		return fmt.Errorf("access cache requires a positive size and TTL")
	}

	if c.RateLimit.Enabled && (c.RateLimit.UserRequests < 1 || c.RateLimit.AnonymousRequests < 1 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limits require positive request counts and window")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
