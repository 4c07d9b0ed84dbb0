package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknest/tasknest/pkg/observability"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Run("string falls back to default", func(t *testing.T) {
		assert.Equal(t, "default", getEnv("TASKNEST_TEST_UNSET", "default"))
		t.Setenv("TASKNEST_TEST_STR", "custom")
		assert.Equal(t, "custom", getEnv("TASKNEST_TEST_STR", "default"))
	})

	t.Run("bool accepts true and 1", func(t *testing.T) {
		t.Setenv("TASKNEST_TEST_BOOL", "1")
		assert.True(t, getEnvBool("TASKNEST_TEST_BOOL", false))
		t.Setenv("TASKNEST_TEST_BOOL", "TRUE")
		assert.True(t, getEnvBool("TASKNEST_TEST_BOOL", false))
		t.Setenv("TASKNEST_TEST_BOOL", "nope")
		assert.False(t, getEnvBool("TASKNEST_TEST_BOOL", true))
	})

	t.Run("numeric parse failures keep default", func(t *testing.T) {
		t.Setenv("TASKNEST_TEST_INT", "abc")
		assert.Equal(t, 7, getEnvInt("TASKNEST_TEST_INT", 7))
		t.Setenv("TASKNEST_TEST_FLOAT", "x")
		assert.Equal(t, 1.5, getEnvFloat("TASKNEST_TEST_FLOAT", 1.5))
		t.Setenv("TASKNEST_TEST_DUR", "soon")
		assert.Equal(t, time.Second, getEnvDuration("TASKNEST_TEST_DUR", time.Second))
	})

	t.Run("numeric values parse", func(t *testing.T) {
		t.Setenv("TASKNEST_TEST_FLOAT", "0.75")
		assert.Equal(t, 0.75, getEnvFloat("TASKNEST_TEST_FLOAT", 0))
		t.Setenv("TASKNEST_TEST_DUR", "45s")
		assert.Equal(t, 45*time.Second, getEnvDuration("TASKNEST_TEST_DUR", 0))
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("requires a database URL", func(t *testing.T) {
		t.Setenv("TASKNEST_DATABASE_URL", "")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "database URL is required")
	})

	t.Run("defaults match the published pricing", func(t *testing.T) {
		t.Setenv("TASKNEST_DATABASE_URL", "postgres://localhost/tasknest")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, 2.0, cfg.Billing.BasicPrice)
		assert.Equal(t, 0.5, cfg.Billing.MemberPrice)
		assert.Equal(t, 14, cfg.Billing.TrialDays)
		assert.Equal(t, "USD", cfg.Billing.Currency)
		assert.Equal(t, "0 0 * * *", cfg.Billing.Schedule)
		assert.Equal(t, observability.InfoLevel, cfg.Observability.Level())
		assert.False(t, cfg.Redis.Enabled())
	})

	t.Run("yaml file is overridden by env", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tasknest.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://file/tasknest
billing:
  basic_price: 5
  member_price: 1.25
  gateway_timeout: 12s
observability:
  log_level: debug
`), 0o600))

		t.Setenv("TASKNEST_CONFIG_FILE", path)
		t.Setenv("TASKNEST_DATABASE_URL", "")
		t.Setenv("TASKNEST_MEMBER_PRICE", "2")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "postgres://file/tasknest", cfg.Database.URL)
		assert.Equal(t, 5.0, cfg.Billing.BasicPrice)
		assert.Equal(t, 2.0, cfg.Billing.MemberPrice)
		assert.Equal(t, 12*time.Second, cfg.Billing.GatewayTimeout)
		assert.Equal(t, observability.DebugLevel, cfg.Observability.Level())
	})

	t.Run("missing yaml file is an error", func(t *testing.T) {
		t.Setenv("TASKNEST_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Database.URL = "postgres://localhost/tasknest"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{name: "negative price", mutate: func(c *Config) { c.Billing.MemberPrice = -1 }, wantErr: "must not be negative"},
		{name: "zero trial days", mutate: func(c *Config) { c.Billing.TrialDays = 0 }, wantErr: "trial days"},
		{name: "bad currency", mutate: func(c *Config) { c.Billing.Currency = "US" }, wantErr: "currency"},
		{name: "bad schedule", mutate: func(c *Config) { c.Billing.Schedule = "every day" }, wantErr: "invalid billing schedule"},
		{name: "zero gateway timeout", mutate: func(c *Config) { c.Billing.GatewayTimeout = 0 }, wantErr: "gateway timeout"},
		{name: "zero attempts", mutate: func(c *Config) { c.Billing.MaxBillingAttempts = 0 }, wantErr: "max billing attempts"},
		{name: "cache without ttl", mutate: func(c *Config) { c.Access.CacheEnabled = true; c.Access.CacheTTL = 0 }, wantErr: "access cache"},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimit.AnonymousRequests = 0 }, wantErr: "rate limits"},
		{name: "rate limit disabled ignores counts", mutate: func(c *Config) { c.RateLimit.Enabled = false; c.RateLimit.Window = 0 }},
		{name: "otel without endpoint", mutate: func(c *Config) { c.Observability.OTelEnabled = true; c.Observability.OTelEndpoint = "" }, wantErr: "OpenTelemetry endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	t.Run("webhook secret falls back to secret key", func(t *testing.T) {
		cfg := valid()
		cfg.Paystack.SecretKey = "sk_test_1"
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "sk_test_1", cfg.Paystack.WebhookSecret)
	})
}
