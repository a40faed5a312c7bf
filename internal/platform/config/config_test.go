package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("VAULT_KEY", validKey)

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.RateLimit.MaxEvents)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 365, cfg.Retention.DefaultDays)
	assert.Equal(t, "index", cfg.Onboarding.LookupStrategy)
	assert.Equal(t, 15*time.Minute, cfg.Onboarding.CodeTTL)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestFromEnvParsesValues(t *testing.T) {
	t.Setenv("VAULT_KEY", validKey)
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("RETENTION_SWEEP_INTERVAL", "15m")
	t.Setenv("DISABLE_RATE_LIMITING", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Minute, cfg.Retention.SweepInterval)
	assert.True(t, cfg.RateLimit.Disabled)
}

func TestFromEnvReportsMalformedValues(t *testing.T) {
	t.Setenv("BCRYPT_COST", "twelve")
	t.Setenv("RATE_LIMIT_WINDOW", "a minute")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BCRYPT_COST")
	assert.Contains(t, err.Error(), "RATE_LIMIT_WINDOW")
}

func TestValidate(t *testing.T) {
	t.Setenv("VAULT_KEY", validKey)
	base := func() Config {
		cfg, err := FromEnv()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"short key", func(c *Config) { c.Vault.KeyHex = "abcd" }, "VAULT_KEY"},
		{"non-hex key", func(c *Config) { c.Vault.KeyHex = strings.Repeat("zz", 32) }, "VAULT_KEY"},
		{"bcrypt cost", func(c *Config) { c.Vault.BcryptCost = 2 }, "BCRYPT_COST"},
		{"retention", func(c *Config) { c.Retention.DefaultDays = 0 }, "DEFAULT_RETENTION_DAYS"},
		{"lookup strategy", func(c *Config) { c.Onboarding.LookupStrategy = "guess" }, "LOOKUP_STRATEGY"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"production admin key", func(c *Config) { c.Environment = "production" }, "ADMIN_JWT_SIGNING_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DEFAULT_RETENTION_DAYS=180\nVAULT_KEY=ignored\n"), 0o600))
	t.Setenv("VAULT_KEY", validKey)
	t.Cleanup(func() { os.Unsetenv("DEFAULT_RETENTION_DAYS") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 180, cfg.Retention.DefaultDays)
	assert.Equal(t, validKey, cfg.Vault.KeyHex, "environment wins over the file")
}

func TestLoadToleratesMissingFile(t *testing.T) {
	t.Setenv("VAULT_KEY", validKey)
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
