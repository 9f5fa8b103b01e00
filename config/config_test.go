package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: No config file and no SB_ variables
	// WHEN: Loading from an empty directory
	// THEN: Every default is applied

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "society-billing", cfg.App.Name)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "./billing.db", cfg.Database.Path)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 3, cfg.Billing.ReceiptRetryAttempts)
	assert.Equal(t, 4, cfg.Billing.GenerationWorkers)
	assert.Equal(t, "memory", cfg.Idempotency.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	// GIVEN: A TOML file setting the port and log format
	// WHEN: SB_APP_PORT is also set
	// THEN: The environment wins over the file, the file over defaults

	dir := t.TempDir()
	path := filepath.Join(dir, "billing.toml")
	content := `
[app]
port = "9090"
env = "production"

[log]
format = "console"

[scheduler]
enabled = true
interval = "30m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SB_APP_PORT", "7070")
	t.Setenv("SB_DATABASE_PATH", ":memory:")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.App.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, false},
		{"bad idempotency backend", func(c *Config) { c.Idempotency.Backend = "etcd" }, false},
		{"redis backend", func(c *Config) { c.Idempotency.Backend = "redis" }, true},
		{"zero retries", func(c *Config) { c.Billing.ReceiptRetryAttempts = -1 }, false},
		{"scheduler too fast", func(c *Config) { c.Scheduler.Enabled = true; c.Scheduler.Interval = time.Millisecond }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
