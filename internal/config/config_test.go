package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/docmem/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"DOCMEM_HOST", "DOCMEM_PORT", "DOCMEM_STORAGE_ENGINE", "DOCMEM_SWEEP_INTERVAL", "DOCMEM_LOG_LEVEL"} {
		_ = os.Unsetenv(k)
	}
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "Default host must be 127.0.0.1 for security")
	assert.Equal(t, 6464, cfg.Server.Port)
	assert.Equal(t, config.EngineFilesystem, cfg.Storage.StorageEngine)
	assert.Equal(t, 10000, cfg.Engine.IdempotencyCacheSize)
	assert.Zero(t, cfg.Sweep.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:6464", cfg.Addr())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DOCMEM_HOST", "0.0.0.0")
	t.Setenv("DOCMEM_PORT", "8080")
	t.Setenv("DOCMEM_STORAGE_ENGINE", "sqlite")
	t.Setenv("DOCMEM_RATE_LIMIT", "2.5")
	t.Setenv("DOCMEM_BREAKER_ENABLED", "YES")
	t.Setenv("DOCMEM_SWEEP_INTERVAL", "90m")
	t.Setenv("DOCMEM_LOG_FORMAT", "JSON")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, config.EngineSQLite, cfg.Storage.StorageEngine)
	assert.Equal(t, 2.5, cfg.Security.RateLimit)
	assert.True(t, cfg.Storage.BreakerEnabled)
	assert.Equal(t, 90*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_SweepIntervalInSeconds(t *testing.T) {
	t.Setenv("DOCMEM_SWEEP_INTERVAL", "30")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
}

func TestLoadConfig_UnparsableFallsBack(t *testing.T) {
	t.Setenv("DOCMEM_PORT", "eighty")
	t.Setenv("DOCMEM_BREAKER_ENABLED", "maybe")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 6464, cfg.Server.Port)
	assert.False(t, cfg.Storage.BreakerEnabled)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg, err := config.LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		modify func(*config.Config)
		want   string
	}{
		{"port", func(c *config.Config) { c.Server.Port = 0 }, "port 0 out of range"},
		{"engine", func(c *config.Config) { c.Storage.StorageEngine = "postgres" }, "unknown storage engine"},
		{"data path", func(c *config.Config) { c.Storage.DataPath = "" }, "data path is required"},
		{"production without token", func(c *config.Config) {
			c.Security.SecurityMode = config.ModeProduction
			c.Security.APIToken = ""
		}, "requires DOCMEM_API_TOKEN"},
		{"mode", func(c *config.Config) { c.Security.SecurityMode = "open" }, "unknown security mode"},
		{"burst", func(c *config.Config) { c.Security.RateBurst = 0 }, "rate burst"},
		{"cache", func(c *config.Config) { c.Engine.IdempotencyCacheSize = -1 }, "idempotency cache"},
		{"sweep policy", func(c *config.Config) {
			c.Sweep.Interval = time.Hour
			c.Sweep.PolicyID = ""
		}, "requires a policy id"},
		{"log level", func(c *config.Config) { c.Log.Level = "loud" }, "unknown log level"},
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }, "unknown log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	cfg.Server.Port = -1
	cfg.Log.Level = "loud"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "log level")
}
