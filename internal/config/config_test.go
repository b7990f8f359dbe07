package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "dropwatch.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Refresh.MaxConcurrentDomains)
	assert.Equal(t, 30, cfg.Refresh.IntervalMins)
	assert.Equal(t, 100, cfg.History.BatchSize)
	assert.InDelta(t, 1.0, cfg.History.RatePerSec, 0.001)
	assert.Equal(t, 30, cfg.History.CacheTTLMins)
	assert.InDelta(t, 1.0, cfg.Signal.SanityFloor, 0.001)
	assert.InDelta(t, 1.0, cfg.Notify.AbsoluteDrop, 0.001)
	assert.InDelta(t, 0.05, cfg.Notify.RelativeDrop, 0.001)
	assert.InDelta(t, 0.25, cfg.Monitoring.LookupFailThreshold, 0.001)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/dropwatch
log:
  level: debug
  format: console
server:
  port: 9090
refresh:
  max_concurrent_domains: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Refresh.MaxConcurrentDomains)
	// Defaults still apply for unset values
	assert.Equal(t, 100, cfg.History.BatchSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DROPWATCH_STORE_DRIVER", "postgres")
	t.Setenv("DROPWATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DROPWATCH_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "dropwatch.db"
	cfg.Refresh.MaxConcurrentDomains = 4
	cfg.History.BatchSize = 100
	cfg.Notify.AbsoluteDrop = 1.0
	cfg.Notify.RelativeDrop = 0.05
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("refresh"))
	assert.NoError(t, cfg.Validate("serve"))
	assert.NoError(t, cfg.Validate("items"))
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("refresh")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_BadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("items")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	// refresh mode does not care about the port
	assert.NoError(t, cfg.Validate("refresh"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Refresh.MaxConcurrentDomains = 0
	err := cfg.Validate("refresh")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_domains must be between 1 and 32")

	cfg.Refresh.MaxConcurrentDomains = 33
	err = cfg.Validate("refresh")
	assert.Error(t, err)

	cfg.Refresh.MaxConcurrentDomains = 32
	assert.NoError(t, cfg.Validate("refresh"))
}

func TestValidateBatchSizeCap(t *testing.T) {
	cfg := validDefaults()

	cfg.History.BatchSize = 101
	err := cfg.Validate("refresh")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "history.batch_size must be between 1 and 100")

	cfg.History.BatchSize = 0
	err = cfg.Validate("refresh")
	assert.Error(t, err)
}

func TestValidateNotifyThresholds(t *testing.T) {
	cfg := validDefaults()

	cfg.Notify.AbsoluteDrop = -1
	err := cfg.Validate("refresh")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notify.absolute_drop must be >= 0")

	cfg.Notify.AbsoluteDrop = 1
	cfg.Notify.RelativeDrop = 1.5
	err = cfg.Validate("refresh")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notify.relative_drop must be in [0, 1)")
}
