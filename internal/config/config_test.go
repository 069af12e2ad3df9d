package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("IMAGEWATCH_STORE", StoreMemory)
	v, err := NewViper("")
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Scan.Workers)
	assert.Equal(t, 3*time.Second, cfg.Scan.Delay)
	assert.Equal(t, 10*time.Second, cfg.Refresh.ImagesInterval)
	assert.Equal(t, 5*time.Second, cfg.Refresh.StatsInterval)
	assert.Equal(t, 1, cfg.Stats.ComparisonPeriod)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("IMAGEWATCH_STORE", StoreMemory)
	t.Setenv("IMAGEWATCH_SCAN_WORKERS", "7")
	t.Setenv("IMAGEWATCH_TRIGGER_URL", "http://functions.local")
	t.Setenv("IMAGEWATCH_STATS_COMPARISON_PERIOD", "3")

	v, err := NewViper("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Scan.Workers)
	assert.Equal(t, "http://functions.local", cfg.Trigger.URL)
	assert.Equal(t, 3, cfg.Stats.ComparisonPeriod)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imagewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: memory
listen_addr: ":9090"
scan:
  failure_rate: 0.5
  poll_interval: 1s
`), 0o600))

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 0.5, cfg.Scan.FailureRate)
	assert.Equal(t, time.Second, cfg.Scan.PollInterval)
}

func TestMissingExplicitConfigFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestFlagsTakePriority(t *testing.T) {
	t.Setenv("IMAGEWATCH_LISTEN_ADDR", ":7000")
	v, err := NewViper("")
	require.NoError(t, err)

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("listen", "", "")
	require.NoError(t, cmd.Flags().Set("listen", ":6000"))
	require.NoError(t, BindFlags(v, cmd, map[string]string{"listen": "listen_addr", "absent": "store"}))

	assert.Equal(t, ":6000", v.GetString("listen_addr"))
}

func TestValidate(t *testing.T) {
	valid := Config{Store: StoreMemory, Stats: StatsConfig{ComparisonPeriod: 1}}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgres without url", func(c *Config) { c.Store = StorePostgres }, "database_url is required"},
		{"unknown store", func(c *Config) { c.Store = "redis" }, `unknown store "redis"`},
		{"failure rate above one", func(c *Config) { c.Scan.FailureRate = 1.5 }, "scan.failure_rate"},
		{"negative failure rate", func(c *Config) { c.Scan.FailureRate = -0.1 }, "scan.failure_rate"},
		{"zero comparison period", func(c *Config) { c.Stats.ComparisonPeriod = 0 }, "stats.comparison_period"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
