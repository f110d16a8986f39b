package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	t.Setenv("QUANTLAB_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.DirExists(t, dir)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 252, cfg.Engine.TradingDays)
	assert.Equal(t, uint64(42), cfg.Engine.Seed)
	assert.Equal(t, 90, cfg.RetentionDays)
	assert.False(t, cfg.Archive.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QUANTLAB_DATA_DIR", t.TempDir())
	t.Setenv("QUANTLAB_PORT", "9100")
	t.Setenv("QUANTLAB_TRADING_DAYS", "365")
	t.Setenv("QUANTLAB_RISK_FREE_RATE", "0.02")
	t.Setenv("QUANTLAB_N_JOBS", "3")
	t.Setenv("QUANTLAB_SEED", "7")
	t.Setenv("ARCHIVE_BUCKET", "reports")
	t.Setenv("ARCHIVE_ACCESS_KEY_ID", "key")
	t.Setenv("ARCHIVE_SECRET_ACCESS_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.True(t, cfg.Archive.Enabled())

	sc, err := cfg.SimulationConfig()
	require.NoError(t, err)
	assert.Equal(t, 365, sc.Metrics.TradingDays)
	assert.Equal(t, 0.02, sc.Metrics.RiskFreeRate)
	assert.Equal(t, 365, sc.Validation.TradingDays)
	assert.Equal(t, 3, sc.NJobs)
	assert.Equal(t, uint64(7), sc.Seed)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:              8080,
			LogLevel:          "info",
			Engine:            EngineConfig{TradingDays: 252, MinPeriods: 30},
			RetentionSchedule: "0 0 3 * * *",
			ArchiveSchedule:   "@hourly",
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"port":           func(c *Config) { c.Port = 0 },
		"log level":      func(c *Config) { c.LogLevel = "loud" },
		"trading days":   func(c *Config) { c.Engine.TradingDays = 0 },
		"retention":      func(c *Config) { c.RetentionDays = -1 },
		"schedule":       func(c *Config) { c.ArchiveSchedule = "sometimes" },
		"archive secret": func(c *Config) { c.Archive = ArchiveConfig{Bucket: "b", AccessKeyID: "k", BatchSize: 1} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSimulationConfig_LoadsScenarios(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	doc := "scenarios:\n  - name: crash\n    volatility_multiplier: 3\n    return_shift: -0.002\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg := &Config{Engine: EngineConfig{TradingDays: 252, MinPeriods: 30}, ScenariosFile: path}
	sc, err := cfg.SimulationConfig()
	require.NoError(t, err)
	require.Len(t, sc.Stress.Scenarios, 1)
	assert.Equal(t, "crash", sc.Stress.Scenarios[0].Name)

	cfg.ScenariosFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.SimulationConfig()
	assert.Error(t, err)
}
