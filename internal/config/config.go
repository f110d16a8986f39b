// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/modules/simulation"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for reports.db (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	Engine        EngineConfig
	ScenariosFile string // Optional YAML file with stress scenarios

	Archive           ArchiveConfig
	RetentionDays     int // 0 keeps reports forever
	RetentionSchedule string
	ArchiveSchedule   string
}

// EngineConfig overrides the simulation defaults
type EngineConfig struct {
	TradingDays  int
	RiskFreeRate float64
	MinPeriods   int
	NJobs        int // <= 0 uses every CPU
	Seed         uint64
}

// ArchiveConfig points at the S3-compatible report archive. Archiving is
// disabled when Bucket is empty.
type ArchiveConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	BatchSize       int
}

// Enabled reports whether an archive bucket is configured
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads configuration from a .env file (if present) and environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("QUANTLAB_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("QUANTLAB_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Engine: EngineConfig{
			TradingDays:  getEnvAsInt("QUANTLAB_TRADING_DAYS", 252),
			RiskFreeRate: getEnvAsFloat("QUANTLAB_RISK_FREE_RATE", 0),
			MinPeriods:   getEnvAsInt("QUANTLAB_MIN_PERIODS", 30),
			NJobs:        getEnvAsInt("QUANTLAB_N_JOBS", 0),
			Seed:         uint64(getEnvAsInt("QUANTLAB_SEED", 42)),
		},
		ScenariosFile: getEnv("QUANTLAB_SCENARIOS_FILE", ""),
		Archive: ArchiveConfig{
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("ARCHIVE_PREFIX", "quantlab/reports"),
			BatchSize:       getEnvAsInt("ARCHIVE_BATCH_SIZE", 50),
		},
		RetentionDays:     getEnvAsInt("REPORT_RETENTION_DAYS", 90),
		RetentionSchedule: getEnv("RETENTION_SCHEDULE", "0 0 3 * * *"),
		ArchiveSchedule:   getEnv("ARCHIVE_SCHEDULE", "0 */30 * * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on out-of-range values
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.Engine.TradingDays <= 0 {
		return fmt.Errorf("trading days must be > 0, got %d", c.Engine.TradingDays)
	}
	if c.Engine.MinPeriods < 2 {
		return fmt.Errorf("min periods must be >= 2, got %d", c.Engine.MinPeriods)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention days must be >= 0, got %d", c.RetentionDays)
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{"retention": c.RetentionSchedule, "archive": c.ArchiveSchedule} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}

	if c.Archive.Enabled() {
		if c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "" {
			return fmt.Errorf("archive bucket %q needs ARCHIVE_ACCESS_KEY_ID and ARCHIVE_SECRET_ACCESS_KEY", c.Archive.Bucket)
		}
		if c.Archive.BatchSize < 1 {
			return fmt.Errorf("archive batch size must be >= 1, got %d", c.Archive.BatchSize)
		}
	}
	return nil
}

// SimulationConfig returns the simulation defaults with the environment
// overrides applied and, when configured, the stress scenarios file loaded
func (c *Config) SimulationConfig() (simulation.Config, error) {
	sc := simulation.DefaultConfig()
	sc.Metrics.TradingDays = c.Engine.TradingDays
	sc.Metrics.RiskFreeRate = c.Engine.RiskFreeRate
	sc.Metrics.MinPeriods = c.Engine.MinPeriods
	sc.Validation.TradingDays = c.Engine.TradingDays
	sc.Validation.RiskFreeRate = c.Engine.RiskFreeRate
	sc.Rebalancing.TradingDays = c.Engine.TradingDays
	sc.NJobs = c.Engine.NJobs
	sc.Seed = c.Engine.Seed

	if c.ScenariosFile != "" {
		scenarios, err := simulation.LoadScenariosFile(c.ScenariosFile)
		if err != nil {
			return simulation.Config{}, fmt.Errorf("failed to load scenarios: %w", err)
		}
		sc.Stress.Scenarios = scenarios
	}

	if err := sc.Validate(); err != nil {
		return simulation.Config{}, err
	}
	return sc, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
