package config

import (
	"os"
	"strconv"
	"time"

	"abstat/domain/experiment"
	"abstat/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig `validate:"required"`
	Warehouse  WarehouseConfig
	Experiment ExperimentConfig `validate:"required"`
	Paths      PathConfig
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port            string `validate:"required"`
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// WarehouseConfig holds connection settings for the observation warehouse.
// A missing DSN disables the warehouse reader; file uploads still work.
type WarehouseConfig struct {
	DSN      string
	Table    string
	MaxConns int
}

// ExperimentConfig holds the default analysis parameters applied when a
// test configuration omits them.
type ExperimentConfig struct {
	Alpha             float64
	Tails             experiment.Tails
	Strategy          experiment.Strategy
	PosteriorDraws    int
	PriorSuccesses    int
	PriorTrials       int
	StoppingThreshold float64
	FutilityThreshold float64
	LossTolerance     float64
	Seed              int64
}

// PathConfig holds file system paths
type PathConfig struct {
	DatasetFile string
	ReportDir   string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{}

	serverConfig := loadServerConfig()
	config.Server = *serverConfig

	warehouseConfig := loadWarehouseConfig()
	config.Warehouse = *warehouseConfig

	experimentConfig, err := loadExperimentConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load experiment configuration")
	}
	config.Experiment = *experimentConfig

	pathConfig := loadPathConfig()
	config.Paths = *pathConfig

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// Defaults converts the loaded experiment section into the domain defaults
// consumed by test configuration constructors.
func (c *Config) Defaults() experiment.Defaults {
	return experiment.Defaults{
		Alpha:             c.Experiment.Alpha,
		Tails:             c.Experiment.Tails,
		Strategy:          c.Experiment.Strategy,
		PosteriorDraws:    c.Experiment.PosteriorDraws,
		PriorSuccesses:    c.Experiment.PriorSuccesses,
		PriorTrials:       c.Experiment.PriorTrials,
		StoppingThreshold: c.Experiment.StoppingThreshold,
		FutilityThreshold: c.Experiment.FutilityThreshold,
		LossTolerance:     c.Experiment.LossTolerance,
		Seed:              c.Experiment.Seed,
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            getEnvOrDefault("PORT", "8080"),
		ReadTimeout:     getEnvDurationOrDefault("READ_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getEnvDurationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func loadWarehouseConfig() *WarehouseConfig {
	return &WarehouseConfig{
		DSN:      getEnvOrDefault("WAREHOUSE_DSN", ""),
		Table:    getEnvOrDefault("WAREHOUSE_TABLE", "observations"),
		MaxConns: getEnvIntOrDefault("WAREHOUSE_MAX_CONNS", 4),
	}
}

func loadExperimentConfig() (*ExperimentConfig, error) {
	std := experiment.StandardDefaults()

	tails := experiment.Tails(getEnvOrDefault("TAILS", string(std.Tails)))
	if !tails.Valid() {
		return nil, errors.ConfigInvalid("TAILS must be one_tailed or two_tailed")
	}

	strategy := experiment.Strategy(getEnvOrDefault("BUCKETING_STRATEGY", string(std.Strategy)))
	if !strategy.Valid() {
		return nil, errors.ConfigInvalid("BUCKETING_STRATEGY must be hash or random")
	}

	return &ExperimentConfig{
		Alpha:             getEnvFloatOrDefault("ALPHA", std.Alpha),
		Tails:             tails,
		Strategy:          strategy,
		PosteriorDraws:    getEnvIntOrDefault("POSTERIOR_DRAWS", std.PosteriorDraws),
		PriorSuccesses:    getEnvIntOrDefault("PRIOR_SUCCESSES", std.PriorSuccesses),
		PriorTrials:       getEnvIntOrDefault("PRIOR_TRIALS", std.PriorTrials),
		StoppingThreshold: getEnvFloatOrDefault("STOPPING_THRESHOLD", std.StoppingThreshold),
		FutilityThreshold: getEnvFloatOrDefault("FUTILITY_THRESHOLD", std.FutilityThreshold),
		LossTolerance:     getEnvFloatOrDefault("LOSS_TOLERANCE", std.LossTolerance),
		Seed:              int64(getEnvIntOrDefault("BUCKETING_SEED", int(std.Seed))),
	}, nil
}

func loadPathConfig() *PathConfig {
	return &PathConfig{
		DatasetFile: getEnvOrDefault("DATASET_FILE", ""),
		ReportDir:   getEnvOrDefault("REPORT_DIR", "./reports"),
	}
}

func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return errors.ConfigInvalid("server port is required")
	}
	if config.Experiment.Alpha <= 0 || config.Experiment.Alpha >= 1 {
		return errors.ConfigInvalid("ALPHA must lie in (0, 1)")
	}
	if config.Experiment.PosteriorDraws < experiment.MinPosteriorDraws {
		return errors.ConfigInvalid("POSTERIOR_DRAWS below minimum draw budget")
	}
	if config.Experiment.StoppingThreshold <= 0.5 || config.Experiment.StoppingThreshold >= 1 {
		return errors.ConfigInvalid("STOPPING_THRESHOLD must lie in (0.5, 1)")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
