package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/conductor/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string                         `toml:"environment"`
	Storage     StorageConfig                  `toml:"storage"`
	Scheduler   SchedulerConfig                `toml:"scheduler"`
	Logging     LoggingConfig                  `toml:"logging"`
	Activities  []models.ActivityConfiguration `toml:"activities" validate:"dive"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// SchedulerConfig controls the worker loop and recovery machinery
type SchedulerConfig struct {
	Workers           int           `toml:"workers" validate:"gte=1"`           // Worker goroutines per queue
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`                   // Grace period for in-flight jobs on stop
	LivenessSchedule  string        `toml:"liveness_schedule"`                  // Cron schedule for the continuation liveness sweep
	RecoveryAttempts  int           `toml:"recovery_attempts" validate:"gte=1"` // Max attempts for recoverable store mutations
	RecoveryBaseDelay time.Duration `toml:"recovery_base_delay"`                // Initial backoff between recovery attempts
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Scheduler: SchedulerConfig{
			Workers:           4,
			ShutdownTimeout:   30 * time.Second,
			LivenessSchedule:  "*/1 * * * *", // Re-verify waiting parents every minute
			RecoveryAttempts:  5,
			RecoveryBaseDelay: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CONDUCTOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("CONDUCTOR_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	if workers := os.Getenv("CONDUCTOR_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil && w > 0 {
			config.Scheduler.Workers = w
		}
	}

	if level := os.Getenv("CONDUCTOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// Validate checks the configuration for structural errors
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool)
	for _, ac := range c.Activities {
		if seen[ac.ActivityType] {
			return fmt.Errorf("invalid configuration: duplicate activity configuration for type %q", ac.ActivityType)
		}
		seen[ac.ActivityType] = true
		if ac.IsDefault() && ac.MaxQueueLength > 0 {
			return fmt.Errorf("invalid configuration: default queue cannot be bounded")
		}
	}
	return nil
}

// ActivityConfiguration returns the policy for an activity type, falling back
// to an explicit default-queue entry and finally to built-in defaults
func (c *Config) ActivityConfiguration(activityType string) models.ActivityConfiguration {
	for _, ac := range c.Activities {
		if ac.ActivityType == activityType {
			return ac
		}
	}
	for _, ac := range c.Activities {
		if ac.IsDefault() {
			cfg := ac
			cfg.ActivityType = activityType
			return cfg
		}
	}
	return models.DefaultActivityConfiguration(activityType)
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
