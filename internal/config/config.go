// Package config handles configuration loading for drover.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/mgearhart/drover/pkg/models"
)

// Config holds all configuration for drover.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Health    HealthConfig    `mapstructure:"health"`
	Workers   []WorkerConfig  `mapstructure:"workers"`
}

// SchedulerConfig holds run-loop tunables.
type SchedulerConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	MaxPending          time.Duration `mapstructure:"max_pending"`
	MemoryTimeout       time.Duration `mapstructure:"memory_timeout"`
	MemoryLimit         int           `mapstructure:"memory_limit"`
	MemoryContextTokens int64         `mapstructure:"memory_context_tokens"`
	EventBuffer         int           `mapstructure:"event_buffer"`
}

// MemoryConfig holds tier retention and promotion settings.
type MemoryConfig struct {
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	ShortTTL           time.Duration `mapstructure:"short_ttl"`
	WorkingTTL         time.Duration `mapstructure:"working_ttl"`
	RecencyWindow      time.Duration `mapstructure:"recency_window"`
	PromoteMinAccess   int           `mapstructure:"promote_min_access"`
	PromoteMinWeight   float64       `mapstructure:"promote_min_weight"`
	PromoteMinAge      time.Duration `mapstructure:"promote_min_age"`
	PromoteMinProjects int           `mapstructure:"promote_min_projects"`
}

// HealthConfig holds stuck-task detection settings.
type HealthConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StuckAfter time.Duration `mapstructure:"stuck_after"`
}

// WorkerConfig declares one worker in the pool.
type WorkerConfig struct {
	ID             string   `mapstructure:"id"`
	Capabilities   []string `mapstructure:"capabilities"`
	Concurrency    int      `mapstructure:"concurrency"`
	CapacityTokens int64    `mapstructure:"capacity_tokens"`
	CostTier       string   `mapstructure:"cost_tier"`
	BudgetCeiling  int64    `mapstructure:"budget_ceiling"`
	// Command is the executable the worker runs per task. The task
	// payload arrives on stdin as JSON; the result is read from stdout.
	Command []string `mapstructure:"command"`
}

// ToModel converts the declaration into a pool-registrable worker.
func (wc WorkerConfig) ToModel() *models.Worker {
	return &models.Worker{
		ID:             wc.ID,
		Capabilities:   wc.Capabilities,
		Concurrency:    wc.Concurrency,
		CapacityTokens: wc.CapacityTokens,
		CostTier:       wc.CostTier,
	}
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (DROVER_*)
// 2. Project config (.drover.yaml in current directory or parent)
// 3. User config (~/.config/drover/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DROVER")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.DataDir = os.ExpandEnv(cfg.DataDir)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.DataDir = os.ExpandEnv(cfg.DataDir)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("scheduler.max_retries", 5)
	v.SetDefault("scheduler.poll_interval", "500ms")
	v.SetDefault("scheduler.max_pending", "5m")
	v.SetDefault("scheduler.memory_timeout", "500ms")
	v.SetDefault("scheduler.memory_limit", 5)
	v.SetDefault("scheduler.memory_context_tokens", 2000)
	v.SetDefault("scheduler.event_buffer", 256)

	v.SetDefault("memory.sweep_interval", "1m")
	v.SetDefault("memory.short_ttl", "1h")
	v.SetDefault("memory.working_ttl", "720h")
	v.SetDefault("memory.recency_window", "720h")
	v.SetDefault("memory.promote_min_access", 5)
	v.SetDefault("memory.promote_min_weight", 0.8)
	v.SetDefault("memory.promote_min_age", "168h")
	v.SetDefault("memory.promote_min_projects", 2)

	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.stuck_after", "15m")
}

// defaultDataDir returns the XDG data directory for drover.
func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "drover")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".drover")
	}
	return filepath.Join(home, ".local", "share", "drover")
}

// getUserConfigDir returns the XDG config directory for drover.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "drover")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "drover")
	}
	return filepath.Join(home, ".config", "drover")
}

// findProjectConfig searches for .drover.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".drover.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Scheduler: SchedulerConfig{
			MaxRetries:          5,
			PollInterval:        500 * time.Millisecond,
			MaxPending:          5 * time.Minute,
			MemoryTimeout:       500 * time.Millisecond,
			MemoryLimit:         5,
			MemoryContextTokens: 2000,
			EventBuffer:         256,
		},
		Memory: MemoryConfig{
			SweepInterval:      time.Minute,
			ShortTTL:           time.Hour,
			WorkingTTL:         720 * time.Hour,
			RecencyWindow:      720 * time.Hour,
			PromoteMinAccess:   5,
			PromoteMinWeight:   0.8,
			PromoteMinAge:      168 * time.Hour,
			PromoteMinProjects: 2,
		},
		Health: HealthConfig{
			Interval:   30 * time.Second,
			StuckAfter: 15 * time.Minute,
		},
	}
}
