package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/xkilldash9x/relock/api/schemas"
)

// Config is the whole application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Healing  HealingConfig  `mapstructure:"healing" yaml:"healing"`
	Model    ModelConfig    `mapstructure:"model" yaml:"model"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	// StrategyPriors overrides the built-in strategy table when non-empty.
	StrategyPriors []schemas.StrategyPrior `mapstructure:"strategy_priors" yaml:"strategy_priors"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// HealingConfig carries the auto-healing policy settings.
type HealingConfig struct {
	Enabled                   bool    `mapstructure:"enabled" yaml:"enabled"`
	ConfidenceThreshold       float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	MaxRetries                int     `mapstructure:"max_retries" yaml:"max_retries"`
	RollbackAfterFailures     int     `mapstructure:"rollback_after_failures" yaml:"rollback_after_failures"`
	RequireUserApproval       bool    `mapstructure:"require_user_approval" yaml:"require_user_approval"`
	AutoApproveHighConfidence bool    `mapstructure:"auto_approve_high_confidence" yaml:"auto_approve_high_confidence"`
}

// Policy converts the config into the engine's policy type.
func (h HealingConfig) Policy() schemas.AutoHealingConfig {
	return schemas.AutoHealingConfig{
		Enabled:                   h.Enabled,
		ConfidenceThreshold:       h.ConfidenceThreshold,
		MaxRetries:                h.MaxRetries,
		RollbackAfterFailures:     h.RollbackAfterFailures,
		RequireUserApproval:       h.RequireUserApproval,
		AutoApproveHighConfidence: h.AutoApproveHighConfidence,
	}
}

// ModelConfig governs the learned confidence model.
type ModelConfig struct {
	Enabled            bool `mapstructure:"enabled" yaml:"enabled"`
	MinTrainingSamples int  `mapstructure:"min_training_samples" yaml:"min_training_samples"`
	MaxTrainingSamples int  `mapstructure:"max_training_samples" yaml:"max_training_samples"`
}

// HistoryConfig tunes record retention and the rollback failure window.
type HistoryConfig struct {
	RetentionDays     int `mapstructure:"retention_days" yaml:"retention_days"`
	FailureWindowDays int `mapstructure:"failure_window_days" yaml:"failure_window_days"`
}

// Retention returns the retention window as a duration.
func (h HistoryConfig) Retention() time.Duration {
	return time.Duration(h.RetentionDays) * 24 * time.Hour
}

// FailureWindow returns the rollback lookback as a duration.
func (h HistoryConfig) FailureWindow() time.Duration {
	return time.Duration(h.FailureWindowDays) * 24 * time.Hour
}

// DatabaseConfig holds the optional Postgres connection for state
// persistence. An empty URL keeps state in memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "relock")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Healing policy --
	v.SetDefault("healing.enabled", true)
	v.SetDefault("healing.confidence_threshold", 0.85)
	v.SetDefault("healing.max_retries", 3)
	v.SetDefault("healing.rollback_after_failures", 3)
	v.SetDefault("healing.require_user_approval", false)
	v.SetDefault("healing.auto_approve_high_confidence", true)

	// -- Model --
	v.SetDefault("model.enabled", true)
	v.SetDefault("model.min_training_samples", 10)
	v.SetDefault("model.max_training_samples", 500)

	// -- History --
	v.SetDefault("history.retention_days", 30)
	v.SetDefault("history.failure_window_days", 7)
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a viper
// instance that has already read file and environment sources.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Healing.ConfidenceThreshold < 0.0 || c.Healing.ConfidenceThreshold > 1.0 {
		return fmt.Errorf("healing.confidence_threshold must be between 0.0 and 1.0")
	}
	if c.Healing.RollbackAfterFailures < 0 {
		return fmt.Errorf("healing.rollback_after_failures must not be negative")
	}
	if c.Model.MinTrainingSamples < 0 || c.Model.MaxTrainingSamples < 0 {
		return fmt.Errorf("model sample bounds must not be negative")
	}
	if c.Model.MaxTrainingSamples > 0 && c.Model.MinTrainingSamples > c.Model.MaxTrainingSamples {
		return fmt.Errorf("model.min_training_samples must not exceed model.max_training_samples")
	}
	if c.History.RetentionDays < 0 || c.History.FailureWindowDays < 0 {
		return fmt.Errorf("history windows must not be negative")
	}
	for _, p := range c.StrategyPriors {
		if p.Stability < 0 || p.Stability > 1 {
			return fmt.Errorf("strategy prior %q stability must be between 0.0 and 1.0", p.Strategy)
		}
	}
	return nil
}
