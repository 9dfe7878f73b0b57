package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Provider selects the generation backend: local, openai, lmstudio, ollama
	Provider string        `mapstructure:"provider"`
	Local    LocalConfig   `mapstructure:"local"`
	Remote   RemoteConfig  `mapstructure:"remote"`
	Context  ContextConfig `mapstructure:"context"`
	Stream   StreamConfig  `mapstructure:"stream"`
	Prompt   PromptConfig  `mapstructure:"prompt"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// PromptConfig personalizes the system prompt and history persistence
type PromptConfig struct {
	SkillLevel  string `mapstructure:"skill_level"`
	Language    string `mapstructure:"language"`
	HistoryFile string `mapstructure:"history_file"`
}

// LocalConfig holds configuration for the local weights backend
type LocalConfig struct {
	ModelPath     string `mapstructure:"model_path"`
	ContextLength int    `mapstructure:"context_length"`
	GPULayers     int    `mapstructure:"gpu_layers"`
	ServerBin     string `mapstructure:"server_bin"`
	Port          int    `mapstructure:"port"`
}

// RemoteConfig holds configuration for remote chat-completion backends
type RemoteConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"-"`
	TimeoutStr string        `mapstructure:"timeout"` // For parsing string duration
	MaxTokens  int           `mapstructure:"max_tokens"`
}

// ContextConfig bounds the prompt context sent per request
type ContextConfig struct {
	BudgetTokens   int `mapstructure:"budget_tokens"`
	RetentionCount int `mapstructure:"retention_count"`
}

// StreamConfig controls streaming behavior
type StreamConfig struct {
	DrainIntervalMs int  `mapstructure:"drain_interval_ms"`
	RetryTransient  bool `mapstructure:"retry_transient"`
	HardTimeoutSec  int  `mapstructure:"hard_timeout_sec"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

// Global config instance
var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.quill") // Check project directory first
		viper.AddConfigPath(filepath.Join(xdgConfigHome, "quill"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("quill")
	}

	viper.SetEnvPrefix("QUILL")
	viper.AutomaticEnv()

	// Missing config file is fine; defaults and env cover everything
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := processDurations(cfg); err != nil {
		return nil, fmt.Errorf("failed to process durations: %w", err)
	}

	return cfg, nil
}

// Set replaces the global config instance (useful for testing)
func Set(c *Config) {
	cfg = c
}

func setDefaults() {
	viper.SetDefault("provider", "ollama")

	viper.SetDefault("local.context_length", 4096)
	viper.SetDefault("local.gpu_layers", 0)
	viper.SetDefault("local.server_bin", "llama-server")
	viper.SetDefault("local.port", 8188)

	viper.SetDefault("remote.timeout", "120s")
	viper.SetDefault("remote.max_tokens", 2048)

	viper.SetDefault("context.budget_tokens", 4096)
	viper.SetDefault("context.retention_count", 200)

	viper.SetDefault("stream.drain_interval_ms", 100)
	viper.SetDefault("stream.retry_transient", true)
	viper.SetDefault("stream.hard_timeout_sec", 600)

	viper.SetDefault("prompt.skill_level", "")
	viper.SetDefault("prompt.language", "")
	viper.SetDefault("prompt.history_file", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.log_file", "quill.log")
	viper.SetDefault("logging.preserve", false)
}

// processDurations converts string durations into time.Duration fields.
// Viper does not unmarshal "120s" into time.Duration on its own.
func processDurations(c *Config) error {
	if c.Remote.TimeoutStr != "" {
		d, err := time.ParseDuration(c.Remote.TimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid remote.timeout %q: %w", c.Remote.TimeoutStr, err)
		}
		c.Remote.Timeout = d
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 120 * time.Second
	}
	return nil
}

// DrainInterval returns the foreground drain cadence for streaming updates.
func (c *Config) DrainInterval() time.Duration {
	if c.Stream.DrainIntervalMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.Stream.DrainIntervalMs) * time.Millisecond
}

// HardTimeout returns the fallback timeout forcing a stuck session to fail.
func (c *Config) HardTimeout() time.Duration {
	if c.Stream.HardTimeoutSec <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Stream.HardTimeoutSec) * time.Second
}
