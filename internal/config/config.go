package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	YouTube   YouTubeConfig   `mapstructure:"youtube"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite
	DSN    string `mapstructure:"dsn"`    // Connection string
}

// AnthropicConfig holds Claude API settings for the extraction engine
type AnthropicConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// YouTubeConfig holds YouTube Data API settings for the discovery probe.
// When APIKey is empty, discovery falls back to parsing channel RSS feeds.
type YouTubeConfig struct {
	APIKey        string `mapstructure:"api_key"`
	MaxResults    int64  `mapstructure:"max_results"`
	TranscriptURL string `mapstructure:"transcript_url"` // transcript service base URL
}

// SchedulerConfig holds subscription scheduler settings
type SchedulerConfig struct {
	TickCron       string `mapstructure:"tick_cron"`       // how often due subscriptions are checked
	ProbeTimeoutSec int   `mapstructure:"probe_timeout_sec"` // per-subscription discovery timeout
}

// WorkerConfig holds pipeline worker settings
type WorkerConfig struct {
	MaxAttempts       int `mapstructure:"max_attempts"`        // retry budget for new queue items
	ExtractTimeoutMin int `mapstructure:"extract_timeout_min"` // extraction call timeout
	PollIntervalSec   int `mapstructure:"poll_interval_sec"`   // fallback poll when idle
}

// APIConfig holds control API server settings
type APIConfig struct {
	Port      string `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"` // empty disables auth
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in current directory and configs folder
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		// Also check user's home directory
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".eatcast"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("EATCAST")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("anthropic.api_key", "EATCAST_ANTHROPIC_API_KEY")
	v.BindEnv("youtube.api_key", "EATCAST_YOUTUBE_API_KEY")
	v.BindEnv("youtube.transcript_url", "EATCAST_YOUTUBE_TRANSCRIPT_URL")
	v.BindEnv("database.driver", "EATCAST_DATABASE_DRIVER")
	v.BindEnv("database.dsn", "EATCAST_DATABASE_DSN")
	v.BindEnv("api.port", "EATCAST_API_PORT")
	v.BindEnv("api.access_key", "EATCAST_API_ACCESS_KEY")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/eatcast.db")

	// Anthropic defaults
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.2)

	// YouTube defaults
	v.SetDefault("youtube.max_results", 10)
	v.SetDefault("youtube.transcript_url", "")

	// Scheduler defaults
	v.SetDefault("scheduler.tick_cron", "* * * * *") // every minute
	v.SetDefault("scheduler.probe_timeout_sec", 60)

	// Worker defaults
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.extract_timeout_min", 10)
	v.SetDefault("worker.poll_interval_sec", 15)

	// API defaults
	v.SetDefault("api.port", "8080")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic.api_key is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	return nil
}
