package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Root    string        `mapstructure:"root"`
	Plan    PlanConfig    `mapstructure:"plan"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Health  HealthConfig  `mapstructure:"health"`
	History HistoryConfig `mapstructure:"history"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Report  ReportConfig  `mapstructure:"report"`
	Log     LogConfig     `mapstructure:"log"`
}

// PlanConfig selects the plan document.
type PlanConfig struct {
	// File is the plan YAML path. Empty means the built-in default plan.
	File string `mapstructure:"file"`
}

// DockerConfig holds container engine configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`

	// Verify enables post-launch container verification via the engine
	// API. When the daemon is unreachable the run degrades to compose up
	// without verification.
	Verify bool `mapstructure:"verify"`
}

// HealthConfig holds health checker configuration.
type HealthConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// HistoryConfig holds run-history persistence configuration.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// RemoteConfig holds SSH execution configuration. When Host is set, all
// steps run on the remote host instead of locally.
type RemoteConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	KeyFile        string        `mapstructure:"key_file"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// ReportConfig holds report server configuration.
type ReportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("root", ".")
	v.SetDefault("plan.file", "")
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.verify", true)
	v.SetDefault("health.max_concurrent", 5)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "./data/rampup.db")
	v.SetDefault("remote.host", "")
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.user", "root")
	v.SetDefault("remote.key_file", "")
	v.SetDefault("remote.connect_timeout", "10s")
	v.SetDefault("report.read_timeout", "30s")
	v.SetDefault("report.write_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("RAMPUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
