package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Data      DataConfig      `mapstructure:"data"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
	History   HistoryConfig   `mapstructure:"history"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DataConfig holds the user data root. Profiles live under <dir>/profiles.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// DownloadsConfig holds download queue and strategy settings.
type DownloadsConfig struct {
	FFmpegPath         string        `mapstructure:"ffmpeg_path"`
	UserAgent          string        `mapstructure:"user_agent"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	NativeStartTimeout time.Duration `mapstructure:"native_start_timeout"`
	ForceCancelDelay   time.Duration `mapstructure:"force_cancel_delay"`
	ProgressInterval   time.Duration `mapstructure:"progress_interval"`
}

// HistoryConfig holds download history retention.
type HistoryConfig struct {
	Retention   time.Duration `mapstructure:"retention"`
	CleanupCron string        `mapstructure:"cleanup_cron"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 5181,
		},
		Database: DatabaseConfig{
			Path: "./data/streamvault.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Data: DataConfig{
			Dir: "./data",
		},
		Downloads: DownloadsConfig{
			FFmpegPath:         "ffmpeg",
			UserAgent:          defaultUserAgent,
			RequestTimeout:     30 * time.Second,
			NativeStartTimeout: 30 * time.Second,
			ForceCancelDelay:   time.Second,
			ProgressInterval:   250 * time.Millisecond,
		},
		History: HistoryConfig{
			Retention:   720 * time.Hour,
			CleanupCron: "0 3 * * *",
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	// A .env file only seeds variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.streamvault")
	}

	v.SetEnvPrefix("STREAMVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", d.Logging.Path)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("data.dir", d.Data.Dir)

	v.SetDefault("downloads.ffmpeg_path", d.Downloads.FFmpegPath)
	v.SetDefault("downloads.user_agent", d.Downloads.UserAgent)
	v.SetDefault("downloads.request_timeout", d.Downloads.RequestTimeout)
	v.SetDefault("downloads.native_start_timeout", d.Downloads.NativeStartTimeout)
	v.SetDefault("downloads.force_cancel_delay", d.Downloads.ForceCancelDelay)
	v.SetDefault("downloads.progress_interval", d.Downloads.ProgressInterval)

	v.SetDefault("history.retention", d.History.Retention)
	v.SetDefault("history.cleanup_cron", d.History.CleanupCron)
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	durations := map[string]time.Duration{
		"downloads.request_timeout":      c.Downloads.RequestTimeout,
		"downloads.native_start_timeout": c.Downloads.NativeStartTimeout,
		"downloads.force_cancel_delay":   c.Downloads.ForceCancelDelay,
		"downloads.progress_interval":    c.Downloads.ProgressInterval,
		"history.retention":              c.History.Retention,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", key)
		}
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
