package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig
	Reader    ReaderConfig
	Prefs     PrefsConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8090"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// ReaderConfig holds the sandboxed reader configuration.
type ReaderConfig struct {
	// Root is the only directory the reader may serve from.
	Root           string        `envconfig:"READER_ROOT" default:"./docs"`
	MaxFileSize    int64         `envconfig:"READER_MAX_FILE_SIZE" default:"10485760"`
	FollowSymlinks bool          `envconfig:"READER_FOLLOW_SYMLINKS" default:"false"`
	ShowHidden     bool          `envconfig:"READER_SHOW_HIDDEN" default:"false"`
	CacheTTL       time.Duration `envconfig:"READER_CACHE_TTL" default:"2s"`
	WatchEnabled   bool          `envconfig:"READER_WATCH" default:"true"`
}

// PrefsConfig holds preference store configuration.
type PrefsConfig struct {
	Path string `envconfig:"PREFS_PATH" default:"./data/prefs.json"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Host: "0.0.0.0",
		},
		Reader: ReaderConfig{
			Root:         "./docs",
			MaxFileSize:  10 << 20,
			CacheTTL:     2 * time.Second,
			WatchEnabled: true,
		},
		Prefs: PrefsConfig{
			Path: "./data/prefs.json",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
