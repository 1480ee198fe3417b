// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config holds all service configuration, bound from AURALIS_* environment
// variables.
type Config struct {
	Addr        string `envconfig:"ADDR" default:":8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	SpotifyClientID     string `envconfig:"SPOTIFY_CLIENT_ID" required:"true"`
	SpotifyClientSecret string `envconfig:"SPOTIFY_CLIENT_SECRET" required:"true"`
	SpotifyRedirectURL  string `envconfig:"SPOTIFY_REDIRECT_URL" required:"true"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" required:"true"`

	SyncInterval     time.Duration `envconfig:"SYNC_INTERVAL" default:"30m"`
	SyncInitialDelay time.Duration `envconfig:"SYNC_INITIAL_DELAY" default:"60s"`
	TokenSweepPeriod time.Duration `envconfig:"TOKEN_SWEEP_PERIOD" default:"30m"`
	TokenSweepWindow time.Duration `envconfig:"TOKEN_SWEEP_WINDOW" default:"15m"`
	SyncUserTimeout  time.Duration `envconfig:"SYNC_USER_TIMEOUT" default:"5m"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
	Timezone  string `envconfig:"TIMEZONE" default:"UTC"`
}

// Load reads a .env file when present, then binds the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("AURALIS", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	return &cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// NewLogger builds the service logger from config.
func (c *Config) NewLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if c.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "auralis").Logger()
}
