// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Spotify  SpotifyConfig  `yaml:"spotify"`
	Logging  LoggingConfig  `yaml:"logging"`
	Pacing   PacingConfig   `yaml:"pacing"`
	Backup   BackupConfig   `yaml:"backup"`
	Weights  WeightsConfig  `yaml:"weights"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Jobs     []JobConfig    `yaml:"jobs" validate:"dive"`
}

// SpotifyConfig represents Spotify API configuration.
// The refresh token may be omitted when the credentials file written by
// shufflebox-auth holds one.
type SpotifyConfig struct {
	ClientID        string `yaml:"client_id" validate:"required"`
	ClientSecret    string `yaml:"client_secret" validate:"required"`
	RefreshToken    string `yaml:"refresh_token"`
	CredentialsPath string `yaml:"credentials_path" default:"data/credentials.json" validate:"required_without=RefreshToken"`
	Market          string `yaml:"market" validate:"omitempty,len=2"`
}

// LoggingConfig represents logging configuration. Command-line flags take precedence.
type LoggingConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File  string `yaml:"file"`
}

// PacingConfig represents the minimum spacing between playlist service calls.
type PacingConfig struct {
	BatchDelayMs int `yaml:"batch_delay_ms" default:"2000" validate:"gte=0,lte=60000"`
	FetchDelayMs int `yaml:"fetch_delay_ms" default:"2000" validate:"gte=0,lte=60000"`
}

// BatchDelay returns the spacing between add/remove batches.
func (p PacingConfig) BatchDelay() time.Duration {
	return time.Duration(p.BatchDelayMs) * time.Millisecond
}

// FetchDelay returns the spacing between read calls.
func (p PacingConfig) FetchDelay() time.Duration {
	return time.Duration(p.FetchDelayMs) * time.Millisecond
}

// BackupConfig represents where playlist backups are written.
type BackupConfig struct {
	Dir string `yaml:"dir" default:"data/backups" validate:"required"`
}

// WeightsConfig represents the track weight store.
type WeightsConfig struct {
	Driver string `yaml:"driver" default:"file" validate:"oneof=file sqlite"`
	Path   string `yaml:"path" default:"data/weights/KnownTrackWeights.json" validate:"required"`
}

// ScheduleConfig represents the daily trigger used by the daemon.
type ScheduleConfig struct {
	RunAt    string `yaml:"run_at" default:"03:00" validate:"required"`
	Timezone string `yaml:"timezone" default:"Local"`
}

// JobConfig represents a single job run on every trigger.
type JobConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=merge shuffle"`
	Name     string         `yaml:"name" validate:"required"`
	Settings map[string]any `yaml:"settings" validate:"required"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if _, _, err := c.Schedule.ParseRunAt(); err != nil {
		return err
	}
	if _, err := c.Schedule.Location(); err != nil {
		return err
	}

	// Job names identify runs in logs
	seen := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		if seen[j.Name] {
			return errors.Newf("duplicate job name: %s", j.Name)
		}
		seen[j.Name] = true
	}

	return nil
}

// ParseRunAt returns the hour and minute of the daily trigger.
func (s ScheduleConfig) ParseRunAt() (int, int, error) {
	t, err := time.Parse("15:04", s.RunAt)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to parse run_at %q (expected HH:MM)", s.RunAt)
	}
	return t.Hour(), t.Minute(), nil
}

// Location returns the time zone the daily trigger is evaluated in.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load timezone %q", s.Timezone)
	}
	return loc, nil
}
