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
	Discord   DiscordConfig   `yaml:"discord"`
	Queue     QueueConfig     `yaml:"queue"`
	Admission AdmissionConfig `yaml:"admission"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Voice     VoiceConfig     `yaml:"voice"`
	Search    SearchConfig    `yaml:"search"`
	Radio     RadioConfig     `yaml:"radio"`
	Spotify   SpotifyConfig   `yaml:"spotify"`
}

// DiscordConfig represents Discord gateway configuration.
type DiscordConfig struct {
	Token           string `yaml:"token" validate:"required"`
	PreferredRoomID string `yaml:"preferred_room_id"`
}

// QueueConfig represents per-session queue configuration.
type QueueConfig struct {
	MaxLength int `yaml:"max_length" default:"500" validate:"gt=0"`
}

// AdmissionConfig represents the request rate limiter configuration.
// Settings are decoded by the admission package.
type AdmissionConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	RetryDelayMs int `yaml:"retry_delay_ms" default:"2000" validate:"gte=0,lte=30000"`
}

// RetryDelay returns the retry delay as a duration.
func (c PlaybackConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// VoiceConfig represents voice connection lifecycle configuration.
type VoiceConfig struct {
	GracePeriodSec int `yaml:"grace_period_sec" default:"30" validate:"gt=0"`
	JoinAttempts   int `yaml:"join_attempts" default:"5" validate:"gt=0,lte=10"`
	JoinBackoffMs  int `yaml:"join_backoff_ms" default:"500" validate:"gt=0"`
}

// GracePeriod returns the idle grace period as a duration.
func (c VoiceConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSec) * time.Second
}

// JoinBackoff returns the initial join retry backoff as a duration.
func (c VoiceConfig) JoinBackoff() time.Duration {
	return time.Duration(c.JoinBackoffMs) * time.Millisecond
}

// SearchConfig represents media search configuration.
type SearchConfig struct {
	CacheTTLSec     int     `yaml:"cache_ttl_sec" default:"300" validate:"gte=0"`
	RatePerSec      float64 `yaml:"rate_per_sec" default:"2" validate:"gt=0"`
	Burst           int     `yaml:"burst" default:"4" validate:"gt=0"`
	PreferMusicHits bool    `yaml:"prefer_music_hits"`
}

// CacheTTL returns the search cache TTL as a duration.
func (c SearchConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// RadioConfig represents radio mode configuration.
type RadioConfig struct {
	Enabled   bool             `yaml:"enabled"`
	BatchSize int              `yaml:"batch_size" default:"5" validate:"gt=0,lte=25"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig represents a single radio provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings" validate:"required"`
}

// SpotifyConfig represents Spotify API configuration. Credentials are
// only required when a playlist radio provider is configured.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// Configured reports whether API credentials are present.
func (c SpotifyConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
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
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Radio.Enabled && len(c.Radio.Providers) == 0 {
		return errors.New("radio is enabled but no providers are configured")
	}
	for i, p := range c.Radio.Providers {
		if p.Type == "playlist" && !c.Spotify.Configured() {
			return errors.Newf("radio provider %d uses playlists but spotify credentials are missing", i)
		}
	}
	return nil
}
