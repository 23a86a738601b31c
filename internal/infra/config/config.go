// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Listener ListenerConfig          `yaml:"listener"`
	Log      LogConfig               `yaml:"log"`
	Database DatabaseConfig          `yaml:"database"`
	Storage  StorageConfig           `yaml:"storage"`
	Cache    CacheConfig             `yaml:"cache"`
	Catalog  CatalogConfig           `yaml:"catalog"`
	Library  LibraryConfig           `yaml:"library"`
	Player   PlayerConfig            `yaml:"player"`
	Audio    AudioConfig             `yaml:"audio"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Lastfm   LastfmConfig            `yaml:"lastfm"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr     string      `yaml:"addr" default:":8080"`
	APIToken string      `yaml:"api_token" validate:"required"`
	Hooks    HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// ListenerConfig is the identity used when a request carries none.
type ListenerConfig struct {
	UserID string `yaml:"user_id"`
}

// LogConfig represents log file rotation configuration.
type LogConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" default:"10" validate:"gte=1"`
	MaxBackups int  `yaml:"max_backups" default:"3" validate:"gte=0"`
	MaxAgeDays int  `yaml:"max_age_days" default:"28" validate:"gte=0"`
	Compress   bool `yaml:"compress"`
}

// DatabaseConfig represents the catalog database configuration.
type DatabaseConfig struct {
	DSN                string `yaml:"dsn" validate:"required"`
	MaxOpenConns       int    `yaml:"max_open_conns" default:"10" validate:"gte=1"`
	MaxIdleConns       int    `yaml:"max_idle_conns" default:"5" validate:"gte=0"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec" default:"300" validate:"gte=0"`
	LogLevel           string `yaml:"log_level" default:"warn" validate:"oneof=silent error warn info"`
}

// StorageConfig represents object storage configuration.
type StorageConfig struct {
	Endpoint         string `yaml:"endpoint" validate:"required"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	Region           string `yaml:"region"`
	UseSSL           bool   `yaml:"use_ssl"`
	AudioBucket      string `yaml:"audio_bucket" default:"audio"`
	CoverBucket      string `yaml:"cover_bucket" default:"covers"`
	PublicBaseURL    string `yaml:"public_base_url" validate:"omitempty,url"`
	Presign          bool   `yaml:"presign"`
	PresignExpirySec int    `yaml:"presign_expiry_sec" default:"3600" validate:"gte=60,lte=604800"`
}

// CacheConfig represents the query cache configuration.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	TTLSec   int    `yaml:"ttl_sec" default:"60" validate:"gte=1"`
}

// CatalogConfig represents catalog query configuration.
type CatalogConfig struct {
	DefaultDurationSec int    `yaml:"default_duration_sec" default:"180" validate:"gte=1"`
	PlaceholderCover   string `yaml:"placeholder_cover" validate:"omitempty,url"`
	TrendingLimit      int    `yaml:"trending_limit" default:"20" validate:"gte=1,lte=200"`
	NewReleaseLimit    int    `yaml:"new_release_limit" default:"20" validate:"gte=1,lte=200"`
	SearchLimit        int    `yaml:"search_limit" default:"50" validate:"gte=1,lte=500"`
	PublishedOnly      *bool  `yaml:"published_only" default:"true"`
	TimeoutSec         int    `yaml:"timeout_sec" default:"10" validate:"gte=1"`
}

// LibraryConfig represents like and playlist mutation configuration.
type LibraryConfig struct {
	RollbackOnFailure   *bool `yaml:"rollback_on_failure" default:"true"`
	RecentlyPlayedLimit int   `yaml:"recently_played_limit" default:"20" validate:"gte=1,lte=100"`
}

// PlayerConfig represents player configuration.
type PlayerConfig struct {
	InitialVolume    float64 `yaml:"initial_volume" default:"0.8" validate:"gte=0,lte=1"`
	RefreshOnStart   *bool   `yaml:"refresh_on_start" default:"true"`
	SessionDB        string  `yaml:"session_db" default:"19tune.db"`
	SaveDebounceMs   int     `yaml:"save_debounce_ms" default:"1000" validate:"gte=0,lte=60000"`
	RemoteTimeoutSec int     `yaml:"remote_timeout_sec" default:"10" validate:"gte=1"`
}

// AudioConfig selects and configures the output device.
type AudioConfig struct {
	Type     string         `yaml:"type" default:"clock" validate:"oneof=clock speaker"`
	Settings map[string]any `yaml:"settings"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// LastfmConfig represents Last.fm scrobbling configuration.
type LastfmConfig struct {
	Enabled          bool   `yaml:"enabled"`
	APIKey           string `yaml:"api_key"`
	APISecret        string `yaml:"api_secret"`
	SessionKey       string `yaml:"session_key"`
	BaseURL          string `yaml:"base_url" default:"https://ws.audioscrobbler.com/2.0/" validate:"url"`
	RetryIntervalSec int    `yaml:"retry_interval_sec" default:"300" validate:"gte=10"`
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
	env := map[string]*string{
		"DATABASE_DSN":       &c.Database.DSN,
		"MINIO_ACCESS_KEY":   &c.Storage.AccessKey,
		"MINIO_SECRET_KEY":   &c.Storage.SecretKey,
		"REDIS_PASSWORD":     &c.Cache.Password,
		"LASTFM_API_KEY":     &c.Lastfm.APIKey,
		"LASTFM_API_SECRET":  &c.Lastfm.APISecret,
		"LASTFM_SESSION_KEY": &c.Lastfm.SessionKey,
		"API_TOKEN":          &c.Server.APIToken,
		"LISTENER_USER_ID":   &c.Listener.UserID,
	}
	for key, field := range env {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Lastfm.Enabled {
		if c.Lastfm.APIKey == "" || c.Lastfm.APISecret == "" || c.Lastfm.SessionKey == "" {
			return errors.New("lastfm requires api_key, api_secret and session_key when enabled")
		}
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return errors.Newf("database max_idle_conns (%d) must not exceed max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// EnabledFilters returns the names of enabled filters in a stable order.
func (c *Config) EnabledFilters() []string {
	names := make([]string, 0, len(c.Filters))
	for name, f := range c.Filters {
		if f.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DefaultDuration is used for catalog rows without a duration.
func (c CatalogConfig) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationSec) * time.Second
}

// Timeout bounds a single catalog call.
func (c CatalogConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// TTL is the lifetime of a cached query result.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// PresignExpiry is the lifetime of a presigned URL.
func (c StorageConfig) PresignExpiry() time.Duration {
	return time.Duration(c.PresignExpirySec) * time.Second
}

// ConnMaxLifetime is the maximum lifetime of a pooled connection.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSec) * time.Second
}

// SaveDebounce is the delay before a session change is written.
func (c PlayerConfig) SaveDebounce() time.Duration {
	return time.Duration(c.SaveDebounceMs) * time.Millisecond
}

// RemoteTimeout bounds fire-and-forget remote calls.
func (c PlayerConfig) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutSec) * time.Second
}

// RetryInterval is the delay between pending scrobble retries.
func (c LastfmConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSec) * time.Second
}

// Bool dereferences a *bool setting.
func Bool(b *bool) bool {
	return b != nil && *b
}
