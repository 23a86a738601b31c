package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{
		Server:   ServerConfig{APIToken: "test-token"},
		Database: DatabaseConfig{DSN: "user:pass@tcp(localhost:3306)/music?parseTime=true"},
		Storage:  StorageConfig{Endpoint: "localhost:9000"},
	}
	require.NoError(t, defaults.Set(&cfg))
	return cfg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "missing api token",
			modify:  func(c *Config) { c.Server.APIToken = "" },
			wantErr: true,
			errMsg:  "APIToken",
		},
		{
			name:    "missing database dsn",
			modify:  func(c *Config) { c.Database.DSN = "" },
			wantErr: true,
			errMsg:  "DSN",
		},
		{
			name:    "missing storage endpoint",
			modify:  func(c *Config) { c.Storage.Endpoint = "" },
			wantErr: true,
			errMsg:  "Endpoint",
		},
		{
			name:    "unknown audio type",
			modify:  func(c *Config) { c.Audio.Type = "alsa" },
			wantErr: true,
			errMsg:  "Type",
		},
		{
			name:    "volume out of range",
			modify:  func(c *Config) { c.Player.InitialVolume = 1.5 },
			wantErr: true,
			errMsg:  "InitialVolume",
		},
		{
			name:    "zero default duration",
			modify:  func(c *Config) { c.Catalog.DefaultDurationSec = 0 },
			wantErr: true,
			errMsg:  "DefaultDurationSec",
		},
		{
			name:    "lastfm enabled without credentials",
			modify:  func(c *Config) { c.Lastfm.Enabled = true; c.Lastfm.APIKey = "key" },
			wantErr: true,
			errMsg:  "lastfm",
		},
		{
			name: "lastfm enabled with credentials",
			modify: func(c *Config) {
				c.Lastfm.Enabled = true
				c.Lastfm.APIKey = "key"
				c.Lastfm.APISecret = "secret"
				c.Lastfm.SessionKey = "session"
			},
		},
		{
			name:    "idle connections above open connections",
			modify:  func(c *Config) { c.Database.MaxIdleConns = 20 },
			wantErr: true,
			errMsg:  "max_idle_conns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(&cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  api_token: secret
database:
  dsn: "user:pass@tcp(db:3306)/music"
storage:
  endpoint: "minio:9000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 180*time.Second, cfg.Catalog.DefaultDuration())
	assert.Equal(t, 20, cfg.Catalog.TrendingLimit)
	assert.True(t, Bool(cfg.Catalog.PublishedOnly))
	assert.True(t, Bool(cfg.Library.RollbackOnFailure))
	assert.Equal(t, 20, cfg.Library.RecentlyPlayedLimit)
	assert.Equal(t, 0.8, cfg.Player.InitialVolume)
	assert.True(t, Bool(cfg.Player.RefreshOnStart))
	assert.Equal(t, time.Second, cfg.Player.SaveDebounce())
	assert.Equal(t, "clock", cfg.Audio.Type)
	assert.Equal(t, "audio", cfg.Storage.AudioBucket)
	assert.Equal(t, "covers", cfg.Storage.CoverBucket)
	assert.Equal(t, time.Hour, cfg.Storage.PresignExpiry())
	assert.Equal(t, time.Minute, cfg.Cache.TTL())
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.Lastfm.Enabled)
}

func TestLoad_ExplicitFalseIsKept(t *testing.T) {
	path := writeConfig(t, `
server:
  api_token: secret
database:
  dsn: "user:pass@tcp(db:3306)/music"
storage:
  endpoint: "minio:9000"
library:
  rollback_on_failure: false
catalog:
  published_only: false
  default_duration_sec: 240
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, Bool(cfg.Library.RollbackOnFailure))
	assert.False(t, Bool(cfg.Catalog.PublishedOnly))
	assert.Equal(t, 4*time.Minute, cfg.Catalog.DefaultDuration())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  api_token: from-file
storage:
  endpoint: "minio:9000"
`)
	t.Setenv("DATABASE_DSN", "user:pass@tcp(env:3306)/music")
	t.Setenv("API_TOKEN", "from-env")
	t.Setenv("MINIO_ACCESS_KEY", "access")
	t.Setenv("MINIO_SECRET_KEY", "secret")
	t.Setenv("LISTENER_USER_ID", "user-1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "user:pass@tcp(env:3306)/music", cfg.Database.DSN)
	assert.Equal(t, "from-env", cfg.Server.APIToken)
	assert.Equal(t, "access", cfg.Storage.AccessKey)
	assert.Equal(t, "secret", cfg.Storage.SecretKey)
	assert.Equal(t, "user-1", cfg.Listener.UserID)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "server: ["))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(writeConfig(t, "server:\n  addr: \":9090\"\n"))
	assert.ErrorContains(t, err, "config validation failed")
}

func TestConfig_EnabledFilters(t *testing.T) {
	cfg := Config{Filters: map[string]FilterConfig{
		"genre_filter":           {Enabled: true},
		"duplicate_track_filter": {Enabled: true},
		"duration_limit_filter":  {Enabled: false},
	}}

	assert.Equal(t, []string{"duplicate_track_filter", "genre_filter"}, cfg.EnabledFilters())
	assert.True(t, cfg.IsFilterEnabled("genre_filter"))
	assert.False(t, cfg.IsFilterEnabled("duration_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("unknown"))
}
