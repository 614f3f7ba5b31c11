package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cookiekeeper/internal/policy"
)

// -- Constructor and Defaults Tests --

func TestDefaultMaxAgeFitsDailySchedule(t *testing.T) {
	cfg := NewDefaultConfig()
	p := policy.New(cfg.Refresh.MaxAge)
	fetched := time.Date(2025, 3, 29, 4, 0, 0, 120_000_000, time.UTC)

	// The next @daily tick fires a little early relative to the previous
	// run's fetch time, and a DST change can make the day 23h long.
	assert.True(t, p.Due(fetched.Add(24*time.Hour-150*time.Millisecond), fetched))
	assert.True(t, p.Due(fetched.Add(23*time.Hour), fetched))
	assert.False(t, p.Due(fetched.Add(12*time.Hour), fetched))
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 23*time.Hour, cfg.Refresh.MaxAge)
	assert.Equal(t, "@daily", cfg.Refresh.Schedule)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, []string{"__Secure-3PAPISID", "__Secure-3PSID", "__Secure-3PSIDCC"}, cfg.Browser.ExcludedCookies)
	assert.Len(t, cfg.Browser.WarmUpPages, 4)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.Field)
	assert.Equal(t, "YOUTUBE_COOKIES_B64", cfg.Publish.EnvKey)
	assert.Equal(t, "djvlad", cfg.Service.Unit)
	assert.True(t, cfg.Service.UseSudo)
	assert.Empty(t, cfg.Identity.Account)

	// Defaults alone are a valid configuration.
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cases := map[string]struct {
			mutate func(*Config)
			want   string
		}{
			"zero max age":        {func(c *Config) { c.Refresh.MaxAge = 0 }, "refresh.max_age must be a positive duration"},
			"zero run timeout":    {func(c *Config) { c.Refresh.RunTimeout = 0 }, "refresh.run_timeout must be a positive duration"},
			"missing lock file":   {func(c *Config) { c.Refresh.LockFile = "" }, "refresh.lock_file is required"},
			"missing env key":     {func(c *Config) { c.Publish.EnvKey = "" }, "publish.env_key are required"},
			"negative chunk size": {func(c *Config) { c.Publish.ChunkSize = -1 }, "publish.chunk_size must not be negative"},
			"missing unit":        {func(c *Config) { c.Service.Unit = "" }, "service.unit is required"},
			"unbounded field":     {func(c *Config) { c.Timeouts.Field = 0 }, "field must be a positive duration"},
			"no success pattern":  {func(c *Config) { c.Browser.SuccessURLPatterns = nil }, "success_url_pattern"},
			"blank cookie domain": {func(c *Config) { c.Browser.CookieDomains = []string{" "} }, "cookie_domains must not contain empty entries"},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				cfg := NewDefaultConfig()
				tc.mutate(cfg)
				err := cfg.Validate()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.want)
			})
		}
	})

	t.Run("Identity Validation", func(t *testing.T) {
		assert.NoError(t, IdentityConfig{Account: "dj@example.com", Secret: "hunter2"}.Validate())
		assert.Error(t, IdentityConfig{Account: "dj@example.com"}.Validate())
		assert.Error(t, IdentityConfig{Account: "  ", Secret: "hunter2"}.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
refresh:
  max_age: 12h
publish:
  env_file: /srv/bot/.env
  chunk_size: 4000
service:
  unit: musicbot
  use_sudo: false
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 12*time.Hour, cfg.Refresh.MaxAge)
		assert.Equal(t, "/srv/bot/.env", cfg.Publish.EnvFile)
		assert.Equal(t, 4000, cfg.Publish.ChunkSize)
		assert.Equal(t, "musicbot", cfg.Service.Unit)
		assert.False(t, cfg.Service.UseSudo)
		// Check a default value was also loaded
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("refresh.max_age", "0s")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("Identity From Bot Environment Names", func(t *testing.T) {
		t.Setenv("YOUTUBE_EMAIL", "dj@example.com")
		t.Setenv("YOUTUBE_PASSWORD", "from-bot-env")

		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "dj@example.com", cfg.Identity.Account)
		assert.Equal(t, "from-bot-env", cfg.Identity.Secret)
	})

	t.Run("Prefixed Identity Takes Precedence", func(t *testing.T) {
		t.Setenv("YOUTUBE_EMAIL", "bot@example.com")
		t.Setenv("COOKIEKEEPER_IDENTITY_ACCOUNT", "keeper@example.com")

		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "keeper@example.com", cfg.Identity.Account)
	})

	t.Run("Home Paths Are Expanded", func(t *testing.T) {
		home, err := homedir.Dir()
		require.NoError(t, err)

		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".cookiekeeper"), cfg.Store.StateDir)
		assert.Equal(t, filepath.Join(home, ".cookiekeeper", "refresh.lock"), cfg.Refresh.LockFile)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/cookiekeeper.log
timeouts:
  navigation: 5s
browser:
  excluded_cookies: ["NID"]
  cookie_domains: ["youtube.com"]
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/var/log/cookiekeeper.log", cfg.Logger.LogFile)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Navigation)
	assert.Equal(t, []string{"NID"}, cfg.Browser.ExcludedCookies)
	assert.Equal(t, []string{"youtube.com"}, cfg.Browser.CookieDomains)
	// Untouched sections keep their defaults.
	assert.Equal(t, "djvlad", cfg.Service.Unit)
}
