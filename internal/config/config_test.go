// File: internal/config/config_test.go
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
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, DriverChromedp, cfg.Browser().Driver)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, 60*time.Second, cfg.Browser().Timeout)
	assert.Equal(t, "https://grok.com", cfg.Target().URL)
	assert.Equal(t, []string{"grok.com", "x.ai"}, cfg.Target().TrustedDomains)
	assert.Equal(t, 720*time.Hour, cfg.Session().Validity)
	assert.Equal(t, 120*time.Second, cfg.Login().Timeout)
	assert.Equal(t, 600*time.Second, cfg.Login().OAuthTimeout)
	assert.Equal(t, time.Second, cfg.Login().PollInterval)
	assert.Equal(t, 600, cfg.Login().MaxTicks)
	assert.Equal(t, 8000, cfg.API().Port)
	assert.Equal(t, "@every 1m", cfg.Tasks().ReapSchedule)
	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestDerivedValues(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, "grok.com", cfg.Target().Host())
	assert.Equal(t, filepath.Join("sessions", "grok_session.json"), cfg.Session().FilePath())
	assert.Equal(t, "0.0.0.0:8000", cfg.API().Addr())

	cfg.TargetCfg.URL = "::not a url"
	assert.Empty(t, cfg.Target().Host())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"Unknown driver", func(c *Config) { c.BrowserCfg.Driver = "selenium" }, "browser.driver must be"},
		{"Zero browser timeout", func(c *Config) { c.BrowserCfg.Timeout = 0 }, "browser.timeout must be a positive duration"},
		{"Persistent without profile", func(c *Config) { c.BrowserCfg.UserDataDir = "" }, "browser.user_data_dir is required"},
		{"Relative target", func(c *Config) { c.TargetCfg.URL = "grok.com" }, "target.url must be an absolute URL"},
		{"Missing session file", func(c *Config) { c.SessionCfg.File = "" }, "session.dir and session.file are required"},
		{"Negative validity", func(c *Config) { c.SessionCfg.Validity = -time.Hour }, "session.validity must be a positive duration"},
		{"Zero poll interval", func(c *Config) { c.LoginCfg.PollInterval = 0 }, "poll_interval must be a positive duration"},
		{"Zero max ticks", func(c *Config) { c.LoginCfg.MaxTicks = 0 }, "max_ticks must be greater than 0"},
		{"Zero bootstrap rate", func(c *Config) { c.InjectionCfg.BootstrapRate = 0 }, "injection.bootstrap_rate must be positive"},
		{"Port out of range", func(c *Config) { c.APICfg.Port = 70000 }, "api.port must be between 1 and 65535"},
		{"Zero task ttl", func(c *Config) { c.TasksCfg.TTL = 0 }, "tasks.ttl must be a positive duration"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("Playwright driver is accepted", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetBrowserDriver(DriverPlaywright)
		assert.NoError(t, cfg.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  headless: true
  timeout: 15s
target:
  url: "https://example.test/app"
  trusted_domains: ["example.test"]
login:
  poll_interval: 250ms
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.True(t, cfg.Browser().Headless)
		assert.Equal(t, 15*time.Second, cfg.Browser().Timeout)
		assert.Equal(t, "example.test", cfg.Target().Host())
		assert.Equal(t, []string{"example.test"}, cfg.Target().TrustedDomains)
		assert.Equal(t, 250*time.Millisecond, cfg.Login().PollInterval)
		// Defaults survive a partial file.
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("login.max_ticks", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "max_ticks must be greater than 0")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString("api:\n  port: 9000\n")))

		t.Setenv("EVERYTHING_API_PORT", "9100")
		t.Setenv("EVERYTHING_BROWSER_DRIVER", DriverPlaywright)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		// The environment overrides the file.
		assert.Equal(t, 9100, cfg.API().Port)
		assert.Equal(t, DriverPlaywright, cfg.Browser().Driver)
	})

	t.Run("Home directory expansion", func(t *testing.T) {
		home, err := homedir.Dir()
		if err != nil {
			t.Skip("no home directory available")
		}
		v := viper.New()
		SetDefaults(v)
		v.Set("session.dir", "~/sessions")
		v.Set("browser.user_data_dir", "~/profile")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "sessions"), cfg.Session().Dir)
		assert.Equal(t, filepath.Join(home, "profile"), cfg.Browser().UserDataDir)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/app.log
injection:
  settle_wait: 500ms
  bootstrap_rate: 5
api:
  cors_origins: ["https://a.test", "https://b.test"]
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/app.log", cfg.Logger().LogFile)
	assert.Equal(t, 500*time.Millisecond, cfg.Injection().SettleWait)
	assert.Equal(t, 5.0, cfg.Injection().BootstrapRate)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.API().CORSOrigins)
}
