// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. EVERYTHING_BROWSER_HEADLESS.
const EnvPrefix = "EVERYTHING"

// Supported automation drivers.
const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Target() TargetConfig
	Session() SessionConfig
	Login() LoginConfig
	Injection() InjectionConfig
	API() APIConfig
	Tasks() TasksConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserDriver(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	TargetCfg    TargetConfig    `mapstructure:"target" yaml:"target"`
	SessionCfg   SessionConfig   `mapstructure:"session" yaml:"session"`
	LoginCfg     LoginConfig     `mapstructure:"login" yaml:"login"`
	InjectionCfg InjectionConfig `mapstructure:"injection" yaml:"injection"`
	APICfg       APIConfig       `mapstructure:"api" yaml:"api"`
	TasksCfg     TasksConfig     `mapstructure:"tasks" yaml:"tasks"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Target() TargetConfig       { return c.TargetCfg }
func (c *Config) Session() SessionConfig     { return c.SessionCfg }
func (c *Config) Login() LoginConfig         { return c.LoginCfg }
func (c *Config) Injection() InjectionConfig { return c.InjectionCfg }
func (c *Config) API() APIConfig             { return c.APICfg }
func (c *Config) Tasks() TasksConfig         { return c.TasksCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserDriver(d string) { c.BrowserCfg.Driver = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the automated browser.
type BrowserConfig struct {
	Driver          string         `mapstructure:"driver" yaml:"driver"`
	Type            string         `mapstructure:"type" yaml:"type"`
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	Timeout         time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	UserDataDir     string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Persistent      bool           `mapstructure:"persistent" yaml:"persistent"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
}

// ViewportConfig is the window size for new pages.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// TargetConfig describes the application whose session is managed.
type TargetConfig struct {
	URL            string   `mapstructure:"url" yaml:"url"`
	TrustedDomains []string `mapstructure:"trusted_domains" yaml:"trusted_domains"`
	// Optional overrides for the login heuristics. Empty means built-in defaults.
	AppSelectors       []string `mapstructure:"app_selectors" yaml:"app_selectors"`
	AuthCookieKeywords []string `mapstructure:"auth_cookie_keywords" yaml:"auth_cookie_keywords"`
}

// Host returns the hostname of the target URL.
func (t TargetConfig) Host() string {
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SessionConfig locates the durable session artifacts.
type SessionConfig struct {
	Dir         string        `mapstructure:"dir" yaml:"dir"`
	File        string        `mapstructure:"file" yaml:"file"`
	Validity    time.Duration `mapstructure:"validity" yaml:"validity"`
	CookieFile  string        `mapstructure:"cookie_file" yaml:"cookie_file"`
	BrowserType string        `mapstructure:"browser_type" yaml:"browser_type"`
}

// FilePath is the full path of the session record.
func (s SessionConfig) FilePath() string {
	return filepath.Join(s.Dir, s.File)
}

// LoginConfig tunes the interactive login flows.
type LoginConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	OAuthTimeout    time.Duration `mapstructure:"oauth_timeout" yaml:"oauth_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxTicks        int           `mapstructure:"max_ticks" yaml:"max_ticks"`
	ProgressEvery   int           `mapstructure:"progress_every" yaml:"progress_every"`
	DefaultProvider string        `mapstructure:"default_provider" yaml:"default_provider"`
}

// InjectionConfig tunes cookie injection.
type InjectionConfig struct {
	SettleWait        time.Duration `mapstructure:"settle_wait" yaml:"settle_wait"`
	BootstrapRate     float64       `mapstructure:"bootstrap_rate" yaml:"bootstrap_rate"`
	BootstrapBurst    int           `mapstructure:"bootstrap_burst" yaml:"bootstrap_burst"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// APIConfig configures the HTTP service.
type APIConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Mode            string        `mapstructure:"mode" yaml:"mode"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr is the listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// TasksConfig controls background task bookkeeping.
type TasksConfig struct {
	ReapSchedule string        `mapstructure:"reap_schedule" yaml:"reap_schedule"`
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "every-thing-api")
	v.SetDefault("logger.log_file", "logs/every-thing-api.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.type", "chromium")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.timeout", "60s")
	v.SetDefault("browser.user_data_dir", "data/oauth_profile")
	v.SetDefault("browser.persistent", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 800)

	// -- Target --
	v.SetDefault("target.url", "https://grok.com")
	v.SetDefault("target.trusted_domains", []string{"grok.com", "x.ai"})

	// -- Session --
	v.SetDefault("session.dir", "sessions")
	v.SetDefault("session.file", "grok_session.json")
	v.SetDefault("session.validity", "720h")
	v.SetDefault("session.cookie_file", "data/grok_cookies.json")
	v.SetDefault("session.browser_type", "chromium")

	// -- Login --
	v.SetDefault("login.timeout", "120s")
	v.SetDefault("login.oauth_timeout", "600s")
	v.SetDefault("login.poll_interval", "1s")
	v.SetDefault("login.max_ticks", 600)
	v.SetDefault("login.progress_every", 30)
	v.SetDefault("login.default_provider", "google")

	// -- Injection --
	v.SetDefault("injection.settle_wait", "3s")
	v.SetDefault("injection.bootstrap_rate", 2.0)
	v.SetDefault("injection.bootstrap_burst", 1)
	v.SetDefault("injection.navigation_timeout", "30s")

	// -- API --
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8000)
	v.SetDefault("api.mode", "release")
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.shutdown_timeout", "10s")

	// -- Tasks --
	v.SetDefault("tasks.reap_schedule", "@every 1m")
	v.SetDefault("tasks.ttl", "30m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in every filesystem path.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.LoggerCfg.LogFile,
		&c.BrowserCfg.UserDataDir,
		&c.SessionCfg.Dir,
		&c.SessionCfg.CookieFile,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.BrowserCfg.Driver {
	case DriverChromedp, DriverPlaywright:
	default:
		return fmt.Errorf("browser.driver must be %q or %q", DriverChromedp, DriverPlaywright)
	}
	if c.BrowserCfg.Timeout <= 0 {
		return fmt.Errorf("browser.timeout must be a positive duration")
	}
	if c.BrowserCfg.Persistent && c.BrowserCfg.UserDataDir == "" {
		return fmt.Errorf("browser.user_data_dir is required when browser.persistent is set")
	}
	u, err := url.Parse(c.TargetCfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target.url must be an absolute URL")
	}
	if c.SessionCfg.Dir == "" || c.SessionCfg.File == "" {
		return fmt.Errorf("session.dir and session.file are required")
	}
	if c.SessionCfg.Validity <= 0 {
		return fmt.Errorf("session.validity must be a positive duration")
	}
	if err := c.LoginCfg.Validate(); err != nil {
		return fmt.Errorf("login configuration invalid: %w", err)
	}
	if c.InjectionCfg.BootstrapRate <= 0 {
		return fmt.Errorf("injection.bootstrap_rate must be positive")
	}
	if c.APICfg.Port <= 0 || c.APICfg.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}
	if c.TasksCfg.TTL <= 0 {
		return fmt.Errorf("tasks.ttl must be a positive duration")
	}
	return nil
}

// Validate checks the LoginConfig settings.
func (l *LoginConfig) Validate() error {
	if l.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if l.MaxTicks <= 0 {
		return fmt.Errorf("max_ticks must be greater than 0")
	}
	if l.Timeout <= 0 || l.OAuthTimeout <= 0 {
		return fmt.Errorf("timeout and oauth_timeout must be positive durations")
	}
	return nil
}
