// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Refresh  RefreshConfig  `mapstructure:"refresh" yaml:"refresh"`
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Publish  PublishConfig  `mapstructure:"publish" yaml:"publish"`
	Service  ServiceConfig  `mapstructure:"service" yaml:"service"`
}

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

// RefreshConfig controls when a refresh is due and how long one may take.
type RefreshConfig struct {
	MaxAge     time.Duration `mapstructure:"max_age" yaml:"max_age"`
	RunTimeout time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	LockFile   string        `mapstructure:"lock_file" yaml:"lock_file"`
	// Schedule is a cron expression used by the daemon command.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	// RequiredCookies are checked after extraction and by the status command.
	RequiredCookies []string `mapstructure:"required_cookies" yaml:"required_cookies"`
}

// IdentityConfig is the login identity. It is read from the environment or
// config and never written anywhere.
type IdentityConfig struct {
	Account string `mapstructure:"account" yaml:"account"`
	Secret  string `mapstructure:"secret" yaml:"-"`
}

// BrowserConfig holds settings for the automated browser and the login flow
// it drives.
type BrowserConfig struct {
	Headless  bool     `mapstructure:"headless" yaml:"headless"`
	NoSandbox bool     `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	ExecPath  string   `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Locale    string   `mapstructure:"locale" yaml:"locale"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	Args      []string `mapstructure:"args" yaml:"args"`

	LoginURL           string `mapstructure:"login_url" yaml:"login_url"`
	IdentifierSelector string `mapstructure:"identifier_selector" yaml:"identifier_selector"`
	IdentifierNext     string `mapstructure:"identifier_next" yaml:"identifier_next"`
	PasswordSelector   string `mapstructure:"password_selector" yaml:"password_selector"`
	PasswordNext       string `mapstructure:"password_next" yaml:"password_next"`

	// SuccessURLPatterns mark the end of a completed login. Any substring match counts.
	SuccessURLPatterns   []string `mapstructure:"success_url_patterns" yaml:"success_url_patterns"`
	ChallengeURLPatterns []string `mapstructure:"challenge_url_patterns" yaml:"challenge_url_patterns"`
	ChallengeSelectors   []string `mapstructure:"challenge_selectors" yaml:"challenge_selectors"`

	WarmUpPages     []string `mapstructure:"warm_up_pages" yaml:"warm_up_pages"`
	ExcludedCookies []string `mapstructure:"excluded_cookies" yaml:"excluded_cookies"`
	// CookieDomains are registrable domains whose cookies are kept.
	CookieDomains []string `mapstructure:"cookie_domains" yaml:"cookie_domains"`
}

// TimeoutsConfig bounds every wait the browser session performs.
type TimeoutsConfig struct {
	Navigation     time.Duration `mapstructure:"navigation" yaml:"navigation"`
	Login          time.Duration `mapstructure:"login" yaml:"login"`
	Field          time.Duration `mapstructure:"field" yaml:"field"`
	PostLogin      time.Duration `mapstructure:"post_login" yaml:"post_login"`
	PostLoadWait   time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	WarmUpInterval time.Duration `mapstructure:"warm_up_interval" yaml:"warm_up_interval"`
	Close          time.Duration `mapstructure:"close" yaml:"close"`
}

// StoreConfig locates the artifact record and its diagnostic copies.
// Relative file names are resolved against StateDir.
type StoreConfig struct {
	StateDir    string `mapstructure:"state_dir" yaml:"state_dir"`
	RecordFile  string `mapstructure:"record_file" yaml:"record_file"`
	CookiesFile string `mapstructure:"cookies_file" yaml:"cookies_file"`
	EncodedFile string `mapstructure:"encoded_file" yaml:"encoded_file"`
}

// PublishConfig describes the env file the bot reads at startup.
type PublishConfig struct {
	EnvFile   string `mapstructure:"env_file" yaml:"env_file"`
	EnvKey    string `mapstructure:"env_key" yaml:"env_key"`
	ChunkSize int    `mapstructure:"chunk_size" yaml:"chunk_size"`
}

// ServiceConfig identifies the supervised bot process.
type ServiceConfig struct {
	Unit    string        `mapstructure:"unit" yaml:"unit"`
	UseSudo bool          `mapstructure:"use_sudo" yaml:"use_sudo"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults registers every default value with viper.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cookiekeeper")
	v.SetDefault("logger.log_file", "~/.cookiekeeper/cookiekeeper.log")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 90)
	v.SetDefault("logger.compress", true)

	// -- Refresh --
	// An hour short of the daily schedule so a late tick or a short DST day
	// still finds the artifact due.
	v.SetDefault("refresh.max_age", "23h")
	v.SetDefault("refresh.run_timeout", "10m")
	v.SetDefault("refresh.lock_file", "~/.cookiekeeper/refresh.lock")
	v.SetDefault("refresh.schedule", "@daily")
	v.SetDefault("refresh.required_cookies", []string{"LOGIN_INFO", "SID", "HSID", "SSID", "VISITOR_INFO1_LIVE"})

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "America/New_York")
	v.SetDefault("browser.login_url", "https://accounts.google.com/signin/v2/identifier?service=youtube")
	v.SetDefault("browser.identifier_selector", `input[name="identifier"]`)
	v.SetDefault("browser.identifier_next", "#identifierNext")
	v.SetDefault("browser.password_selector", `input[name="Passwd"], input[type="password"]`)
	v.SetDefault("browser.password_next", "#passwordNext")
	v.SetDefault("browser.success_url_patterns", []string{"myaccount.google.com", "youtube.com"})
	// The password page itself lives under /challenge/pwd, so only the
	// interactive challenges are listed.
	v.SetDefault("browser.challenge_url_patterns", []string{
		"/challenge/totp", "/challenge/ipp", "/challenge/az", "/challenge/dp", "/challenge/sk",
		"/challenge/iap", "/challenge/selection", "/challenge/recaptcha",
		"/signin/rejected", "/speedbump", "/deniedsigninrejected",
	})
	v.SetDefault("browser.challenge_selectors", []string{"#captchaimg", `iframe[src*="recaptcha"]`, `input[name="totpPin"]`, `input[name="idvPin"]`})
	v.SetDefault("browser.warm_up_pages", []string{
		"https://www.youtube.com/",
		"https://www.youtube.com/feed/trending",
		"https://www.youtube.com/feed/subscriptions",
		"https://www.youtube.com/feed/history",
	})
	v.SetDefault("browser.excluded_cookies", []string{"__Secure-3PAPISID", "__Secure-3PSID", "__Secure-3PSIDCC"})
	v.SetDefault("browser.cookie_domains", []string{"youtube.com", "google.com"})

	// -- Timeouts --
	v.SetDefault("timeouts.navigation", "60s")
	v.SetDefault("timeouts.login", "3m")
	v.SetDefault("timeouts.field", "20s")
	v.SetDefault("timeouts.post_login", "60s")
	v.SetDefault("timeouts.post_load_wait", "3s")
	v.SetDefault("timeouts.warm_up_interval", "3s")
	v.SetDefault("timeouts.close", "10s")

	// -- Store --
	v.SetDefault("store.state_dir", "~/.cookiekeeper")
	v.SetDefault("store.record_file", "artifact.json")
	v.SetDefault("store.cookies_file", "youtube_cookies.txt")
	v.SetDefault("store.encoded_file", "youtube_cookies.b64")

	// -- Publish --
	v.SetDefault("publish.env_file", ".env")
	v.SetDefault("publish.env_key", "YOUTUBE_COOKIES_B64")
	v.SetDefault("publish.chunk_size", 0)

	// -- Service --
	v.SetDefault("service.unit", "djvlad")
	v.SetDefault("service.use_sudo", true)
	v.SetDefault("service.timeout", "30s")
}

// BindEnv binds the identity keys to their prefixed names and to the plain
// names the bot's own .env file uses.
func BindEnv(v *viper.Viper) error {
	if err := v.BindEnv("identity.account", "COOKIEKEEPER_IDENTITY_ACCOUNT", "YOUTUBE_EMAIL"); err != nil {
		return err
	}
	return v.BindEnv("identity.secret", "COOKIEKEEPER_IDENTITY_SECRET", "YOUTUBE_PASSWORD")
}

// NewDefaultConfig returns a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// NewConfigFromViper creates a new configuration instance from a viper object,
// expands home-relative paths and validates the result.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := BindEnv(v); err != nil {
		return nil, fmt.Errorf("error binding environment: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Logger.LogFile,
		&c.Refresh.LockFile,
		&c.Store.StateDir,
		&c.Store.RecordFile,
		&c.Store.CookiesFile,
		&c.Store.EncodedFile,
		&c.Publish.EnvFile,
		&c.Browser.ExecPath,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
// Identity is not checked here; only commands that log in need it.
func (c *Config) Validate() error {
	if c.Refresh.MaxAge <= 0 {
		return fmt.Errorf("refresh.max_age must be a positive duration")
	}
	if c.Refresh.RunTimeout <= 0 {
		return fmt.Errorf("refresh.run_timeout must be a positive duration")
	}
	if c.Refresh.LockFile == "" {
		return fmt.Errorf("refresh.lock_file is required")
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("timeouts configuration invalid: %w", err)
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if c.Store.StateDir == "" || c.Store.RecordFile == "" {
		return fmt.Errorf("store.state_dir and store.record_file are required")
	}
	if c.Publish.EnvFile == "" || c.Publish.EnvKey == "" {
		return fmt.Errorf("publish.env_file and publish.env_key are required")
	}
	if c.Publish.ChunkSize < 0 {
		return fmt.Errorf("publish.chunk_size must not be negative")
	}
	if c.Service.Unit == "" {
		return fmt.Errorf("service.unit is required")
	}
	if c.Service.Timeout <= 0 {
		return fmt.Errorf("service.timeout must be a positive duration")
	}
	return nil
}

// Validate checks that every browser wait is bounded.
func (t *TimeoutsConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"navigation": t.Navigation,
		"login":      t.Login,
		"field":      t.Field,
		"post_login": t.PostLogin,
		"close":      t.Close,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if t.PostLoadWait < 0 || t.WarmUpInterval < 0 {
		return fmt.Errorf("post_load_wait and warm_up_interval must not be negative")
	}
	return nil
}

// Validate checks the login flow description.
func (b *BrowserConfig) Validate() error {
	if b.LoginURL == "" {
		return fmt.Errorf("login_url is required")
	}
	if b.IdentifierSelector == "" || b.PasswordSelector == "" {
		return fmt.Errorf("identifier_selector and password_selector are required")
	}
	if len(b.SuccessURLPatterns) == 0 {
		return fmt.Errorf("at least one success_url_pattern is required")
	}
	if len(b.CookieDomains) == 0 {
		return fmt.Errorf("at least one cookie_domain is required")
	}
	for _, d := range b.CookieDomains {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("cookie_domains must not contain empty entries")
		}
	}
	return nil
}

// Validate reports whether the identity can be used to log in.
func (i IdentityConfig) Validate() error {
	if strings.TrimSpace(i.Account) == "" || i.Secret == "" {
		return fmt.Errorf("identity.account and identity.secret are required (set YOUTUBE_EMAIL and YOUTUBE_PASSWORD)")
	}
	return nil
}
