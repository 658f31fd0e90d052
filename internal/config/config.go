// Package config loads process settings for onboardd from the environment
// and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wastehub/onboard"
	"github.com/wastehub/onboard/devidp"
)

// Config holds the settings read from the environment.
type Config struct {
	// HTTPAddr is the address the onboarding web server listens on.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is "development" or "production". Production selects the JSON
	// logger and forbids a fixed dev OTP.
	Env string `mapstructure:"APP_ENV"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// SessionSecret signs session handles or seals cookie sessions; at
	// least 32 bytes.
	SessionSecret string        `mapstructure:"SESSION_SECRET"`
	SessionStore  string        `mapstructure:"SESSION_STORE"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`
	CookieSecure  bool          `mapstructure:"COOKIE_SECURE"`

	ProviderBaseURL string        `mapstructure:"PROVIDER_BASE_URL"`
	ProviderTimeout time.Duration `mapstructure:"PROVIDER_TIMEOUT"`

	CountryCode     string        `mapstructure:"COUNTRY_CODE"`
	LoginContextTTL time.Duration `mapstructure:"LOGIN_CONTEXT_TTL"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
	AuditEnabled   bool `mapstructure:"AUDIT_ENABLED"`

	// DevIDPAddr is where the devidp command serves the dev provider.
	DevIDPAddr string `mapstructure:"DEVIDP_ADDR"`
	// DevIDPFixedOTP makes the dev provider issue this code every time.
	DevIDPFixedOTP string `mapstructure:"DEVIDP_FIXED_OTP"`
	// DevIDPAdmins is a comma-separated list of administrator emails.
	DevIDPAdmins string `mapstructure:"DEVIDP_ADMINS"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Environment variables override .env.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // a missing file is fine
	}

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_SECRET", "")
	v.SetDefault("SESSION_STORE", string(onboard.StoreRedis))
	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("PROVIDER_BASE_URL", "http://localhost:8081")
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("COUNTRY_CODE", "62")
	v.SetDefault("LOGIN_CONTEXT_TTL", "10m")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("DEVIDP_ADDR", ":8081")
	v.SetDefault("DEVIDP_FIXED_OTP", "")
	v.SetDefault("DEVIDP_ADMINS", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.Env != "development" && cfg.Env != "production" {
		return nil, errors.New("config: APP_ENV must be development or production")
	}
	if cfg.DevIDPFixedOTP != "" && cfg.Production() {
		return nil, errors.New("config: DEVIDP_FIXED_OTP must not be set when APP_ENV=production")
	}
	if cfg.SessionStore != string(onboard.StoreRedis) && cfg.SessionStore != string(onboard.StoreCookie) {
		return nil, errors.New("config: SESSION_STORE must be redis or cookie")
	}

	return &cfg, nil
}

// Production reports whether APP_ENV is production.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Engine maps the settings onto the engine defaults. The session secret is
// checked when the engine is built.
func (c *Config) Engine() onboard.Config {
	cfg := onboard.DefaultConfig()
	cfg.Session.Store = onboard.SessionStoreKind(c.SessionStore)
	cfg.Session.Secret = []byte(c.SessionSecret)
	if c.SessionTTL > 0 {
		cfg.Session.TTL = c.SessionTTL
	}
	cfg.Session.CookieSecure = c.CookieSecure
	cfg.Provider.BaseURL = c.ProviderBaseURL
	if c.ProviderTimeout > 0 {
		cfg.Provider.Timeout = c.ProviderTimeout
	}
	if c.CountryCode != "" {
		cfg.Validation.CountryCode = c.CountryCode
	}
	if c.LoginContextTTL > 0 {
		cfg.Flow.LoginContextTTL = c.LoginContextTTL
	}
	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled
	cfg.Audit.Enabled = c.AuditEnabled
	return cfg
}

// DevIDP maps the settings onto the dev provider defaults.
func (c *Config) DevIDP() devidp.Config {
	cfg := devidp.DefaultConfig()
	cfg.OTP.FixedCode = c.DevIDPFixedOTP
	cfg.Administrators = c.Administrators()
	return cfg
}

// Administrators returns the emails from DEVIDP_ADMINS.
func (c *Config) Administrators() []string {
	if c == nil || c.DevIDPAdmins == "" {
		return nil
	}
	parts := strings.Split(c.DevIDPAdmins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
