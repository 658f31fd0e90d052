package onboard

import (
	"errors"
	"time"
)

// Config holds every tunable of the onboarding engine. Start from
// [DefaultConfig] and override fields; [Builder.Build] validates the result.
type Config struct {
	Flow       FlowConfig
	Validation ValidationConfig
	Session    SessionConfig
	Provider   ProviderConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
FLOW CONFIG
====================================
*/

// FlowConfig controls timing inside the registration and login flows.
type FlowConfig struct {
	// LoginContextTTL is how long an unfinished login survives, measured
	// from the login OTP request.
	LoginContextTTL time.Duration
	// PendingChallengeTTL drops an abandoned registration challenge.
	PendingChallengeTTL time.Duration
	// OTPTTL and ResendCooldown only drive the countdown shown to the
	// client; the provider enforces both.
	OTPTTL         time.Duration
	ResendCooldown time.Duration
}

/*
====================================
VALIDATION CONFIG
====================================
*/

// ValidationConfig controls local input checks.
type ValidationConfig struct {
	CountryCode         string
	MinSubscriberDigits int
	MaxSubscriberDigits int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionStoreKind selects the session store built by the Builder.
type SessionStoreKind string

const (
	// StoreRedis keeps sessions in Redis behind a signed handle cookie.
	StoreRedis SessionStoreKind = "redis"
	// StoreCookie seals sessions into the cookie.
	StoreCookie SessionStoreKind = "cookie"
)

// SessionConfig is used when the Builder constructs the session store
// itself. It is ignored when [Builder.WithStore] is used.
type SessionConfig struct {
	Store        SessionStoreKind
	Secret       []byte
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
	RedisPrefix  string
}

/*
====================================
PROVIDER CONFIG
====================================
*/

// ProviderConfig is used when the Builder constructs the identity provider
// client itself.
type ProviderConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Flow: FlowConfig{
			LoginContextTTL:     10 * time.Minute,
			PendingChallengeTTL: 30 * time.Minute,
			OTPTTL:              5 * time.Minute,
			ResendCooldown:      60 * time.Second,
		},
		Validation: ValidationConfig{
			CountryCode:         "62",
			MinSubscriberDigits: 9,
			MaxSubscriberDigits: 14,
		},
		Session: SessionConfig{
			Store:        StoreRedis,
			TTL:          7 * 24 * time.Hour,
			CookieName:   "onboard_session",
			CookieSecure: true,
			RedisPrefix:  "obs",
		},
		Provider: ProviderConfig{
			Timeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.Secret = cloneBytes(cfg.Session.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the engine cannot run
// with. Store secrets are checked by Build, which knows whether it has to
// construct a store.
func (c *Config) Validate() error {
	// Flow
	if c.Flow.LoginContextTTL <= 0 {
		return errors.New("Flow LoginContextTTL must be > 0")
	}
	if c.Flow.PendingChallengeTTL <= 0 {
		return errors.New("Flow PendingChallengeTTL must be > 0")
	}
	if c.Flow.OTPTTL <= 0 {
		return errors.New("Flow OTPTTL must be > 0")
	}
	if c.Flow.ResendCooldown < 0 || c.Flow.ResendCooldown > c.Flow.OTPTTL {
		return errors.New("Flow ResendCooldown must be between 0 and OTPTTL")
	}

	// Validation
	if len(c.Validation.CountryCode) == 0 || len(c.Validation.CountryCode) > 3 || !allDigits(c.Validation.CountryCode) {
		return errors.New("Validation CountryCode must be 1-3 digits")
	}
	if c.Validation.MinSubscriberDigits <= 0 || c.Validation.MaxSubscriberDigits < c.Validation.MinSubscriberDigits {
		return errors.New("Validation subscriber digit bounds are invalid")
	}

	// Session
	if c.Session.Store != StoreRedis && c.Session.Store != StoreCookie {
		return errors.New("Session Store must be redis or cookie")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.CookieName == "" {
		return errors.New("Session CookieName must be set")
	}

	// Provider
	if c.Provider.Timeout <= 0 {
		return errors.New("Provider Timeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
