package onboard

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/jwt"
	"github.com/wastehub/onboard/session"
	"go.uber.org/zap"
)

const (
	minSessionSecretSize = 32
	handleIssuer         = "onboard"
)

// Builder assembles an [Engine]. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     session.Store
	provider  idp.Client
	logger    *zap.Logger
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used by the Redis session store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore injects a session store. Session config is then ignored.
func (b *Builder) WithStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithProvider injects the identity provider client. Provider config is
// then ignored.
func (b *Builder) WithProvider(p idp.Client) *Builder {
	b.provider = p
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go when auditing is enabled. The
// default writes them to the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the provider latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, constructs the missing collaborators
// and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := flow.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- SESSION STORE --------
	store := b.store
	if store == nil {
		s, err := b.buildStore(cfg.Session)
		if err != nil {
			return nil, err
		}
		store = s
	}

	// -------- PROVIDER --------
	provider := b.provider
	if provider == nil {
		if cfg.Provider.BaseURL == "" {
			return nil, errors.New("Provider BaseURL required when no provider is injected")
		}
		c, err := idp.NewHTTPClient(cfg.Provider.BaseURL, &http.Client{Timeout: cfg.Provider.Timeout})
		if err != nil {
			return nil, err
		}
		provider = c
	}

	sink := b.auditSink
	if sink == nil {
		sink = NewZapSink(logger)
	}

	engine := &Engine{
		config:   cfg,
		store:    store,
		provider: provider,
		logger:   logger,
		clock:    b.clock,
	}
	engine.audit = newAuditDispatcher(cfg.Audit, sink, logger)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}

func (b *Builder) buildStore(cfg SessionConfig) (session.Store, error) {
	if len(cfg.Secret) < minSessionSecretSize {
		return nil, fmt.Errorf("Session Secret must be at least %d bytes", minSessionSecretSize)
	}
	opts := session.Options{
		CookieName: cfg.CookieName,
		TTL:        cfg.TTL,
		Secure:     cfg.CookieSecure,
	}

	switch cfg.Store {
	case StoreCookie:
		return session.NewCookieStore(cloneBytes(cfg.Secret), opts)
	default:
		if b.redis == nil {
			return nil, errors.New("redis client required for the redis session store")
		}
		signer, err := jwt.NewManager(jwt.Config{
			TTL:        cfg.TTL,
			PrivateKey: cloneBytes(cfg.Secret),
			Issuer:     handleIssuer,
		})
		if err != nil {
			return nil, err
		}
		return session.NewRedisStore(b.redis, signer, cfg.RedisPrefix, opts), nil
	}
}
