package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cermont-atg/authcore/internal/lockout"
	"github.com/cermont-atg/authcore/password"
	"github.com/cermont-atg/authcore/revocation"
	"github.com/cermont-atg/authcore/session"
	"github.com/cermont-atg/authcore/token"
)

// Builder assembles an [Engine]. A builder is single-use.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	identity IdentityProvider

	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New returns a builder preloaded with [defaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing sessions, lockout counters, the
// revocation registry, and reset tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider connects the engine to the caller's user database.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identity = p
	return b
}

// WithLogger sets the structured logger. Defaults to [zap.NewNop].
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink enables audit dispatch into sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles verify-latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires the subsystems, and generates
// the initial signing key.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identity == nil {
		return nil, errors.New("identity provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	keys, err := token.NewKeyring(cfg.Token.KeyGracePeriod)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		logger:   logger,
		identity: b.identity,

		keys:   keys,
		tokens: token.NewManager(keys, cfg.Token.Issuer, cfg.Token.ClockSkewLeeway),

		sessions:   session.NewStore(b.redis, cfg.Session.RedisPrefix),
		revocation: revocation.NewRegistry(b.redis, cfg.Session.RedisPrefix),
		lockout: lockout.New(b.redis, cfg.Session.RedisPrefix, lockout.Config{
			MaxAttempts:  cfg.Lockout.MaxAttempts,
			LockDuration: cfg.Lockout.LockDuration,
		}),
		resetStore: newResetStore(b.redis, cfg.Session.RedisPrefix),

		hasher:  hasher,
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}

	// Hashing an unmatchable sentinel keeps failed lookups on the same
	// timing path as wrong passwords.
	engine.dummyHash, err = hasher.Hash("authcore-timing-equalizer")
	if err != nil {
		return nil, err
	}

	b.built = true

	return engine, nil
}
