package authcore

import (
	"errors"
	"time"

	"github.com/cermont-atg/authcore/password"
)

// Config is the full engine configuration. Zero values are filled from
// [defaultConfig] by the [Builder]; a Config is treated as immutable after
// the engine is built.
type Config struct {
	Token    TokenConfig
	Session  SessionConfig
	Lockout  LockoutConfig
	Password PasswordConfig
	Reset    ResetConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// TokenConfig covers token lifetimes, the issuer claim, and key rotation.
type TokenConfig struct {
	Issuer string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RememberMeRefreshTTL replaces RefreshTTL for sessions opened with
	// DeviceMeta.RememberMe.
	RememberMeRefreshTTL time.Duration

	// ClockSkewLeeway is tolerated on exp/iat validation.
	ClockSkewLeeway time.Duration

	// KeyGracePeriod bounds how long tokens signed by a demoted key keep
	// verifying after a rotation.
	KeyGracePeriod time.Duration
}

// SessionConfig covers Redis key layout.
type SessionConfig struct {
	RedisPrefix string
}

// LockoutConfig covers the consecutive-failure lockout.
type LockoutConfig struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// PasswordConfig covers argon2id cost and password policy.
type PasswordConfig struct {
	Argon2    password.Params
	MinLength int
	// RehashOnLogin upgrades weaker stored hashes on the next successful
	// login.
	RehashOnLogin bool
}

// ResetConfig covers the password reset flow.
type ResetConfig struct {
	TokenTTL time.Duration
}

// AuditConfig covers the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the hot path when the
	// buffer is saturated.
	DropIfFull bool
}

// MetricsConfig covers in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:               "authcore",
			AccessTTL:            15 * time.Minute,
			RefreshTTL:           7 * 24 * time.Hour,
			RememberMeRefreshTTL: 30 * 24 * time.Hour,
			ClockSkewLeeway:      30 * time.Second,
			KeyGracePeriod:       time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix: "ac",
		},
		Lockout: LockoutConfig{
			MaxAttempts:  5,
			LockDuration: 15 * time.Minute,
		},
		Password: PasswordConfig{
			Argon2:        password.DefaultParams(),
			MinLength:     8,
			RehashOnLogin: true,
		},
		Reset: ResetConfig{
			TokenTTL: time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

// Validate checks cross-field consistency. Called once by the [Builder].
func (c *Config) Validate() error {
	// Token
	if c.Token.Issuer == "" {
		return errors.New("Token Issuer must not be empty")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must exceed AccessTTL")
	}
	if c.Token.RememberMeRefreshTTL < c.Token.RefreshTTL {
		return errors.New("Token RememberMeRefreshTTL must be >= RefreshTTL")
	}
	if c.Token.ClockSkewLeeway < 0 {
		return errors.New("Token ClockSkewLeeway must be >= 0")
	}
	if c.Token.KeyGracePeriod <= 0 {
		return errors.New("Token KeyGracePeriod must be > 0")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// Lockout
	if c.Lockout.MaxAttempts <= 0 {
		return errors.New("Lockout MaxAttempts must be > 0")
	}
	if c.Lockout.LockDuration <= 0 {
		return errors.New("Lockout LockDuration must be > 0")
	}

	// Password
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Reset
	if c.Reset.TokenTTL <= 0 {
		return errors.New("Reset TokenTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
