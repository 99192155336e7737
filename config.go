package credflow

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full engine configuration. Start from [DefaultConfig], set
// the four token secrets and adjust what differs.
type Config struct {
	Password PasswordConfig
	Tokens   TokenConfig
	Session  SessionConfig
	Signup   SignupConfig
	Reset    ResetConfig
	Outbox   OutboxConfig
	Audit    AuditConfig
	Metrics  MetricsConfig

	// ProductionMode forbids debug-only behavior and the built-in pepper.
	ProductionMode bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id costs, the pepper and the password policy.
type PasswordConfig struct {
	Memory      uint32 // in KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	Pepper      string

	MinLength int
	MaxBytes  int

	// UpgradeOnSignin rehashes a stored hash made with weaker costs after a
	// successful sign-in.
	UpgradeOnSignin bool
	// RevokeSessionsOnChange drops the refresh session after a password
	// change or reset.
	RevokeSessionsOnChange bool
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds one HMAC secret and lifetime per token purpose. Secrets
// must be at least 32 bytes and pairwise distinct.
type TokenConfig struct {
	Issuer string
	Leeway time.Duration

	AccessSecret  []byte
	RefreshSecret []byte
	SignupSecret  []byte
	ResetSecret   []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SignupTTL  time.Duration
	ResetTTL   time.Duration
}

/*
====================================
SESSION / FLOW CONFIG
====================================
*/

// SessionConfig controls the Redis keyspace.
type SessionConfig struct {
	RedisPrefix string
}

// SignupConfig controls the verification email.
type SignupConfig struct {
	// VerifyURL is the link base; the token is appended as ?token=.
	VerifyURL    string
	WelcomeEmail bool
}

// ResetConfig controls the forgot-password flow.
type ResetConfig struct {
	OTPLength int
	OTPTTL    time.Duration
	// ResetURL is the link base; the reset token is appended as ?token=.
	ResetURL string
	// DebugEcho returns the OTP and reset token from RequestReset. Never
	// allowed with ProductionMode.
	DebugEcho bool
}

/*
====================================
OUTBOX / AUDIT / METRICS CONFIG
====================================
*/

// OutboxConfig controls the notification dispatcher.
type OutboxConfig struct {
	BufferSize      int
	DropIfFull      bool
	DeliveryTimeout time.Duration
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls Prometheus counters.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// DefaultConfig returns defaults with empty token secrets.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Memory:                 4096,
			Time:                   4,
			Parallelism:            2,
			SaltLength:             32,
			KeyLength:              32,
			MinLength:              8,
			MaxBytes:               1024,
			UpgradeOnSignin:        true,
			RevokeSessionsOnChange: true,
		},
		Tokens: TokenConfig{
			Issuer:     "credflow",
			Leeway:     0,
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			SignupTTL:  24 * time.Hour,
			ResetTTL:   15 * time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix: "cf",
		},
		Signup: SignupConfig{
			VerifyURL:    "http://localhost:8080/auth/signup/verify",
			WelcomeEmail: true,
		},
		Reset: ResetConfig{
			OTPLength: 6,
			OTPTTL:    300 * time.Second,
			ResetURL:  "http://localhost:8080/auth/reset",
		},
		Outbox: OutboxConfig{
			BufferSize:      256,
			DropIfFull:      true,
			DeliveryTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "credflow",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.AccessSecret = cloneBytes(cfg.Tokens.AccessSecret)
	out.Tokens.RefreshSecret = cloneBytes(cfg.Tokens.RefreshSecret)
	out.Tokens.SignupSecret = cloneBytes(cfg.Tokens.SignupSecret)
	out.Tokens.ResetSecret = cloneBytes(cfg.Tokens.ResetSecret)
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

// Validate checks cfg for values the engine cannot run with.
func (c *Config) Validate() error {
	// Password
	if c.Password.Memory < 4*1024 {
		return errors.New("Password Memory must be >= 4096 KiB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxBytes < c.Password.MinLength {
		return errors.New("Password MaxBytes must be >= MinLength")
	}

	// Tokens
	secrets := []struct {
		name   string
		secret []byte
		ttl    time.Duration
	}{
		{"Access", c.Tokens.AccessSecret, c.Tokens.AccessTTL},
		{"Refresh", c.Tokens.RefreshSecret, c.Tokens.RefreshTTL},
		{"Signup", c.Tokens.SignupSecret, c.Tokens.SignupTTL},
		{"Reset", c.Tokens.ResetSecret, c.Tokens.ResetTTL},
	}
	for i, s := range secrets {
		if len(s.secret) < 32 {
			return fmt.Errorf("Tokens %sSecret must be at least 32 bytes", s.name)
		}
		if s.ttl <= 0 {
			return fmt.Errorf("Tokens %sTTL must be > 0", s.name)
		}
		for _, other := range secrets[:i] {
			if bytes.Equal(s.secret, other.secret) {
				return fmt.Errorf("Tokens %sSecret must differ from %sSecret", s.name, other.name)
			}
		}
	}
	if c.Tokens.AccessTTL >= c.Tokens.RefreshTTL {
		return errors.New("Tokens AccessTTL must be < RefreshTTL")
	}
	if c.Tokens.Leeway < 0 || c.Tokens.Leeway > 2*time.Minute {
		return errors.New("Tokens Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.RedisPrefix == "" || strings.ContainsAny(c.Session.RedisPrefix, " *?[]") {
		return errors.New("Session RedisPrefix must be non-empty and contain no spaces or glob characters")
	}

	// Reset
	if c.Reset.OTPLength < 4 || c.Reset.OTPLength > 10 {
		return errors.New("Reset OTPLength must be between 4 and 10")
	}
	if c.Reset.OTPTTL <= 0 {
		return errors.New("Reset OTPTTL must be > 0")
	}

	// Outbox / Audit
	if c.Outbox.BufferSize <= 0 {
		return errors.New("Outbox BufferSize must be > 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Production
	if c.ProductionMode {
		if c.Reset.DebugEcho {
			return errors.New("Reset DebugEcho is not allowed in ProductionMode")
		}
		if c.Password.Pepper == "" {
			return errors.New("Password Pepper is required in ProductionMode")
		}
	}

	return nil
}
