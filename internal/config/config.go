// Package config loads the credflow server configuration from an optional
// YAML file and CREDFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/credflow"
	"github.com/spf13/viper"
)

// Audit sink names accepted by auth.audit_sink.
const (
	AuditSinkZap  = "zap"
	AuditSinkJSON = "json"
	AuditSinkNone = "none"
)

type HTTPConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SecureCookies bool          `mapstructure:"secure_cookies"`
	TrustProxy    bool          `mapstructure:"trust_proxy"`
	AdminToken    string        `mapstructure:"admin_token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// PostgresConfig selects the credential store. An empty URL keeps
// credentials in memory.
type PostgresConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

// NATSConfig selects the mail transport. An empty URL logs notifications
// instead of publishing them.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type TokensConfig struct {
	Issuer        string        `mapstructure:"issuer"`
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	SignupSecret  string        `mapstructure:"signup_secret"`
	ResetSecret   string        `mapstructure:"reset_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	SignupTTL     time.Duration `mapstructure:"signup_ttl"`
	ResetTTL      time.Duration `mapstructure:"reset_ttl"`
}

type AuthConfig struct {
	Pepper                 string        `mapstructure:"pepper"`
	RevokeSessionsOnChange bool          `mapstructure:"revoke_sessions_on_change"`
	VerifyURL              string        `mapstructure:"verify_url"`
	ResetURL               string        `mapstructure:"reset_url"`
	OTPLength              int           `mapstructure:"otp_length"`
	OTPTTL                 time.Duration `mapstructure:"otp_ttl"`
	DebugEcho              bool          `mapstructure:"debug_echo"`
	// AuditSink is zap, json (one line per event on stdout) or none.
	AuditSink string `mapstructure:"audit_sink"`
}

type Config struct {
	Env      string         `mapstructure:"env"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Tokens   TokensConfig   `mapstructure:"tokens"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Metrics  bool           `mapstructure:"metrics"`
}

// Load reads path (if non-empty) and overlays CREDFLOW_* environment
// variables, e.g. CREDFLOW_REDIS_ADDR for redis.addr.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CREDFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	switch cfg.Auth.AuditSink {
	case AuditSinkZap, AuditSinkJSON, AuditSinkNone:
	default:
		return nil, fmt.Errorf("auth.audit_sink: unknown sink %q", cfg.Auth.AuditSink)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := credflow.DefaultConfig()

	v.SetDefault("env", "dev")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.secure_cookies", false)
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("http.admin_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", defaults.Session.RedisPrefix)
	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.migrate", false)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "credflow.mail")
	v.SetDefault("tokens.issuer", defaults.Tokens.Issuer)
	v.SetDefault("tokens.access_secret", "")
	v.SetDefault("tokens.refresh_secret", "")
	v.SetDefault("tokens.signup_secret", "")
	v.SetDefault("tokens.reset_secret", "")
	v.SetDefault("tokens.access_ttl", defaults.Tokens.AccessTTL.String())
	v.SetDefault("tokens.refresh_ttl", defaults.Tokens.RefreshTTL.String())
	v.SetDefault("tokens.signup_ttl", defaults.Tokens.SignupTTL.String())
	v.SetDefault("tokens.reset_ttl", defaults.Tokens.ResetTTL.String())
	v.SetDefault("auth.pepper", "")
	v.SetDefault("auth.revoke_sessions_on_change", defaults.Password.RevokeSessionsOnChange)
	v.SetDefault("auth.verify_url", defaults.Signup.VerifyURL)
	v.SetDefault("auth.reset_url", defaults.Reset.ResetURL)
	v.SetDefault("auth.otp_length", defaults.Reset.OTPLength)
	v.SetDefault("auth.otp_ttl", defaults.Reset.OTPTTL.String())
	v.SetDefault("auth.debug_echo", false)
	v.SetDefault("auth.audit_sink", AuditSinkZap)
	v.SetDefault("metrics", true)
}

// Production reports whether the server runs with production safeguards.
func (c *Config) Production() bool {
	return c.Env == "prod" || c.Env == "production"
}

// Engine converts c into an engine configuration. Validation is left to
// the engine builder.
func (c *Config) Engine() credflow.Config {
	cfg := credflow.DefaultConfig()

	cfg.Password.Pepper = c.Auth.Pepper
	cfg.Password.RevokeSessionsOnChange = c.Auth.RevokeSessionsOnChange

	cfg.Tokens.Issuer = c.Tokens.Issuer
	cfg.Tokens.AccessSecret = []byte(c.Tokens.AccessSecret)
	cfg.Tokens.RefreshSecret = []byte(c.Tokens.RefreshSecret)
	cfg.Tokens.SignupSecret = []byte(c.Tokens.SignupSecret)
	cfg.Tokens.ResetSecret = []byte(c.Tokens.ResetSecret)
	cfg.Tokens.AccessTTL = c.Tokens.AccessTTL
	cfg.Tokens.RefreshTTL = c.Tokens.RefreshTTL
	cfg.Tokens.SignupTTL = c.Tokens.SignupTTL
	cfg.Tokens.ResetTTL = c.Tokens.ResetTTL

	cfg.Session.RedisPrefix = c.Redis.Prefix

	cfg.Signup.VerifyURL = c.Auth.VerifyURL
	cfg.Reset.ResetURL = c.Auth.ResetURL
	cfg.Reset.OTPLength = c.Auth.OTPLength
	cfg.Reset.OTPTTL = c.Auth.OTPTTL
	cfg.Reset.DebugEcho = c.Auth.DebugEcho

	cfg.Audit.Enabled = c.Auth.AuditSink != AuditSinkNone
	cfg.Metrics.Enabled = c.Metrics
	cfg.ProductionMode = c.Production()

	return cfg
}
