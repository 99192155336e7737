package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 8080 || cfg.Redis.Prefix != "cf" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Tokens.RefreshTTL != 7*24*time.Hour || cfg.Auth.OTPTTL != 300*time.Second {
		t.Fatalf("unexpected duration defaults %+v", cfg.Tokens)
	}
	if cfg.Production() {
		t.Fatal("default env must not be production")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credflow.yaml")
	yaml := []byte(`
env: prod
http:
  port: 9090
redis:
  addr: redis:6379
  prefix: auth
tokens:
  access_ttl: 5m
auth:
  otp_length: 8
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CREDFLOW_TOKENS_ACCESS_SECRET", "from-env-access-secret-0000000001")
	t.Setenv("CREDFLOW_HTTP_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 7070 {
		t.Fatalf("env must override file, got port %d", cfg.HTTP.Port)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.Prefix != "auth" {
		t.Fatalf("unexpected redis config %+v", cfg.Redis)
	}

	engine := cfg.Engine()
	if !engine.ProductionMode {
		t.Fatal("prod env must enable ProductionMode")
	}
	if string(engine.Tokens.AccessSecret) != "from-env-access-secret-0000000001" {
		t.Fatalf("access secret not taken from env: %q", engine.Tokens.AccessSecret)
	}
	if engine.Tokens.AccessTTL != 5*time.Minute || engine.Reset.OTPLength != 8 || engine.Session.RedisPrefix != "auth" {
		t.Fatalf("file values not applied: %+v", engine)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.HTTP.Port)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("http: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestLoadAuditSink(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.AuditSink != AuditSinkZap || !cfg.Engine().Audit.Enabled {
		t.Fatalf("expected zap audit by default, got %q", cfg.Auth.AuditSink)
	}

	t.Setenv("CREDFLOW_AUTH_AUDIT_SINK", "none")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine().Audit.Enabled {
		t.Fatal("audit_sink none must disable auditing")
	}

	t.Setenv("CREDFLOW_AUTH_AUDIT_SINK", "syslog")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "audit_sink") {
		t.Fatalf("expected audit_sink error, got %v", err)
	}
}
