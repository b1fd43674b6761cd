package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pagination.Feed != 20 || cfg.Pagination.APIQuestions != 2 {
		t.Fatalf("unexpected pagination defaults: %+v", cfg.Pagination)
	}
	if cfg.Security.ConfirmTokenTTL != time.Hour {
		t.Fatalf("expected 1h confirm ttl, got %s", cfg.Security.ConfirmTokenTTL)
	}
}

func TestLoad_FileWithDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "app": {"http_addr": ":9000", "slow_query_threshold": "250ms"},
  "security": {"secret_key": "file-secret", "confirm_token_ttl": "30m"},
  "pagination": {"answers": 5}
}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":9000" {
		t.Fatalf("expected :9000, got %s", cfg.App.HTTPAddr)
	}
	if cfg.App.SlowQueryThreshold != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", cfg.App.SlowQueryThreshold)
	}
	if cfg.Security.ConfirmTokenTTL != 30*time.Minute {
		t.Fatalf("expected 30m, got %s", cfg.Security.ConfirmTokenTTL)
	}
	if cfg.Pagination.Answers != 5 || cfg.Pagination.Comments != 20 {
		t.Fatalf("unexpected pagination: %+v", cfg.Pagination)
	}
	if cfg.Security.SessionLifetime != 24*time.Hour {
		t.Fatalf("expected default session lifetime, got %s", cfg.Security.SessionLifetime)
	}
}

func TestLoad_NegativeWriteRateDisablesLimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"app": {"write_rate_limit": -1}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.WriteRateLimit != -1 {
		t.Fatalf("negative write rate must be kept, got %v", cfg.App.WriteRateLimit)
	}
	if cfg.App.WriteRateBurst != 5 {
		t.Fatalf("expected default burst, got %d", cfg.App.WriteRateBurst)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"security": {"confirm_token_ttl": "soon"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SECRET_KEY", "env-secret")
	t.Setenv("ASKHUB_ADMIN", "admin@example.com")
	t.Setenv("DATABASE_URL", "sqlite://test.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Security.SecretKey != "env-secret" {
		t.Fatalf("expected env secret, got %q", cfg.Security.SecretKey)
	}
	if cfg.Email.AdminEmail != "admin@example.com" {
		t.Fatalf("expected admin email override, got %q", cfg.Email.AdminEmail)
	}
	if cfg.Database.DSN != "sqlite://test.db" {
		t.Fatalf("expected DATABASE_URL override, got %q", cfg.Database.DSN)
	}
}

func TestLoad_MailSendRate(t *testing.T) {
	t.Setenv("MAIL_SEND_RATE", "0.5")
	t.Setenv("MAIL_SEND_BURST", "-1")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Email.SendRate != 0.5 {
		t.Fatalf("send rate = %v", cfg.Email.SendRate)
	}
	if cfg.Email.SendBurst != -1 {
		t.Fatalf("send burst = %v", cfg.Email.SendBurst)
	}
}
