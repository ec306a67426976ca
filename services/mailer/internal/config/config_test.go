package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SMTP_HOST", "smtp.example.fr")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SMTP_TLS", " Opportunistic ")
	t.Setenv("MAILER_QUEUE_CONCURRENCY", "4")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "8091"
redisAddr: "localhost:6379"
smtpHost: "localhost"
smtpFrom: "Agence <noreply@agence.example>"
queueMaxRetries: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SMTPHost != "smtp.example.fr" || cfg.SMTPPort != 2525 || cfg.SMTPTLS != "opportunistic" {
		t.Fatalf("smtp overrides not applied: %+v", cfg)
	}
	if cfg.QueueConcurrency != 4 || cfg.QueueMaxRetries != 5 {
		t.Fatalf("queue settings = %d/%d", cfg.QueueConcurrency, cfg.QueueMaxRetries)
	}
}

func TestValidateConfig(t *testing.T) {
	base := FileConfig{Port: "8091", RedisAddr: "localhost:6379", SMTPHost: "localhost", SMTPFrom: "noreply@agence.example"}
	if err := validateConfig(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	noFrom := base
	noFrom.SMTPFrom = ""
	if err := validateConfig(noFrom); err == nil || !strings.Contains(err.Error(), "smtpFrom") {
		t.Fatalf("expected smtpFrom error, got %v", err)
	}
	badTLS := base
	badTLS.SMTPTLS = "starttls"
	if err := validateConfig(badTLS); err == nil || !strings.Contains(err.Error(), "smtpTLS") {
		t.Fatalf("expected smtpTLS error, got %v", err)
	}
}
