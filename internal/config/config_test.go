package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigLoad_WindowDefaults(t *testing.T) {
	_ = os.Unsetenv("DEATHSWITCH_INACTIVITY_WINDOW")
	_ = os.Unsetenv("DEATHSWITCH_VERIFICATION_WINDOW")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.InactivityWindow != 240*time.Hour || cfg.VerificationWindow != 48*time.Hour {
		t.Fatalf("unexpected default windows: %s / %s", cfg.InactivityWindow, cfg.VerificationWindow)
	}
	if cfg.DBDriver != "sqlite" || cfg.SQLitePath != "config/activity.db" {
		t.Fatalf("unexpected storage defaults: %s %s", cfg.DBDriver, cfg.SQLitePath)
	}
	if len(cfg.ChannelOrder) != len(DefaultChannelOrder) {
		t.Fatalf("expected default channel order, got %v", cfg.ChannelOrder)
	}
	if cfg.KillSwitchMaxFailures != 5 || cfg.KillSwitchFailureInterval != time.Minute || cfg.KillSwitchConcurrency != 2 {
		t.Fatalf("unexpected kill switch limits: %d / %s / %d",
			cfg.KillSwitchMaxFailures, cfg.KillSwitchFailureInterval, cfg.KillSwitchConcurrency)
	}
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	t.Setenv("DEATHSWITCH_INACTIVITY_WINDOW", "2h")
	t.Setenv("DEATHSWITCH_SMTP_HOST", "smtp.example.com")
	t.Setenv("DEATHSWITCH_CHANNEL_ORDER", "Webhook, email")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.InactivityWindow != 2*time.Hour {
		t.Fatalf("inactivity window override failed, got %s", cfg.InactivityWindow)
	}
	if cfg.SMTP.Host != "smtp.example.com" || cfg.SMTP.Port != 587 {
		t.Fatalf("smtp override failed, got %+v", cfg.SMTP)
	}
	if len(cfg.ChannelOrder) != 2 || cfg.ChannelOrder[0] != "webhook" || cfg.ChannelOrder[1] != "email" {
		t.Fatalf("channel order not normalized: %v", cfg.ChannelOrder)
	}
}

func TestConfigLoad_RejectsNonPositiveWindow(t *testing.T) {
	t.Setenv("DEATHSWITCH_VERIFICATION_WINDOW", "0s")

	if _, err := New(); err == nil {
		t.Fatalf("expected error for zero verification window")
	}
}

func TestConfigLoad_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("DEATHSWITCH_DB_DRIVER", "postgres")
	_ = os.Unsetenv("DEATHSWITCH_POSTGRES_DSN")

	if _, err := New(); err == nil {
		t.Fatalf("expected error when postgres DSN is missing")
	}
}

func TestConfigLoad_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switch.yaml")
	body := []byte("verification_window: 3h\nwebhook_url: https://hooks.example.com/x\nkafka:\n  brokers: [\"k1:9092\", \"k2:9092\"]\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DEATHSWITCH_CONFIG_FILE", path)
	t.Setenv("DEATHSWITCH_VERIFICATION_WINDOW", "1h")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.VerificationWindow != 3*time.Hour {
		t.Fatalf("file should override env, got %s", cfg.VerificationWindow)
	}
	if cfg.WebhookURL != "https://hooks.example.com/x" {
		t.Fatalf("webhook url not loaded: %q", cfg.WebhookURL)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Topic != "deathswitch.release" {
		t.Fatalf("kafka overlay failed: %+v", cfg.Kafka)
	}
}

func TestNewForTesting(t *testing.T) {
	cfg := NewForTesting()
	if cfg.Environment != EnvTesting || cfg.InactivityWindow <= 0 || cfg.VerificationWindow <= 0 {
		t.Fatalf("unexpected testing config: %+v", cfg)
	}
}
