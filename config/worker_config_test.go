package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/calsync")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("SUPABASE_JWT_SECRET", "jwt-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SyncBatchSize != 50 {
		t.Errorf("SyncBatchSize = %d, want 50", cfg.SyncBatchSize)
	}
	if cfg.SyncLookback != 30*24*time.Hour || cfg.SyncLookahead != 90*24*time.Hour {
		t.Errorf("window = %v/%v", cfg.SyncLookback, cfg.SyncLookahead)
	}
	if cfg.SyncMaxListItems != 2500 {
		t.Errorf("SyncMaxListItems = %d", cfg.SyncMaxListItems)
	}
	if cfg.EncryptionKey != "jwt-secret" {
		t.Errorf("EncryptionKey should fall back to the JWT secret, got %q", cfg.EncryptionKey)
	}
	if cfg.WebhookSecret != "jwt-secret" {
		t.Errorf("WebhookSecret should fall back to the encryption key, got %q", cfg.WebhookSecret)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate_Missing(t *testing.T) {
	cfg := &Config{DefaultTimeZone: "UTC", SyncBatchSize: 1, SyncMaxListItems: 1}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "ENCRYPTION_KEY"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidate_BadTimeZone(t *testing.T) {
	cfg := &Config{
		DatabaseURL:      "x",
		RedisURL:         "x",
		EncryptionKey:    "x",
		DefaultTimeZone:  "Mars/Olympus",
		SyncBatchSize:    1,
		SyncMaxListItems: 1,
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected time zone error")
	}
}

func TestWebhookAddress(t *testing.T) {
	cfg := &Config{}
	if cfg.WebhookAddress() != "" {
		t.Error("expected empty address without PUBLIC_BASE_URL")
	}

	cfg.PublicBaseURL = "https://api.example.com"
	if got := cfg.WebhookAddress(); got != "https://api.example.com/api/v1/webhooks/google-calendar" {
		t.Errorf("WebhookAddress = %q", got)
	}
}

func TestGetEnvSlice_Trims(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.com, https://b.com")
	got := getEnvSlice("ALLOWED_ORIGINS", nil)
	if len(got) != 2 || got[1] != "https://b.com" {
		t.Errorf("getEnvSlice = %#v", got)
	}
}
