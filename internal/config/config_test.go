package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.ElevenLabsAPIBaseURL != "https://api.elevenlabs.io" {
		t.Fatalf("ElevenLabsAPIBaseURL = %q", cfg.ElevenLabsAPIBaseURL)
	}
	if cfg.ProvisionTimeout != 10*time.Second || cfg.StoreTimeout != 3*time.Second {
		t.Fatalf("timeouts = %v/%v", cfg.ProvisionTimeout, cfg.StoreTimeout)
	}
	if cfg.OutboundEnabled() {
		t.Fatalf("OutboundEnabled() = true without twilio credentials")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("APP_PROVISION_TIMEOUT", "4s")
	t.Setenv("TRANSCRIPT_REDACT_PII", "yes")
	t.Setenv("REDIS_TTL", "24h")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15550001111")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.ProvisionTimeout != 4*time.Second {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.TranscriptRedactPII {
		t.Fatalf("TranscriptRedactPII = false, want true")
	}
	if cfg.RedisTTL != 24*time.Hour {
		t.Fatalf("RedisTTL = %v, want 24h", cfg.RedisTTL)
	}
	if !cfg.OutboundEnabled() {
		t.Fatalf("OutboundEnabled() = false, want true")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"APP_PROVISION_TIMEOUT": "10ms",
		"APP_WS_READ_TIMEOUT":   "banana",
		"TRANSCRIPT_QUEUE_SIZE": "0",
		"APP_ALLOW_ANY_ORIGIN":  "maybe",
	}
	for key, value := range cases {
		setCoreEnvEmpty(t)
		t.Setenv(key, value)
		if _, err := Load(); err == nil {
			t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("ELEVENLABS_AGENT_ID=agent-from-file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	// godotenv never overrides variables that are already set, even to "".
	_ = os.Unsetenv("ELEVENLABS_AGENT_ID")
	t.Cleanup(func() { _ = os.Unsetenv("ELEVENLABS_AGENT_ID") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ElevenLabsAgentID != "agent-from-file" {
		t.Fatalf("ElevenLabsAgentID = %q, want %q", cfg.ElevenLabsAgentID, "agent-from-file")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_PUBLIC_HOST",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_API_TOKEN",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_PROVISION_TIMEOUT",
		"APP_STORE_TIMEOUT",
		"APP_WS_READ_TIMEOUT",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_API_BASE_URL",
		"ELEVENLABS_AGENT_ID",
		"DEFAULT_PROMPT",
		"DEFAULT_FIRST_MESSAGE",
		"TWILIO_ACCOUNT_SID",
		"TWILIO_AUTH_TOKEN",
		"TWILIO_PHONE_NUMBER",
		"DATABASE_URL",
		"REDIS_URL",
		"REDIS_KEY_PREFIX",
		"REDIS_TTL",
		"TRANSCRIPT_QUEUE_SIZE",
		"TRANSCRIPT_REDACT_PII",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"LOG_FILE",
		"LOG_FILE_MAX_MB",
		"LOG_FILE_MAX_BACKUPS",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
