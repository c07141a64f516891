package bot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseConfigOverlaysDefaults(t *testing.T) {
	t.Parallel()

	yaml := []byte(`
name: TestBot
listen_addr: ":9999"
api:
  model: test-model
scheduler:
  timezone: Europe/Berlin
`)

	cfg, err := ParseConfig(yaml)
	if err != nil {
		t.Fatalf("parsing config: %v", err)
	}

	if cfg.Name != "TestBot" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.API.Model != "test-model" {
		t.Errorf("API.Model = %q", cfg.API.Model)
	}
	if cfg.Scheduler.Timezone != "Europe/Berlin" {
		t.Errorf("Scheduler.Timezone = %q", cfg.Scheduler.Timezone)
	}

	// Untouched fields keep their defaults.
	if cfg.API.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("API.BaseURL lost default: %q", cfg.API.BaseURL)
	}
	if cfg.Scheduler.SyncSpec != "*/5 * * * *" {
		t.Errorf("Scheduler.SyncSpec lost default: %q", cfg.Scheduler.SyncSpec)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr lost default: %q", cfg.Redis.Addr)
	}
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	t.Setenv("CHATCLAW_TEST_TOKEN", "tok-123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("telegram:\n  token: ${CHATCLAW_TEST_TOKEN}\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.Telegram.Token != "tok-123" {
		t.Errorf("Telegram.Token = %q, want tok-123", cfg.Telegram.Token)
	}
}

func TestResolveSecretsFromEnv(t *testing.T) {
	t.Setenv("CHATCLAW_API_KEY", "sk-from-env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "bot-from-env")

	cfg := DefaultConfig()
	cfg.API.APIKey = "${CHATCLAW_API_KEY}"
	resolveSecrets(cfg)

	if cfg.API.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q", cfg.API.APIKey)
	}
	if cfg.Telegram.Token != "bot-from-env" {
		t.Errorf("Token = %q", cfg.Telegram.Token)
	}
}

func TestResolveSecretsKeepsExplicitValues(t *testing.T) {
	t.Setenv("CHATCLAW_API_KEY", "sk-from-env")

	cfg := DefaultConfig()
	cfg.API.APIKey = "sk-explicit"
	resolveSecrets(cfg)

	if cfg.API.APIKey != "sk-explicit" {
		t.Errorf("explicit key was overridden: %q", cfg.API.APIKey)
	}
}

func TestIsEnvReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"${CHATCLAW_API_KEY}", true},
		{"$CHATCLAW_API_KEY", true},
		{"sk-abc123", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEnvReference(tt.in); got != tt.want {
			t.Errorf("IsEnvReference(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
