package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Addr != ":8000" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":8000")
	}
	if cfg.Oracle.DefaultProvider != "gemini" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.Oracle.DefaultProvider, "gemini")
	}
	if cfg.Routing.MinConfidence != 0.55 {
		t.Errorf("MinConfidence = %v, want 0.55", cfg.Routing.MinConfidence)
	}
	if cfg.Oracle.Voice != "Puck" {
		t.Errorf("Voice = %q, want Puck", cfg.Oracle.Voice)
	}
	if cfg.App.Name != "Teacher Assistant ADK Production" {
		t.Errorf("App.Name = %q", cfg.App.Name)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.RequestTimeout != 60*time.Second {
		t.Errorf("expected defaults, got RequestTimeout=%v", cfg.Server.RequestTimeout)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  name: "Classroom Helper"
server:
  addr: "127.0.0.1:9000"
  request_timeout: 15s
oracle:
  default_provider: "claude"
  live_provider: "gemini"
  providers:
    - name: "gemini"
      type: "gemini"
      api_key: "g-key"
      model: "gemini-2.0-flash"
    - name: "claude"
      type: "bedrock"
      region: "us-east-1"
      model: "anthropic.claude-3-haiku"
routing:
  strategy: "chain"
  chain: ["keyword", "embedding"]
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Name != "Classroom Helper" {
		t.Errorf("App.Name = %q", cfg.App.Name)
	}
	if cfg.Server.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %v, want 15s", cfg.Server.RequestTimeout)
	}
	if len(cfg.Oracle.Providers) != 2 {
		t.Fatalf("Providers = %+v", cfg.Oracle.Providers)
	}
	p, ok := cfg.Provider("claude")
	if !ok || p.Region != "us-east-1" {
		t.Errorf("Provider(claude) = %+v, %v", p, ok)
	}
	if cfg.Routing.Strategy != "chain" || len(cfg.Routing.Chain) != 2 {
		t.Errorf("Routing = %+v", cfg.Routing)
	}
	// Unset sections keep their defaults.
	if cfg.Oracle.Voice != "Puck" {
		t.Errorf("Voice = %q, want default", cfg.Oracle.Voice)
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: x\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("expected permissions error, got %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TEACHERAGENT_SERVER_ADDR", ":9999")
	t.Setenv("TEACHERAGENT_ROUTING_MIN_CONFIDENCE", "0.7")
	t.Setenv("TEACHERAGENT_SESSIONS_IDLE_TTL", "30m")
	t.Setenv("TEACHERAGENT_LOGGER_LEVEL", "debug")
	t.Setenv("TEACHERAGENT_SERVER_ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Server.Addr != ":9999" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Routing.MinConfidence != 0.7 {
		t.Errorf("MinConfidence = %v", cfg.Routing.MinConfidence)
	}
	if cfg.Sessions.IdleTTL != 30*time.Minute {
		t.Errorf("IdleTTL = %v", cfg.Sessions.IdleTTL)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
}

func TestEnvOverridesGoogleAPIKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "from-google")
	t.Setenv("TEACHERAGENT_PROVIDER_SECOND_API_KEY", "explicit")

	cfg := Defaults()
	cfg.Oracle.Providers = append(cfg.Oracle.Providers, ProviderConfig{Name: "second", Type: "gemini", Model: "m"})
	ApplyEnvOverrides(cfg)

	if cfg.Oracle.Providers[0].APIKey != "from-google" {
		t.Errorf("provider 0 key = %q", cfg.Oracle.Providers[0].APIKey)
	}
	if cfg.Oracle.Providers[1].APIKey != "explicit" {
		t.Errorf("provider 1 key = %q", cfg.Oracle.Providers[1].APIKey)
	}
	if cfg.Routing.Embedding.APIKey != "from-google" {
		t.Errorf("embedding key = %q", cfg.Routing.Embedding.APIKey)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("super-secret", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if strings.Contains(enc, "super-secret") {
		t.Fatal("ciphertext leaks plaintext")
	}
	dec, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if dec != "super-secret" {
		t.Errorf("DecryptValue = %q", dec)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
	if _, err := DecryptValue("no-separator", "passphrase"); err == nil {
		t.Error("expected format error")
	}
}

func TestLoadDecryptsSecrets(t *testing.T) {
	enc, err := EncryptValue("real-key", "pass")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "oracle:\n  providers:\n    - name: gemini\n      type: gemini\n      model: m\n      api_key: \"enc:" + enc + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEACHERAGENT_CONFIG_KEY", "pass")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Oracle.Providers[0].APIKey != "real-key" {
		t.Errorf("APIKey = %q, want decrypted", cfg.Oracle.Providers[0].APIKey)
	}
}
