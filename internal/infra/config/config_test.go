package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want 5", cfg.Agent.MaxIterations)
	}
	if cfg.LLM.DefaultProvider != "gemini" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "gemini")
	}
	if cfg.Proactive.CheckTimeout != 2*time.Second {
		t.Errorf("CheckTimeout = %v, want 2s", cfg.Proactive.CheckTimeout)
	}
	if cfg.Tools.CallTimeout != 10*time.Second {
		t.Errorf("CallTimeout = %v, want 10s", cfg.Tools.CallTimeout)
	}
	if cfg.Memory.MaxObservations != 100 {
		t.Errorf("MaxObservations = %d, want 100", cfg.Memory.MaxObservations)
	}
	if cfg.Collaborators.Meds.URL != "http://kilo-meds:9000" {
		t.Errorf("Meds.URL = %q", cfg.Collaborators.Meds.URL)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("expected defaults, got MaxIterations=%d", cfg.Agent.MaxIterations)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  max_iterations: 8
  timeout: 30s
llm:
  default_provider: "local"
  providers:
    - name: "local"
      type: "ollama"
      base_url: "http://localhost:11434"
      model: "llama3"
  failover:
    enabled: false
collaborators:
  meds:
    url: "http://localhost:9100"
proactive:
  check_timeout: 500ms
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 8 {
		t.Errorf("MaxIterations = %d, want 8", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Agent.Timeout)
	}
	if len(cfg.LLM.Providers) != 1 || cfg.LLM.Providers[0].Type != "ollama" {
		t.Errorf("Providers mismatch: %+v", cfg.LLM.Providers)
	}
	if cfg.Collaborators.Meds.URL != "http://localhost:9100" {
		t.Errorf("Meds.URL = %q", cfg.Collaborators.Meds.URL)
	}
	// Untouched sections keep their defaults.
	if cfg.Collaborators.Habits.URL != "http://kilo-habits:9000" {
		t.Errorf("Habits.URL = %q", cfg.Collaborators.Habits.URL)
	}
	if cfg.Proactive.CheckTimeout != 500*time.Millisecond {
		t.Errorf("CheckTimeout = %v", cfg.Proactive.CheckTimeout)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agent: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadRejectsWorldWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agent: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KILO_LLM_DEFAULT_PROVIDER", "ollama")
	t.Setenv("KILO_LLM_PROVIDER_GEMINI_API_KEY", "gm-key")
	t.Setenv("KILO_LOGGER_LEVEL", "debug")
	t.Setenv("KILO_AGENT_MAX_ITERATIONS", "3")
	t.Setenv("KILO_COLLABORATOR_LIBRARY_URL", "http://library.local")
	t.Setenv("KILO_GATEWAY_ALLOWED_ORIGINS", "a.example, b.example")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.DefaultProvider != "ollama" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "ollama")
	}
	if cfg.LLM.Providers[0].APIKey != "gm-key" {
		t.Errorf("gemini APIKey = %q", cfg.LLM.Providers[0].APIKey)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Agent.MaxIterations != 3 {
		t.Errorf("MaxIterations = %d, want 3", cfg.Agent.MaxIterations)
	}
	if cfg.Collaborators.Library.URL != "http://library.local" {
		t.Errorf("Library.URL = %q", cfg.Collaborators.Library.URL)
	}
	if len(cfg.Gateway.AllowedOrigins) != 2 || cfg.Gateway.AllowedOrigins[1] != "b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.Gateway.AllowedOrigins)
	}
}

func TestEnvOverrideBadIntegerIgnored(t *testing.T) {
	t.Setenv("KILO_AGENT_MAX_ITERATIONS", "many")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want default 5", cfg.Agent.MaxIterations)
	}
}

func TestLoadDecryptsSecrets(t *testing.T) {
	enc, err := EncryptValue("secret-key", "pass")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "tools:\n  brave_api_key: \"enc:" + enc + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KILO_CONFIG_KEY", "pass")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tools.BraveAPIKey != "secret-key" {
		t.Errorf("BraveAPIKey = %q, want decrypted value", cfg.Tools.BraveAPIKey)
	}
}
