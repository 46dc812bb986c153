package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 4400 {
		t.Errorf("Port = %d, want 4400", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "llama3.1" || cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("ollama defaults: %+v", cfg.Ollama)
	}
	if cfg.Routing.Mode != "auto" || cfg.Routing.HighScore != 0.85 {
		t.Errorf("routing defaults: %+v", cfg.Routing)
	}
	if !cfg.Extraction.Enabled || cfg.Federation.Enabled {
		t.Errorf("extraction on, federation off by default: %+v %+v", cfg.Extraction, cfg.Federation)
	}
	if err := cfg.Scoring.Weights.Validate(); err != nil {
		t.Errorf("default weights invalid: %v", err)
	}
}

func TestLoadFrom_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
ollama:
  model: mistral
federation:
  enabled: true
  source_paths:
    - /mnt/peer-a
    - /mnt/peer-b
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "mistral" {
		t.Errorf("Model = %q", cfg.Ollama.Model)
	}
	// Untouched keys keep their defaults.
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("EmbedModel = %q", cfg.Ollama.EmbedModel)
	}
	if !cfg.Federation.Enabled || len(cfg.Federation.SourcePaths) != 2 {
		t.Errorf("federation: %+v", cfg.Federation)
	}
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WEIR_SERVER_PORT", "9100")
	t.Setenv("WEIR_ROUTING_MODE", "local_only")
	t.Setenv("WEIR_FEDERATION_SOURCE_PATHS", "/a, /b,,/c")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Routing.Mode != "local_only" {
		t.Errorf("Mode = %q", cfg.Routing.Mode)
	}
	want := []string{"/a", "/b", "/c"}
	if len(cfg.Federation.SourcePaths) != 3 {
		t.Fatalf("SourcePaths = %v, want %v", cfg.Federation.SourcePaths, want)
	}
	for i, p := range want {
		if cfg.Federation.SourcePaths[i] != p {
			t.Errorf("SourcePaths[%d] = %q, want %q", i, cfg.Federation.SourcePaths[i], p)
		}
	}
}

func TestLoadFrom_UnparseableEnvKeepsPrior(t *testing.T) {
	t.Setenv("WEIR_SERVER_PORT", "not-a-number")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 4400 {
		t.Errorf("Port = %d, want default kept", cfg.Server.Port)
	}
}

func TestLoadFrom_RejectsInvalidWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
scoring:
  weights:
    complexity: 0.9
    reusability: 0.9
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for weights not summing to 1")
	}
}

func TestLoadFrom_RejectsBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 70000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := SetKey(path, "server.port", "8080"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetKey(path, "ollama.model", "phi3"); err != nil {
		t.Fatalf("set: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Ollama.Model != "phi3" {
		t.Errorf("round trip: port %d, model %q", cfg.Server.Port, cfg.Ollama.Model)
	}

	// Setting a second key under the same section preserves the first.
	if err := SetKey(path, "server.max_conns", "128"); err != nil {
		t.Fatal(err)
	}
	cfg, _ = LoadFrom(path)
	if cfg.Server.Port != 8080 || cfg.Server.MaxConns != 128 {
		t.Errorf("sibling key lost: %+v", cfg.Server)
	}
}

func TestSetKey_Validation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := SetKey(path, "no.such.key", "x"); err == nil {
		t.Error("unknown key accepted")
	}
	if err := SetKey(path, "server.port", "eighty"); err == nil {
		t.Error("non-integer port accepted")
	}
	err := SetKey(path, "server.auth_token", "secret")
	if err == nil {
		t.Fatal("secret key accepted")
	}
	if !strings.Contains(err.Error(), "WEIR_SERVER_AUTH_TOKEN") {
		t.Errorf("secret refusal should name the env var: %v", err)
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Remote.APIKey = "sk-very-secret"

	for _, info := range ShowAll(cfg) {
		if info.Key == "remote.api_key" || info.Key == "server.auth_token" {
			t.Errorf("secret key %s listed", info.Key)
		}
		if strings.Contains(info.Value, "sk-very-secret") {
			t.Errorf("secret value leaked under %s", info.Key)
		}
	}
}

func TestValidKeys(t *testing.T) {
	keys := ValidKeys()
	if len(keys) == 0 {
		t.Fatal("no keys listed")
	}
	for _, k := range keys {
		if k == "server.auth_token" || k == "remote.api_key" {
			t.Errorf("secret %s in valid keys", k)
		}
	}
}
