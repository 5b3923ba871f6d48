package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvModel, "")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_JSONWithDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, DefaultFileName, `{
  "api_url": "https://llm.example.com/v1/chat/completions",
  "api_key": "sk-test",
  "unknown_key": true
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	want := &Config{
		APIURL:         "https://llm.example.com/v1/chat/completions",
		APIKey:         "sk-test",
		Model:          "qwen3-coder-flash",
		Temperature:    0.3,
		MaxTokens:      4000,
		TimeoutSeconds: 60,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Timeout() != 60*time.Second {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "service.yaml", `
api_url: http://localhost:11434/v1/chat/completions
model: llama3
temperature: 0
timeout: 15
requests_per_second: 2.5
system_prompt: Be brief.
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model != "llama3" || cfg.Temperature != 0 || cfg.RequestsPerSecond != 2.5 || cfg.SystemPrompt != "Be brief." {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Timeout() != 15*time.Second {
		t.Errorf("Timeout() = %v, want 15s", cfg.Timeout())
	}

	sc := cfg.ServiceConfig()
	if sc.URL != cfg.APIURL || sc.Timeout != 15*time.Second || sc.SystemPrompt != "Be brief." || sc.MaxTokens != 4000 {
		t.Errorf("ServiceConfig() = %+v", sc)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvModel, "env-model")
	path := writeFile(t, "c.json", `{"api_url":"https://a.example/v1/chat/completions","api_key":"file","model":"file-model"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.APIKey != "from-env" || cfg.Model != "env-model" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoad_Malformed(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "c.json", `{"api_url": `)
	_, err := Load(path)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "c.json", `{"api_url":"not a url","model":"","temperature":5}`)

	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	for _, field := range []string{"api_url", "model", "temperature"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestValidate_Default(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("defaults without api_url should be invalid, got %v", err)
	}
	cfg.APIURL = "https://llm.example.com/v1/chat/completions"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}
