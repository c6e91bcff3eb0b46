package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-order-hub/core"
)

func writeFile(t *testing.T, dir string, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFileLoader_ExpandsEnvAndNormalizesDurations(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "ACME_SECRET=from-dotenv\nDOWNSTREAM_URL=http://dotenv\n")
	path := writeFile(t, dir, "hub.yaml", `
service_name: order-hub
downstream:
  base_url: ${DOWNSTREAM_URL}
  timeout: 3s
retry:
  schedule: ["1m", "5m"]
providers:
  acme:
    secrets: ["${ACME_SECRET}"]
`)
	loader := &FileLoader{
		Path:     path,
		EnvFiles: []string{envFile},
		Environ:  func() []string { return []string{"DOWNSTREAM_URL=http://process"} },
	}

	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	downstream := raw["downstream"].(map[string]any)
	if downstream["base_url"] != "http://process" {
		t.Fatalf("expected process env to win over dotenv, got %v", downstream["base_url"])
	}
	if downstream["timeout"] != 3*time.Second {
		t.Fatalf("expected parsed timeout, got %#v", downstream["timeout"])
	}
	schedule := raw["retry"].(map[string]any)["schedule"].([]time.Duration)
	if len(schedule) != 2 || schedule[1] != 5*time.Minute {
		t.Fatalf("unexpected schedule %#v", schedule)
	}
	secrets := raw["providers"].(map[string]any)["acme"].(map[string]any)["secrets"].([]any)
	if secrets[0] != "from-dotenv" {
		t.Fatalf("expected dotenv expansion, got %#v", secrets)
	}
}

func TestFileLoader_EnvOverridesNestByDoubleUnderscore(t *testing.T) {
	loader := &FileLoader{
		Environ: func() []string {
			return []string{
				"ORDERHUB_SNOWFLAKE_NODE=1",
				"ORDERHUB_BREAKER__RESET_TIMEOUT=45s",
				"ORDERHUB_PROVIDERS__ACME__ALLOW_UNSIGNED=true",
				"ORDERHUB_PROVIDERS__ACME__SECRETS=one,two",
				"UNRELATED=1",
			}
		},
	}
	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if raw["snowflake_node"] != int64(1) {
		t.Fatalf("expected numeric node, got %#v", raw["snowflake_node"])
	}
	if raw["breaker"].(map[string]any)["reset_timeout"] != 45*time.Second {
		t.Fatalf("unexpected breaker %#v", raw["breaker"])
	}
	acme := raw["providers"].(map[string]any)["acme"].(map[string]any)
	if acme["allow_unsigned"] != true {
		t.Fatalf("expected bool override, got %#v", acme["allow_unsigned"])
	}
	if secrets, ok := acme["secrets"].([]any); !ok || len(secrets) != 2 {
		t.Fatalf("expected comma list, got %#v", acme["secrets"])
	}
	if _, ok := raw["unrelated"]; ok {
		t.Fatalf("unprefixed env must be ignored")
	}
}

func TestFileLoader_MissingFilesYieldEmptyLayer(t *testing.T) {
	loader := &FileLoader{
		Path:     filepath.Join(t.TempDir(), "absent.yaml"),
		EnvFiles: []string{filepath.Join(t.TempDir(), "absent.env")},
		Environ:  func() []string { return nil },
	}
	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(raw) != 0 {
		t.Fatalf("expected empty map, got %#v", raw)
	}
}

func TestFileLoader_RejectsBadDuration(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hub.yaml", "retry:\n  interval: soon\n")
	loader := &FileLoader{Path: path, Environ: func() []string { return nil }}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected invalid duration to fail")
	}
}

func TestFileLoader_RejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hub.yaml", "retry: [\n")
	loader := &FileLoader{Path: path, Environ: func() []string { return nil }}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFileLoader_HonoursCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFileLoader("").LoadRaw(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}

var _ core.RawConfigLoader = NewFileLoader("")
