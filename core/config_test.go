package core

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.ResetTimeout != 30*time.Second {
		t.Fatalf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Retry.MaxRetries != 10 || len(cfg.Retry.Schedule) != 10 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Retry.Schedule[0] != time.Minute || cfg.Retry.Schedule[9] != 24*time.Hour {
		t.Fatalf("unexpected schedule: %v", cfg.Retry.Schedule)
	}
}

func TestConfigValidateRejectsUnsignedWithoutOptIn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderAdapterConfig{"acme": {}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected provider without secrets to be rejected")
	}

	cfg.Providers = map[string]ProviderAdapterConfig{"acme": {AllowUnsigned: true}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected explicit unsigned opt-in to validate: %v", err)
	}
}

func TestProviderConfigLookupIsCaseInsensitive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderAdapterConfig{"Acme": {Secrets: []string{"S2", "S1"}}}

	provider, ok := cfg.ProviderConfig("ACME")
	if !ok {
		t.Fatalf("expected provider config")
	}
	if provider.Provider != "acme" || len(provider.Secrets) != 2 || provider.Secrets[0] != "S2" {
		t.Fatalf("unexpected provider config: %+v", provider)
	}
	provider.Secrets[0] = "mutated"
	if cfg.Providers["Acme"].Secrets[0] != "S2" {
		t.Fatalf("expected returned secrets to be a copy")
	}
}

func TestResolveConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticConfigLoader(map[string]any{
		"service_name": "from-config",
		"breaker": map[string]any{
			"failure_threshold": 3,
		},
	}))

	cfg, err := ResolveConfig(context.Background(), provider, GoOptionsResolver{}, Config{ServiceName: "from-runtime"})
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to win, got %q", cfg.ServiceName)
	}
	if cfg.Breaker.FailureThreshold != 3 {
		t.Fatalf("expected config layer breaker threshold, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Retry.BatchSize != 100 {
		t.Fatalf("expected default batch size to survive, got %d", cfg.Retry.BatchSize)
	}
}
