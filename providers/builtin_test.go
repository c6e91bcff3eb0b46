package providers_test

import (
	"testing"

	"github.com/goliatone/go-order-hub/providers"
	"github.com/goliatone/go-order-hub/providers/acme"
	"github.com/goliatone/go-order-hub/providers/devkit"
)

func TestBuiltinAdaptersPassConformance(t *testing.T) {
	fixtures := map[string][]byte{
		"acme":    devkit.AcmeOrder("evt_builtin_acme"),
		"careem":  devkit.CareemOrder("evt_builtin_careem"),
		"talabat": devkit.TalabatOrder("evt_builtin_talabat"),
	}
	wantIDs := map[string]string{
		"acme":    "evt_builtin_acme",
		"careem":  "evt_builtin_careem",
		"talabat": "evt_builtin_talabat",
	}
	for _, adapter := range providers.Builtin() {
		payload, ok := fixtures[adapter.Code()]
		if !ok {
			t.Fatalf("no fixture for built-in adapter %q", adapter.Code())
		}
		if err := devkit.ValidateProviderAdapterConformance(adapter, payload, wantIDs[adapter.Code()]); err != nil {
			t.Fatalf("%s conformance: %v", adapter.Code(), err)
		}
	}
}

func TestNewRegistryResolvesBuiltinsAndRejectsDuplicates(t *testing.T) {
	registry, err := providers.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	for _, code := range []string{"acme", "CAREEM", " talabat "} {
		if _, err := registry.Resolve(code); err != nil {
			t.Fatalf("resolve %q: %v", code, err)
		}
	}
	if _, err := providers.NewRegistry(acme.New()); err == nil {
		t.Fatalf("expected duplicate acme adapter to fail")
	}
}
