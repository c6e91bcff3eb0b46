package providers

import (
	"fmt"

	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/providers/acme"
	"github.com/goliatone/go-order-hub/providers/careem"
	"github.com/goliatone/go-order-hub/providers/talabat"
)

// Builtin returns a fresh adapter for every platform shipped with the hub.
func Builtin() []core.ProviderAdapter {
	return []core.ProviderAdapter{
		acme.New(),
		careem.New(),
		talabat.New(),
	}
}

// NewRegistry registers the built-in adapters followed by extra. An extra
// adapter reusing a built-in code fails registration.
func NewRegistry(extra ...core.ProviderAdapter) (*core.ProviderAdapterRegistry, error) {
	adapters := append(Builtin(), extra...)
	registry, err := core.NewProviderAdapterRegistry(adapters...)
	if err != nil {
		return nil, fmt.Errorf("providers: build registry: %w", err)
	}
	return registry, nil
}
