package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderAdapterRegistry resolves adapters by lower-cased provider code.
type ProviderAdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[string]ProviderAdapter
}

func NewProviderAdapterRegistry(adapters ...ProviderAdapter) (*ProviderAdapterRegistry, error) {
	registry := &ProviderAdapterRegistry{adapters: make(map[string]ProviderAdapter)}
	for _, adapter := range adapters {
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *ProviderAdapterRegistry) Register(adapter ProviderAdapter) error {
	if r == nil {
		return fmt.Errorf("core: adapter registry is nil")
	}
	if adapter == nil {
		return fmt.Errorf("core: provider adapter is nil")
	}
	code := normalizeProviderCode(adapter.Code())
	if code == "" {
		return fmt.Errorf("core: provider code is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adapters == nil {
		r.adapters = make(map[string]ProviderAdapter)
	}
	if _, exists := r.adapters[code]; exists {
		return fmt.Errorf("core: provider adapter already registered: %s", code)
	}
	r.adapters[code] = adapter
	return nil
}

func (r *ProviderAdapterRegistry) Resolve(providerCode string) (ProviderAdapter, error) {
	code := normalizeProviderCode(providerCode)
	if r != nil && code != "" {
		r.mu.RLock()
		adapter, ok := r.adapters[code]
		r.mu.RUnlock()
		if ok {
			return adapter, nil
		}
	}
	return nil, NewHubError(
		ErrorUnsupportedProvider,
		fmt.Sprintf("unsupported provider %q", strings.TrimSpace(providerCode)),
		map[string]any{"provider": code},
	)
}

func (r *ProviderAdapterRegistry) List() []ProviderAdapter {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		keys = append(keys, code)
	}
	sort.Strings(keys)
	adapters := make([]ProviderAdapter, 0, len(keys))
	for _, code := range keys {
		adapters = append(adapters, r.adapters[code])
	}
	return adapters
}

func normalizeProviderCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
