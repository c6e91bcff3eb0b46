package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-order-hub/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const branchResolutionCacheKeyPrefix = "go-order-hub::branch_resolution::v1"

// MappingBackend is the contract a cached mapping store decorates.
type MappingBackend interface {
	core.BranchResolver
	core.ProductResolver
	core.MappingWriter
}

// CachedMappingStore serves branch resolutions from a read-through cache.
// Writes go to the backend and evict the cached entry.
type CachedMappingStore struct {
	base  MappingBackend
	cache repositorycache.CacheService
}

func NewCachedMappingStore(base MappingBackend, cacheService repositorycache.CacheService) (*CachedMappingStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base mapping store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: mapping cache service is required")
	}
	return &CachedMappingStore{base: base, cache: cacheService}, nil
}

// BranchResolutionCacheKey returns go-order-hub::branch_resolution::v1::<provider>::<external_branch_id>
// with each segment URL-path escaped after normalization.
func BranchResolutionCacheKey(provider string, externalBranchID string) (string, error) {
	ref := core.ExternalRef{Provider: provider, ExternalID: externalBranchID, Kind: core.EntityKindBranch}.Normalize()
	if ref.Provider == "" || ref.ExternalID == "" {
		return "", fmt.Errorf("sqlstore: provider and external branch id are required")
	}
	return strings.Join([]string{
		branchResolutionCacheKeyPrefix,
		url.PathEscape(ref.Provider),
		url.PathEscape(ref.ExternalID),
	}, "::"), nil
}

func (s *CachedMappingStore) ResolveBranch(ctx context.Context, provider string, externalBranchID string) (core.BranchResolution, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.BranchResolution{}, fmt.Errorf("sqlstore: cached mapping store is not configured")
	}
	cacheKey, err := BranchResolutionCacheKey(provider, externalBranchID)
	if err != nil {
		return core.BranchResolution{}, core.ErrMappingNotFound
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.BranchResolution, error) {
		return s.base.ResolveBranch(ctx, provider, externalBranchID)
	})
}

func (s *CachedMappingStore) ResolveProducts(ctx context.Context, provider string, externalProductIDs []string) (map[string]string, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached mapping store is not configured")
	}
	return s.base.ResolveProducts(ctx, provider, externalProductIDs)
}

func (s *CachedMappingStore) UpsertBranch(ctx context.Context, mapping core.BranchMapping) (core.BranchMapping, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.BranchMapping{}, fmt.Errorf("sqlstore: cached mapping store is not configured")
	}
	saved, err := s.base.UpsertBranch(ctx, mapping)
	if err != nil {
		return core.BranchMapping{}, err
	}
	cacheKey, err := BranchResolutionCacheKey(saved.Provider, saved.ExternalBranchID)
	if err != nil {
		return core.BranchMapping{}, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return core.BranchMapping{}, err
	}
	return saved, nil
}

func (s *CachedMappingStore) UpsertProduct(ctx context.Context, mapping core.ProductMapping) (core.ProductMapping, error) {
	if s == nil || s.base == nil {
		return core.ProductMapping{}, fmt.Errorf("sqlstore: cached mapping store is not configured")
	}
	return s.base.UpsertProduct(ctx, mapping)
}

var _ MappingBackend = (*CachedMappingStore)(nil)
