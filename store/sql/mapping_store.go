package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MappingStore keeps the (provider, external id) to internal id mappings
// for branches and products.
type MappingStore struct {
	db       *bun.DB
	branches repository.Repository[*branchMappingRecord]
	products repository.Repository[*productMappingRecord]
}

func NewMappingStore(db *bun.DB) (*MappingStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	branches := repository.NewRepository[*branchMappingRecord](db, uuidHandlers(func() *branchMappingRecord { return &branchMappingRecord{} }))
	if validator, ok := branches.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid branch mapping repository wiring: %w", err)
		}
	}
	products := repository.NewRepository[*productMappingRecord](db, uuidHandlers(func() *productMappingRecord { return &productMappingRecord{} }))
	if validator, ok := products.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid product mapping repository wiring: %w", err)
		}
	}
	return &MappingStore{db: db, branches: branches, products: products}, nil
}

func (s *MappingStore) UpsertBranch(ctx context.Context, mapping core.BranchMapping) (core.BranchMapping, error) {
	return s.upsertBranch(ctx, mapping, true)
}

func (s *MappingStore) upsertBranch(ctx context.Context, mapping core.BranchMapping, retryOnConflict bool) (core.BranchMapping, error) {
	if s == nil || s.branches == nil {
		return core.BranchMapping{}, fmt.Errorf("sqlstore: mapping store is not configured")
	}
	ref := core.ExternalRef{Provider: mapping.Provider, ExternalID: mapping.ExternalBranchID, Kind: core.EntityKindBranch}.Normalize()
	branchID := strings.TrimSpace(mapping.BranchID)
	if ref.Provider == "" || ref.ExternalID == "" || branchID == "" {
		return core.BranchMapping{}, fmt.Errorf("sqlstore: provider, external branch id and branch id are required")
	}
	now := time.Now().UTC()

	existing, err := s.findBranch(ctx, ref)
	if err != nil {
		return core.BranchMapping{}, err
	}
	if existing != nil {
		existing.BranchID = branchID
		existing.CompanyID = strings.TrimSpace(mapping.CompanyID)
		existing.UpdatedAt = now
		updated, err := s.branches.Update(ctx, existing, repository.UpdateByID(existing.ID))
		if err != nil {
			return core.BranchMapping{}, err
		}
		return updated.toDomain(), nil
	}

	created, err := s.branches.Create(ctx, &branchMappingRecord{
		ID:               uuid.NewString(),
		Provider:         ref.Provider,
		ExternalBranchID: ref.ExternalID,
		BranchID:         branchID,
		CompanyID:        strings.TrimSpace(mapping.CompanyID),
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		if retryOnConflict && isUniqueViolation(err) {
			return s.upsertBranch(ctx, mapping, false)
		}
		return core.BranchMapping{}, err
	}
	return created.toDomain(), nil
}

func (s *MappingStore) UpsertProduct(ctx context.Context, mapping core.ProductMapping) (core.ProductMapping, error) {
	return s.upsertProduct(ctx, mapping, true)
}

func (s *MappingStore) upsertProduct(ctx context.Context, mapping core.ProductMapping, retryOnConflict bool) (core.ProductMapping, error) {
	if s == nil || s.products == nil {
		return core.ProductMapping{}, fmt.Errorf("sqlstore: mapping store is not configured")
	}
	ref := core.ExternalRef{Provider: mapping.Provider, ExternalID: mapping.ExternalProductID, Kind: core.EntityKindProduct}.Normalize()
	productRef := strings.TrimSpace(mapping.ProductRef)
	if ref.Provider == "" || ref.ExternalID == "" || productRef == "" {
		return core.ProductMapping{}, fmt.Errorf("sqlstore: provider, external product id and product ref are required")
	}
	now := time.Now().UTC()

	records, _, err := s.products.List(ctx,
		repository.SelectBy("provider", "=", ref.Provider),
		repository.SelectBy("external_product_id", "=", ref.ExternalID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.ProductMapping{}, err
	}
	if len(records) > 0 {
		existing := records[0]
		existing.ProductRef = productRef
		existing.UpdatedAt = now
		updated, err := s.products.Update(ctx, existing, repository.UpdateByID(existing.ID))
		if err != nil {
			return core.ProductMapping{}, err
		}
		return updated.toDomain(), nil
	}

	created, err := s.products.Create(ctx, &productMappingRecord{
		ID:                uuid.NewString(),
		Provider:          ref.Provider,
		ExternalProductID: ref.ExternalID,
		ProductRef:        productRef,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		if retryOnConflict && isUniqueViolation(err) {
			return s.upsertProduct(ctx, mapping, false)
		}
		return core.ProductMapping{}, err
	}
	return created.toDomain(), nil
}

func (s *MappingStore) ResolveBranch(ctx context.Context, provider string, externalBranchID string) (core.BranchResolution, error) {
	if s == nil || s.branches == nil {
		return core.BranchResolution{}, fmt.Errorf("sqlstore: mapping store is not configured")
	}
	ref := core.ExternalRef{Provider: provider, ExternalID: externalBranchID, Kind: core.EntityKindBranch}.Normalize()
	record, err := s.findBranch(ctx, ref)
	if err != nil {
		return core.BranchResolution{}, err
	}
	if record == nil {
		return core.BranchResolution{}, core.ErrMappingNotFound
	}
	return core.BranchResolution{BranchID: record.BranchID, CompanyID: record.CompanyID}, nil
}

func (s *MappingStore) ResolveProducts(ctx context.Context, provider string, externalProductIDs []string) (map[string]string, error) {
	if s == nil || s.products == nil {
		return nil, fmt.Errorf("sqlstore: mapping store is not configured")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	ids := make([]string, 0, len(externalProductIDs))
	for _, id := range externalProductIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	out := make(map[string]string, len(ids))
	if provider == "" || len(ids) == 0 {
		return out, nil
	}
	records, _, err := s.products.List(ctx,
		repository.SelectBy("provider", "=", provider),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.external_product_id IN (?)", bun.In(ids))
		}),
	)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		out[record.ExternalProductID] = record.ProductRef
	}
	return out, nil
}

// ListBranches returns the branch mappings for provider, or every mapping
// when provider is empty.
func (s *MappingStore) ListBranches(ctx context.Context, provider string) ([]core.BranchMapping, error) {
	if s == nil || s.branches == nil {
		return nil, fmt.Errorf("sqlstore: mapping store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("provider ASC, external_branch_id ASC"),
	}
	if provider = strings.ToLower(strings.TrimSpace(provider)); provider != "" {
		selectors = append(selectors, repository.SelectBy("provider", "=", provider))
	}
	records, _, err := s.branches.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.BranchMapping, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *MappingStore) findBranch(ctx context.Context, ref core.ExternalRef) (*branchMappingRecord, error) {
	records, _, err := s.branches.List(ctx,
		repository.SelectBy("provider", "=", ref.Provider),
		repository.SelectBy("external_branch_id", "=", ref.ExternalID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

var (
	_ core.BranchResolver  = (*MappingStore)(nil)
	_ core.ProductResolver = (*MappingStore)(nil)
	_ core.MappingWriter   = (*MappingStore)(nil)
)
