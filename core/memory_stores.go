package core

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryEventStore is a process-local EventStore used by tests and by
// deployments that do not configure a database.
type MemoryEventStore struct {
	mu       sync.Mutex
	events   map[string]WebhookEvent
	byDedup  map[string]string
	sequence []string
	now      func() time.Time
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events:  make(map[string]WebhookEvent),
		byDedup: make(map[string]string),
		now:     time.Now,
	}
}

// WithClock replaces the clock that stamps updatedAt, which is the lease
// ClaimStalled compares against.
func (s *MemoryEventStore) WithClock(now func() time.Time) *MemoryEventStore {
	if s != nil && now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryEventStore) Create(_ context.Context, event WebhookEvent) (WebhookEvent, error) {
	if s == nil {
		return WebhookEvent{}, fmt.Errorf("core: event store is nil")
	}
	event.ID = strings.TrimSpace(event.ID)
	event.DedupKey = strings.TrimSpace(event.DedupKey)
	if event.ID == "" {
		return WebhookEvent{}, fmt.Errorf("core: event id is required")
	}
	if event.DedupKey == "" {
		return WebhookEvent{}, fmt.Errorf("core: event dedup key is required")
	}
	if event.Status == "" {
		event.Status = EventStatusReceived
	}
	now := s.now().UTC()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	event.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return WebhookEvent{}, fmt.Errorf("core: event %q already exists", event.ID)
	}
	if _, exists := s.byDedup[event.DedupKey]; exists {
		return WebhookEvent{}, fmt.Errorf("core: dedup key %q already exists", event.DedupKey)
	}
	stored := cloneEvent(event)
	s.events[event.ID] = stored
	s.byDedup[event.DedupKey] = event.ID
	s.sequence = append(s.sequence, event.ID)
	return cloneEvent(stored), nil
}

func (s *MemoryEventStore) Get(_ context.Context, id string) (WebhookEvent, error) {
	if s == nil {
		return WebhookEvent{}, ErrEventNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(id)]
	if !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	return cloneEvent(event), nil
}

func (s *MemoryEventStore) GetByDedupKey(_ context.Context, dedupKey string) (WebhookEvent, error) {
	if s == nil {
		return WebhookEvent{}, ErrEventNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byDedup[strings.TrimSpace(dedupKey)]
	if !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	return cloneEvent(s.events[id]), nil
}

func (s *MemoryEventStore) Transition(
	_ context.Context,
	id string,
	from EventStatus,
	mutate func(*WebhookEvent) error,
) (WebhookEvent, error) {
	if s == nil {
		return WebhookEvent{}, ErrEventNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.events[strings.TrimSpace(id)]
	if !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	if current.Status != from {
		return WebhookEvent{}, fmt.Errorf("%w: expected %s, found %s", ErrStaleEventTransition, from, current.Status)
	}
	next := cloneEvent(current)
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return WebhookEvent{}, err
		}
	}
	next.ID = current.ID
	next.DedupKey = current.DedupKey
	next.UpdatedAt = s.now().UTC()
	s.events[current.ID] = cloneEvent(next)
	return next, nil
}

func (s *MemoryEventStore) ClaimDueRetries(_ context.Context, now time.Time, limit int) ([]WebhookEvent, error) {
	return s.claim(limit, []EventStatus{EventStatusRetrying}, EventStatusProcessing, func(event WebhookEvent) bool {
		return event.NextRetryAt != nil && !event.NextRetryAt.After(now)
	}, func(event WebhookEvent) time.Time {
		return *event.NextRetryAt
	})
}

func (s *MemoryEventStore) ClaimStale(_ context.Context, olderThan time.Time, limit int) ([]WebhookEvent, error) {
	return s.claim(limit, []EventStatus{EventStatusReceived}, EventStatusValidating, func(event WebhookEvent) bool {
		return event.ReceivedAt.Before(olderThan)
	}, func(event WebhookEvent) time.Time {
		return event.ReceivedAt
	})
}

func (s *MemoryEventStore) ClaimStalled(_ context.Context, olderThan time.Time, limit int) ([]WebhookEvent, error) {
	return s.claim(limit, []EventStatus{EventStatusValidating, EventStatusProcessing}, EventStatusProcessing, func(event WebhookEvent) bool {
		return event.UpdatedAt.Before(olderThan)
	}, func(event WebhookEvent) time.Time {
		return event.UpdatedAt
	})
}

func (s *MemoryEventStore) claim(
	limit int,
	from []EventStatus,
	to EventStatus,
	due func(WebhookEvent) bool,
	orderBy func(WebhookEvent) time.Time,
) ([]WebhookEvent, error) {
	if s == nil || limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := make([]WebhookEvent, 0)
	for _, id := range s.sequence {
		event := s.events[id]
		if slices.Contains(from, event.Status) && due(event) {
			candidates = append(candidates, event)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return orderBy(candidates[i]).Before(orderBy(candidates[j]))
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	now := s.now().UTC()
	claimed := make([]WebhookEvent, 0, len(candidates))
	for _, event := range candidates {
		event.Status = to
		event.UpdatedAt = now
		s.events[event.ID] = cloneEvent(event)
		claimed = append(claimed, cloneEvent(event))
	}
	return claimed, nil
}

func (s *MemoryEventStore) List(_ context.Context, filter EventFilter) ([]WebhookEvent, error) {
	if s == nil {
		return nil, nil
	}
	provider := normalizeProviderCode(filter.Provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WebhookEvent, 0)
	for i := len(s.sequence) - 1; i >= 0; i-- {
		event := s.events[s.sequence[i]]
		if provider != "" && event.Provider != provider {
			continue
		}
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		out = append(out, cloneEvent(event))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func cloneEvent(event WebhookEvent) WebhookEvent {
	out := event
	if event.RawPayload != nil {
		out.RawPayload = append([]byte(nil), event.RawPayload...)
	}
	if event.Headers != nil {
		out.Headers = make(map[string]string, len(event.Headers))
		for key, value := range event.Headers {
			out.Headers[key] = value
		}
	}
	if event.NextRetryAt != nil {
		next := *event.NextRetryAt
		out.NextRetryAt = &next
	}
	if event.ProcessedAt != nil {
		processed := *event.ProcessedAt
		out.ProcessedAt = &processed
	}
	if event.Order != nil {
		order := *event.Order
		order.Items = append([]OrderItem(nil), event.Order.Items...)
		out.Order = &order
	}
	return out
}

// MemoryIdempotencyStore reserves keys under a mutex, which gives the same
// insert-or-fail semantics as a unique index.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]IdempotencyRecord
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: make(map[string]IdempotencyRecord), now: time.Now}
}

func (s *MemoryIdempotencyStore) CheckAndReserve(_ context.Context, dedupKey string, eventID string) (IdempotencyResult, error) {
	if s == nil {
		return IdempotencyResult{}, fmt.Errorf("core: idempotency store is nil")
	}
	dedupKey = strings.TrimSpace(dedupKey)
	eventID = strings.TrimSpace(eventID)
	if dedupKey == "" || eventID == "" {
		return IdempotencyResult{}, fmt.Errorf("core: dedup key and event id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, exists := s.records[dedupKey]; exists {
		copied := cloneIdempotencyRecord(prior)
		return IdempotencyResult{AlreadyExists: true, Prior: &copied}, nil
	}
	now := s.now().UTC()
	s.records[dedupKey] = IdempotencyRecord{
		DedupKey:  dedupKey,
		EventID:   eventID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return IdempotencyResult{}, nil
}

func (s *MemoryIdempotencyStore) RecordOutcome(_ context.Context, dedupKey string, outcome EventOutcome) error {
	if s == nil {
		return fmt.Errorf("core: idempotency store is nil")
	}
	dedupKey = strings.TrimSpace(dedupKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[dedupKey]
	if !ok {
		return ErrIdempotencyKeyNotFound
	}
	record.Outcome = &outcome
	record.UpdatedAt = s.now().UTC()
	s.records[dedupKey] = record
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, dedupKey string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	delete(s.records, strings.TrimSpace(dedupKey))
	s.mu.Unlock()
	return nil
}

func (s *MemoryIdempotencyStore) Reclaim(_ context.Context, dedupKey string, staleEventID string, eventID string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("core: idempotency store is nil")
	}
	dedupKey = strings.TrimSpace(dedupKey)
	eventID = strings.TrimSpace(eventID)
	if dedupKey == "" || eventID == "" {
		return false, fmt.Errorf("core: dedup key and event id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[dedupKey]
	if !ok || record.EventID != strings.TrimSpace(staleEventID) || record.Outcome != nil {
		return false, nil
	}
	now := s.now().UTC()
	s.records[dedupKey] = IdempotencyRecord{
		DedupKey:  dedupKey,
		EventID:   eventID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

func cloneIdempotencyRecord(record IdempotencyRecord) IdempotencyRecord {
	out := record
	if record.Outcome != nil {
		outcome := *record.Outcome
		out.Outcome = &outcome
	}
	return out
}

// MemoryMappingStore holds typed external-ID mappings for branches and
// products keyed by (provider, externalId, kind).
type MemoryMappingStore struct {
	mu       sync.RWMutex
	branches map[ExternalRef]BranchMapping
	products map[ExternalRef]ProductMapping
}

func NewMemoryMappingStore() *MemoryMappingStore {
	return &MemoryMappingStore{
		branches: make(map[ExternalRef]BranchMapping),
		products: make(map[ExternalRef]ProductMapping),
	}
}

func (s *MemoryMappingStore) UpsertBranch(_ context.Context, mapping BranchMapping) (BranchMapping, error) {
	ref := ExternalRef{Provider: mapping.Provider, ExternalID: mapping.ExternalBranchID, Kind: EntityKindBranch}.Normalize()
	if ref.Provider == "" || ref.ExternalID == "" || strings.TrimSpace(mapping.BranchID) == "" {
		return BranchMapping{}, fmt.Errorf("core: provider, external branch id and branch id are required")
	}
	mapping.Provider = ref.Provider
	mapping.ExternalBranchID = ref.ExternalID
	mapping.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.branches[ref] = mapping
	s.mu.Unlock()
	return mapping, nil
}

func (s *MemoryMappingStore) UpsertProduct(_ context.Context, mapping ProductMapping) (ProductMapping, error) {
	ref := ExternalRef{Provider: mapping.Provider, ExternalID: mapping.ExternalProductID, Kind: EntityKindProduct}.Normalize()
	if ref.Provider == "" || ref.ExternalID == "" || strings.TrimSpace(mapping.ProductRef) == "" {
		return ProductMapping{}, fmt.Errorf("core: provider, external product id and product ref are required")
	}
	mapping.Provider = ref.Provider
	mapping.ExternalProductID = ref.ExternalID
	mapping.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.products[ref] = mapping
	s.mu.Unlock()
	return mapping, nil
}

func (s *MemoryMappingStore) ResolveBranch(_ context.Context, provider string, externalBranchID string) (BranchResolution, error) {
	ref := ExternalRef{Provider: provider, ExternalID: externalBranchID, Kind: EntityKindBranch}.Normalize()
	s.mu.RLock()
	mapping, ok := s.branches[ref]
	s.mu.RUnlock()
	if !ok {
		return BranchResolution{}, ErrMappingNotFound
	}
	return BranchResolution{BranchID: mapping.BranchID, CompanyID: mapping.CompanyID}, nil
}

func (s *MemoryMappingStore) ResolveProducts(_ context.Context, provider string, externalProductIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(externalProductIDs))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range externalProductIDs {
		ref := ExternalRef{Provider: provider, ExternalID: id, Kind: EntityKindProduct}.Normalize()
		if mapping, ok := s.products[ref]; ok {
			out[ref.ExternalID] = mapping.ProductRef
		}
	}
	return out, nil
}
