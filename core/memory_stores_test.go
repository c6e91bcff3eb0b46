package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryIdempotencyStoreConcurrentReserve(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()

	const callers = 32
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := store.CheckAndReserve(ctx, "acme:E1", fmt.Sprintf("evt_%d", i))
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if !result.AlreadyExists {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if firsts != 1 {
		t.Fatalf("expected exactly one first reservation, got %d", firsts)
	}
}

func TestMemoryIdempotencyStoreOutcomeAndRelease(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()

	if _, err := store.CheckAndReserve(ctx, "acme:E1", "evt_1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.RecordOutcome(ctx, "acme:E1", EventOutcome{EventID: "evt_1", Status: EventStatusCompleted}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	result, err := store.CheckAndReserve(ctx, "acme:E1", "evt_2")
	if err != nil {
		t.Fatalf("reserve again: %v", err)
	}
	if !result.AlreadyExists || result.Prior == nil || result.Prior.EventID != "evt_1" {
		t.Fatalf("expected prior reservation, got %+v", result)
	}
	if result.Prior.Outcome == nil || result.Prior.Outcome.Status != EventStatusCompleted {
		t.Fatalf("expected recorded outcome, got %+v", result.Prior.Outcome)
	}

	if err := store.Release(ctx, "acme:E1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	result, err = store.CheckAndReserve(ctx, "acme:E1", "evt_3")
	if err != nil || result.AlreadyExists {
		t.Fatalf("expected released key to be reservable, got %+v %v", result, err)
	}
	if err := store.RecordOutcome(ctx, "missing", EventOutcome{}); !errors.Is(err, ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestMemoryEventStoreTransitionIsCompareAndSwap(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, WebhookEvent{ID: "evt_1", DedupKey: "acme:E1", Provider: "acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, WebhookEvent{ID: "evt_2", DedupKey: "acme:E1"}); err == nil {
		t.Fatalf("expected duplicate dedup key to fail")
	}

	updated, err := store.Transition(ctx, "evt_1", EventStatusReceived, func(event *WebhookEvent) error {
		return event.TransitionTo(EventStatusValidating, time.Now())
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != EventStatusValidating {
		t.Fatalf("expected VALIDATING, got %s", updated.Status)
	}

	_, err = store.Transition(ctx, "evt_1", EventStatusReceived, func(event *WebhookEvent) error {
		return event.TransitionTo(EventStatusValidating, time.Now())
	})
	if !errors.Is(err, ErrStaleEventTransition) {
		t.Fatalf("expected stale transition error, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryEventStoreClaimDueRetriesOldestFirstAndExclusive(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()
	now := time.Now().UTC()

	due := []time.Duration{-time.Minute, -3 * time.Minute, -2 * time.Minute, time.Hour}
	for i, offset := range due {
		next := now.Add(offset)
		_, err := store.Create(ctx, WebhookEvent{
			ID:          fmt.Sprintf("evt_%d", i),
			DedupKey:    fmt.Sprintf("acme:E%d", i),
			Status:      EventStatusRetrying,
			NextRetryAt: &next,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	claimed, err := store.ClaimDueRetries(ctx, now, 2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 || claimed[0].ID != "evt_1" || claimed[1].ID != "evt_2" {
		t.Fatalf("expected oldest due events first, got %+v", claimed)
	}
	for _, event := range claimed {
		if event.Status != EventStatusProcessing {
			t.Fatalf("expected claimed event in PROCESSING, got %s", event.Status)
		}
	}

	claimed, err = store.ClaimDueRetries(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "evt_0" {
		t.Fatalf("expected remaining due event only, got %+v", claimed)
	}
}

func TestMemoryEventStoreListFilters(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()
	for i, provider := range []string{"acme", "careem", "acme"} {
		if _, err := store.Create(ctx, WebhookEvent{
			ID:       fmt.Sprintf("evt_%d", i),
			DedupKey: fmt.Sprintf("%s:E%d", provider, i),
			Provider: provider,
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	events, err := store.List(ctx, EventFilter{Provider: "acme", Status: EventStatusReceived})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].ID != "evt_2" {
		t.Fatalf("expected newest acme events first, got %+v", events)
	}
}

func TestMemoryMappingStoreResolves(t *testing.T) {
	store := NewMemoryMappingStore()
	ctx := context.Background()
	if _, err := store.UpsertBranch(ctx, BranchMapping{Provider: "ACME", ExternalBranchID: "b-1", BranchID: "branch_1", CompanyID: "co_1"}); err != nil {
		t.Fatalf("upsert branch: %v", err)
	}
	resolution, err := store.ResolveBranch(ctx, "acme", "b-1")
	if err != nil {
		t.Fatalf("resolve branch: %v", err)
	}
	if resolution.BranchID != "branch_1" || resolution.CompanyID != "co_1" {
		t.Fatalf("unexpected resolution: %+v", resolution)
	}
	if _, err := store.ResolveBranch(ctx, "acme", "b-2"); !errors.Is(err, ErrMappingNotFound) {
		t.Fatalf("expected mapping miss, got %v", err)
	}

	if _, err := store.UpsertProduct(ctx, ProductMapping{Provider: "acme", ExternalProductID: "p-1", ProductRef: "sku_1"}); err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	refs, err := store.ResolveProducts(ctx, "acme", []string{"p-1", "p-2"})
	if err != nil {
		t.Fatalf("resolve products: %v", err)
	}
	if len(refs) != 1 || refs["p-1"] != "sku_1" {
		t.Fatalf("unexpected product refs: %#v", refs)
	}
}
