// Package devkit holds fixtures, fakes and conformance checks shared by
// provider adapters and store implementations.
package devkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
)

// ValidateProviderAdapterConformance runs an adapter through the contract
// the pipeline relies on using a known-good payload.
func ValidateProviderAdapterConformance(adapter core.ProviderAdapter, payload []byte, wantEventID string) error {
	if adapter == nil {
		return fmt.Errorf("devkit: provider adapter is required")
	}
	code := strings.TrimSpace(adapter.Code())
	if code == "" || code != strings.ToLower(code) {
		return fmt.Errorf("devkit: adapter code must be non-empty lowercase, got %q", adapter.Code())
	}
	signing := adapter.SigningConfig()
	if signing.Algorithm == "" || len(signing.Headers) == 0 {
		return fmt.Errorf("devkit: adapter %s must declare a signing algorithm and header", code)
	}
	eventID, ok := adapter.EventID(payload, nil)
	if !ok || eventID != wantEventID {
		return fmt.Errorf("devkit: adapter %s extracted event id %q, want %q", code, eventID, wantEventID)
	}
	parsed, err := adapter.Parse(payload)
	if err != nil {
		return fmt.Errorf("devkit: adapter %s parse: %w", code, err)
	}
	if parsed.ExternalOrderID == "" || parsed.ExternalBranchID == "" {
		return fmt.Errorf("devkit: adapter %s must extract order and branch ids", code)
	}
	if validator, ok := adapter.(core.StructuralValidator); ok {
		if err := validator.ValidateStructure(parsed); err != nil {
			return fmt.Errorf("devkit: adapter %s structural validation: %w", code, err)
		}
	}
	order, err := adapter.ToUnifiedOrder(parsed)
	if err != nil {
		return fmt.Errorf("devkit: adapter %s unified order: %w", code, err)
	}
	if len(order.Items) == 0 {
		return fmt.Errorf("devkit: adapter %s produced an order without items", code)
	}
	if !order.Pricing.Balanced() {
		return fmt.Errorf("devkit: adapter %s produced unbalanced pricing %+v", code, order.Pricing)
	}
	if adapter.MapStatus("definitely-not-a-status") != core.OrderStatusUnknown {
		return fmt.Errorf("devkit: adapter %s must map unknown statuses to UNKNOWN", code)
	}
	if _, err := adapter.Parse([]byte("{not json")); err == nil {
		return fmt.Errorf("devkit: adapter %s accepted malformed JSON", code)
	}
	return nil
}

// ValidateIdempotencyStoreConformance checks reserve-once semantics,
// compare-and-set reclaims and outcome recording.
func ValidateIdempotencyStoreConformance(ctx context.Context, store core.IdempotencyStore, key string) error {
	if store == nil {
		return fmt.Errorf("devkit: idempotency store is required")
	}
	first, err := store.CheckAndReserve(ctx, key, "evt_first")
	if err != nil {
		return err
	}
	if first.AlreadyExists {
		return fmt.Errorf("devkit: first reservation should be accepted")
	}
	second, err := store.CheckAndReserve(ctx, key, "evt_second")
	if err != nil {
		return err
	}
	if !second.AlreadyExists || second.Prior == nil || second.Prior.EventID != "evt_first" {
		return fmt.Errorf("devkit: second reservation should return the first event, got %+v", second)
	}
	if won, err := store.Reclaim(ctx, key, "evt_other", "evt_reclaimed"); err != nil || won {
		return fmt.Errorf("devkit: reclaim with a stale holder mismatch should lose, got %v, %v", won, err)
	}
	if won, err := store.Reclaim(ctx, key, "evt_first", "evt_reclaimed"); err != nil || !won {
		return fmt.Errorf("devkit: reclaim of the current holder should win, got %v, %v", won, err)
	}
	if won, err := store.Reclaim(ctx, key, "evt_first", "evt_late"); err != nil || won {
		return fmt.Errorf("devkit: a second reclaim of the same holder should lose, got %v, %v", won, err)
	}
	outcome := core.EventOutcome{EventID: "evt_reclaimed", Status: core.EventStatusCompleted, DownstreamOrderID: "ord_1"}
	if err := store.RecordOutcome(ctx, key, outcome); err != nil {
		return err
	}
	third, err := store.CheckAndReserve(ctx, key, "evt_third")
	if err != nil {
		return err
	}
	if third.Prior == nil || third.Prior.Outcome == nil || *third.Prior.Outcome != outcome {
		return fmt.Errorf("devkit: recorded outcome not returned, got %+v", third.Prior)
	}
	if err := store.RecordOutcome(ctx, key+":missing", outcome); !errors.Is(err, core.ErrIdempotencyKeyNotFound) {
		return fmt.Errorf("devkit: recording an unknown key should fail with ErrIdempotencyKeyNotFound, got %v", err)
	}
	return nil
}

// ValidateEventStoreConformance checks create, compare-and-set transitions,
// exclusive retry claims and lease takeover.
func ValidateEventStoreConformance(ctx context.Context, store core.EventStore, idPrefix string) error {
	if store == nil {
		return fmt.Errorf("devkit: event store is required")
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	event, err := store.Create(ctx, core.WebhookEvent{
		ID:         idPrefix + "_1",
		Provider:   "acme",
		DedupKey:   "acme:" + idPrefix + "_1",
		RawPayload: []byte(`{"ok":true}`),
		Headers:    map[string]string{"X-Test": "1"},
		Status:     core.EventStatusReceived,
		MaxRetries: core.DefaultMaxRetries,
		ReceivedAt: now,
	})
	if err != nil {
		return fmt.Errorf("devkit: create event: %w", err)
	}
	if _, err := store.Create(ctx, core.WebhookEvent{
		ID:       idPrefix + "_dup",
		Provider: "acme",
		DedupKey: event.DedupKey,
		Status:   core.EventStatusReceived,
	}); err == nil {
		return fmt.Errorf("devkit: duplicate dedup key must be rejected")
	}
	loaded, err := store.GetByDedupKey(ctx, event.DedupKey)
	if err != nil || loaded.ID != event.ID || string(loaded.RawPayload) != `{"ok":true}` {
		return fmt.Errorf("devkit: get by dedup key returned %+v, %v", loaded, err)
	}

	moved, err := store.Transition(ctx, event.ID, core.EventStatusReceived, func(next *core.WebhookEvent) error {
		return next.TransitionTo(core.EventStatusValidating, now)
	})
	if err != nil || moved.Status != core.EventStatusValidating {
		return fmt.Errorf("devkit: transition returned %+v, %v", moved, err)
	}
	if _, err := store.Transition(ctx, event.ID, core.EventStatusReceived, nil); !errors.Is(err, core.ErrStaleEventTransition) {
		return fmt.Errorf("devkit: stale transition should fail with ErrStaleEventTransition, got %v", err)
	}

	due := now.Add(-time.Minute)
	retrying, err := store.Create(ctx, core.WebhookEvent{
		ID:          idPrefix + "_2",
		Provider:    "acme",
		DedupKey:    "acme:" + idPrefix + "_2",
		Status:      core.EventStatusRetrying,
		RetryCount:  1,
		MaxRetries:  core.DefaultMaxRetries,
		NextRetryAt: &due,
		ReceivedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("devkit: create retrying event: %w", err)
	}
	claimed, err := store.ClaimDueRetries(ctx, now, 10)
	if err != nil {
		return err
	}
	if len(claimed) != 1 || claimed[0].ID != retrying.ID || claimed[0].Status != core.EventStatusProcessing {
		return fmt.Errorf("devkit: expected one claimed retry, got %+v", claimed)
	}
	again, err := store.ClaimDueRetries(ctx, now, 10)
	if err != nil {
		return err
	}
	if len(again) != 0 {
		return fmt.Errorf("devkit: claimed retry returned twice")
	}

	stalled, err := store.ClaimStalled(ctx, time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		return err
	}
	if len(stalled) != 2 {
		return fmt.Errorf("devkit: expected the validating and processing events to be stalled, got %+v", stalled)
	}
	for _, claimedEvent := range stalled {
		if claimedEvent.Status != core.EventStatusProcessing {
			return fmt.Errorf("devkit: stalled claim must return PROCESSING, got %s", claimedEvent.Status)
		}
	}
	renewed, err := store.ClaimStalled(ctx, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		return err
	}
	if len(renewed) != 0 {
		return fmt.Errorf("devkit: stalled claim must renew the lease, got %+v", renewed)
	}
	if _, err := store.Get(ctx, idPrefix+"_missing"); !errors.Is(err, core.ErrEventNotFound) {
		return fmt.Errorf("devkit: missing event should fail with ErrEventNotFound, got %v", err)
	}
	return nil
}
