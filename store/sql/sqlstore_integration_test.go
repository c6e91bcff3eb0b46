package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-order-hub/core"
	hubmigrations "github.com/goliatone/go-order-hub/migrations"
	"github.com/goliatone/go-order-hub/pipeline"
	"github.com/goliatone/go-order-hub/providers/acme"
	"github.com/goliatone/go-order-hub/providers/devkit"
	sqlstore "github.com/goliatone/go-order-hub/store/sql"
	"github.com/goliatone/go-order-hub/webhooks"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
)

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"hub_webhook_events", "hub_idempotency_keys", "hub_branch_mappings", "hub_product_mappings"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestWebhookEventStore_Conformance(t *testing.T) {
	stores, cleanup := newStores(t)
	defer cleanup()

	if err := devkit.ValidateEventStoreConformance(context.Background(), stores.Events, "sql"); err != nil {
		t.Fatalf("event store conformance: %v", err)
	}
}

func TestIdempotencyStore_Conformance(t *testing.T) {
	stores, cleanup := newStores(t)
	defer cleanup()

	if err := devkit.ValidateIdempotencyStoreConformance(context.Background(), stores.Idempotency, "acme:evt_conf"); err != nil {
		t.Fatalf("idempotency store conformance: %v", err)
	}
}

func TestIdempotencyStore_ConcurrentReserveHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newStores(t)
	defer cleanup()
	store := stores.Idempotency

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := store.CheckAndReserve(ctx, "acme:race", fmt.Sprintf("evt_%d", i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if !result.AlreadyExists {
				winners++
			}
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected reserve errors: %v", errs)
	}
	if winners != 1 {
		t.Fatalf("expected exactly one reservation, got %d", winners)
	}
}

func TestIdempotencyStore_ReleaseAllowsReservationAgain(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newStores(t)
	defer cleanup()
	store := stores.Idempotency

	if _, err := store.CheckAndReserve(ctx, "acme:release", "evt_1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "acme:release"); err != nil {
		t.Fatalf("release: %v", err)
	}
	result, err := store.CheckAndReserve(ctx, "acme:release", "evt_2")
	if err != nil {
		t.Fatalf("reserve again: %v", err)
	}
	if result.AlreadyExists {
		t.Fatalf("expected released key to be reservable")
	}
}

func TestWebhookEventStore_PersistsOrderAndRetryState(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newStores(t)
	defer cleanup()
	store := stores.Events

	now := time.Now().UTC().Truncate(time.Second)
	created, err := store.Create(ctx, core.WebhookEvent{
		ID:         "evt_retry",
		Provider:   "acme",
		DedupKey:   "acme:evt_retry",
		RawPayload: devkit.AcmeOrder("evt_retry"),
		Status:     core.EventStatusProcessing,
		MaxRetries: 3,
		ReceivedAt: now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	order := core.UnifiedOrder{
		ExternalOrderID: devkit.FixtureOrderID,
		Provider:        "acme",
		BranchID:        "branch_1",
		Items:           []core.OrderItem{{Name: "Burger", Quantity: 1, UnitPrice: 10}},
		Pricing:         core.Pricing{Subtotal: 10, Total: 10},
	}
	nextAttempt := now.Add(time.Minute)
	retrying, err := store.Transition(ctx, created.ID, core.EventStatusProcessing, func(next *core.WebhookEvent) error {
		next.Order = &order
		next.BranchID = "branch_1"
		next.RetryCount = 1
		next.NextRetryAt = &nextAttempt
		next.ErrorCode = core.ErrorDownstreamTransient
		return next.TransitionTo(core.EventStatusRetrying, now)
	})
	if err != nil {
		t.Fatalf("transition to retrying: %v", err)
	}
	if retrying.Status != core.EventStatusRetrying {
		t.Fatalf("expected RETRYING, got %s", retrying.Status)
	}

	loaded, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Order == nil || loaded.Order.BranchID != "branch_1" || len(loaded.Order.Items) != 1 {
		t.Fatalf("expected order to round trip, got %+v", loaded.Order)
	}
	if loaded.RetryCount != 1 || loaded.NextRetryAt == nil || !loaded.NextRetryAt.Equal(nextAttempt) {
		t.Fatalf("unexpected retry state %+v", loaded)
	}

	early, err := store.ClaimDueRetries(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim early: %v", err)
	}
	if len(early) != 0 {
		t.Fatalf("expected nothing due before nextRetryAt, got %d", len(early))
	}
	due, err := store.ClaimDueRetries(ctx, nextAttempt, 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(due) != 1 || due[0].Status != core.EventStatusProcessing || due[0].Order == nil {
		t.Fatalf("expected claimed event with order, got %+v", due)
	}
}

func TestWebhookEventStore_ClaimStaleAndList(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newStores(t)
	defer cleanup()
	store := stores.Events

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i, provider := range []string{"acme", "careem", "acme"} {
		if _, err := store.Create(ctx, core.WebhookEvent{
			ID:         fmt.Sprintf("evt_%d", i),
			Provider:   provider,
			DedupKey:   fmt.Sprintf("%s:evt_%d", provider, i),
			Status:     core.EventStatusReceived,
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	claimed, err := store.ClaimStale(ctx, base.Add(90*time.Second), 10)
	if err != nil {
		t.Fatalf("claim stale: %v", err)
	}
	if len(claimed) != 2 || claimed[0].ID != "evt_0" || claimed[1].ID != "evt_1" {
		t.Fatalf("expected evt_0 and evt_1 oldest first, got %+v", claimed)
	}
	for _, event := range claimed {
		if event.Status != core.EventStatusValidating {
			t.Fatalf("expected claimed events in VALIDATING, got %s", event.Status)
		}
	}

	acmeEvents, err := store.List(ctx, core.EventFilter{Provider: "ACME"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(acmeEvents) != 2 || acmeEvents[0].ID != "evt_2" {
		t.Fatalf("expected acme events newest first, got %+v", acmeEvents)
	}
	received, err := store.List(ctx, core.EventFilter{Status: core.EventStatusReceived, Limit: 5})
	if err != nil {
		t.Fatalf("list received: %v", err)
	}
	if len(received) != 1 || received[0].ID != "evt_2" {
		t.Fatalf("expected only evt_2 still RECEIVED, got %+v", received)
	}
}

func TestWebhookEventStore_ClaimStalledRenewsLease(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newStores(t)
	defer cleanup()
	store := stores.Events

	statuses := []core.EventStatus{
		core.EventStatusValidating,
		core.EventStatusProcessing,
		core.EventStatusReceived,
		core.EventStatusRetrying,
		core.EventStatusCompleted,
	}
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i, status := range statuses {
		if _, err := store.Create(ctx, core.WebhookEvent{
			ID:         fmt.Sprintf("evt_%d", i),
			Provider:   "acme",
			DedupKey:   fmt.Sprintf("acme:stalled_%d", i),
			Status:     status,
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	claimed, err := store.ClaimStalled(ctx, time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("claim stalled: %v", err)
	}
	if len(claimed) != 2 || claimed[0].ID != "evt_0" || claimed[1].ID != "evt_1" {
		t.Fatalf("expected only the in-flight events, got %+v", claimed)
	}
	for _, event := range claimed {
		if event.Status != core.EventStatusProcessing {
			t.Fatalf("expected claimed events in PROCESSING, got %s", event.Status)
		}
	}

	again, err := store.ClaimStalled(ctx, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected renewed leases to be skipped, got %+v", again)
	}
}

func TestMappingStore_UpsertAndResolve(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newStores(t)
	defer cleanup()
	store := stores.Mappings

	if _, err := store.ResolveBranch(ctx, "acme", "BR-1"); !errors.Is(err, core.ErrMappingNotFound) {
		t.Fatalf("expected ErrMappingNotFound, got %v", err)
	}
	if _, err := store.UpsertBranch(ctx, core.BranchMapping{
		Provider:         " ACME ",
		ExternalBranchID: "BR-1",
		BranchID:         "branch_1",
		CompanyID:        "company_1",
	}); err != nil {
		t.Fatalf("upsert branch: %v", err)
	}
	if _, err := store.UpsertBranch(ctx, core.BranchMapping{
		Provider:         "acme",
		ExternalBranchID: "BR-1",
		BranchID:         "branch_2",
		CompanyID:        "company_1",
	}); err != nil {
		t.Fatalf("update branch: %v", err)
	}
	resolved, err := store.ResolveBranch(ctx, "acme", "BR-1")
	if err != nil {
		t.Fatalf("resolve branch: %v", err)
	}
	if resolved.BranchID != "branch_2" || resolved.CompanyID != "company_1" {
		t.Fatalf("unexpected resolution %+v", resolved)
	}
	listed, err := store.ListBranches(ctx, "acme")
	if err != nil {
		t.Fatalf("list branches: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one mapping after update, got %d", len(listed))
	}

	if _, err := store.UpsertProduct(ctx, core.ProductMapping{Provider: "acme", ExternalProductID: "SKU-1", ProductRef: "prod_1"}); err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	products, err := store.ResolveProducts(ctx, "acme", []string{"SKU-1", "SKU-404"})
	if err != nil {
		t.Fatalf("resolve products: %v", err)
	}
	if len(products) != 1 || products["SKU-1"] != "prod_1" {
		t.Fatalf("unexpected product mappings %v", products)
	}

	if _, err := store.UpsertBranch(ctx, core.BranchMapping{Provider: "acme", ExternalBranchID: "BR-2"}); err == nil {
		t.Fatalf("expected missing branch id to be rejected")
	}
}

func TestSQLStores_DriveSignedOrderToCompletion(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newStores(t)
	defer cleanup()

	registry, err := core.NewProviderAdapterRegistry(acme.New())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if _, err := stores.Mappings.UpsertBranch(ctx, core.BranchMapping{
		Provider:         acme.ProviderCode,
		ExternalBranchID: devkit.FixtureBranchID,
		BranchID:         "branch_1",
		CompanyID:        "company_1",
	}); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}

	forwarder := devkit.NewFakeForwarder(devkit.Accepted("ord_sql_1"))
	p, err := pipeline.New(
		stores.Events,
		stores.Idempotency,
		registry,
		stores.Mappings,
		forwarder,
		pipeline.WithProductResolver(stores.Mappings),
	)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	receiver := webhooks.NewReceiver(registry, func(provider string) (core.ProviderAdapterConfig, bool) {
		return core.ProviderAdapterConfig{Provider: provider, Secrets: []string{"S1"}}, true
	}, stores.Events, stores.Idempotency, webhooks.InlineDispatcher{Processor: p})
	receiver.Deriver = webhooks.NewDedupKeyDeriver("sql-test")

	body := devkit.AcmeOrder("evt_sql_1")
	request := webhooks.Request{
		Provider: acme.ProviderCode,
		Body:     body,
		Headers:  devkit.SignedHeaders(acme.New(), "S1", body),
	}
	first, err := receiver.Receive(ctx, request)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if first.StatusCode != http.StatusOK || first.Duplicate {
		t.Fatalf("unexpected first response %+v", first)
	}

	event, err := stores.Events.Get(ctx, first.EventID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.Status != core.EventStatusCompleted || event.DownstreamOrderID != "ord_sql_1" {
		t.Fatalf("expected completed event, got %s (%s)", event.Status, event.DownstreamOrderID)
	}
	if event.BranchID != "branch_1" || event.CompanyID != "company_1" {
		t.Fatalf("expected resolved branch on event, got %q/%q", event.BranchID, event.CompanyID)
	}

	replay, err := receiver.Receive(ctx, request)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Duplicate || replay.Outcome == nil || replay.Outcome.DownstreamOrderID != "ord_sql_1" {
		t.Fatalf("expected duplicate with recorded outcome, got %+v", replay)
	}
	if forwarder.Calls() != 1 {
		t.Fatalf("expected a single downstream call, got %d", forwarder.Calls())
	}
}

func newStores(t *testing.T) (*sqlstore.Stores, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	stores, err := sqlstore.StoresFromClient(client)
	if err != nil {
		cleanup()
		t.Fatalf("new stores: %v", err)
	}
	return stores, cleanup
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:order-hub-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	client, err := sqlstore.Open(core.DatabaseConfig{Driver: "sqlite3", DSN: dsn}, "go-order-hub-tests")
	if err != nil {
		t.Fatalf("open sqlite client: %v", err)
	}

	ctx := context.Background()
	if err := hubmigrations.Apply(ctx, client, "sqlite3"); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
