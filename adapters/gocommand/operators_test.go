package gocommand

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-order-hub/breaker"
	hubcommand "github.com/goliatone/go-order-hub/command"
	"github.com/goliatone/go-order-hub/core"
	hubquery "github.com/goliatone/go-order-hub/query"
)

type replayRecorder struct {
	ids []string
}

func (p *replayRecorder) ReplayDeadLetter(_ context.Context, eventID string) (core.WebhookEvent, error) {
	p.ids = append(p.ids, eventID)
	return core.WebhookEvent{ID: eventID, Status: core.EventStatusRetrying}, nil
}

func TestRegisterOperatorsDispatchesCommandsAndQueries(t *testing.T) {
	ctx := context.Background()
	events := core.NewMemoryEventStore()
	if _, err := events.Create(ctx, core.WebhookEvent{
		ID:         "evt_1",
		Provider:   "acme",
		DedupKey:   "acme:1",
		Status:     core.EventStatusReceived,
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	mappings := core.NewMemoryMappingStore()
	breakers := breaker.NewRegistry(breaker.Settings{})
	breakers.Get("orders")
	replayer := &replayRecorder{}

	bus := NewBus()
	defer bus.Close()
	if err := RegisterOperators(bus, OperatorDeps{
		Replayer: replayer,
		Mappings: mappings,
		Events:   events,
		Breakers: breakers,
	}); err != nil {
		t.Fatalf("register operators: %v", err)
	}
	if bus.Handlers() != 6 {
		t.Fatalf("expected six handlers, got %d", bus.Handlers())
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	collector := command.NewResult[core.WebhookEvent]()
	if err := Dispatch(command.ContextWithResult(ctx, collector), hubcommand.ReplayDeadLetterMessage{EventID: "evt_7"}); err != nil {
		t.Fatalf("dispatch replay: %v", err)
	}
	if len(replayer.ids) != 1 || replayer.ids[0] != "evt_7" {
		t.Fatalf("expected replay through dispatcher, got %v", replayer.ids)
	}
	if replayed, ok := collector.Load(); !ok || replayed.Status != core.EventStatusRetrying {
		t.Fatalf("expected replay result, got %#v", replayed)
	}

	if err := Dispatch(ctx, hubcommand.UpsertBranchMappingMessage{Mapping: core.BranchMapping{
		Provider:         "acme",
		ExternalBranchID: "BR-1",
		BranchID:         "branch_1",
	}}); err != nil {
		t.Fatalf("dispatch branch mapping: %v", err)
	}
	if resolved, err := mappings.ResolveBranch(ctx, "acme", "BR-1"); err != nil || resolved.BranchID != "branch_1" {
		t.Fatalf("expected mapping written, got %+v, %v", resolved, err)
	}

	event, err := Query[hubquery.GetWebhookEventMessage, core.WebhookEvent](ctx, hubquery.GetWebhookEventMessage{EventID: "evt_1"})
	if err != nil || event.Provider != "acme" {
		t.Fatalf("expected event query result, got %+v, %v", event, err)
	}
	listed, err := Query[hubquery.ListWebhookEventsMessage, []core.WebhookEvent](ctx, hubquery.ListWebhookEventsMessage{
		Filter: core.EventFilter{Provider: "acme"},
	})
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected one listed event, got %d, %v", len(listed), err)
	}
	snapshots, err := Query[hubquery.GetBreakerStateMessage, []breaker.Snapshot](ctx, hubquery.GetBreakerStateMessage{})
	if err != nil || len(snapshots) != 1 || snapshots[0].State != breaker.StateClosed {
		t.Fatalf("expected closed breaker snapshot, got %+v, %v", snapshots, err)
	}
}

func TestRegisterOperatorsSkipsMissingDependencies(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	if err := RegisterOperators(bus, OperatorDeps{Breakers: breaker.NewRegistry(breaker.Settings{})}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if bus.Handlers() != 1 {
		t.Fatalf("expected only the breaker query, got %d", bus.Handlers())
	}
	if err := RegisterOperators(nil, OperatorDeps{Replayer: &replayRecorder{}}); err == nil {
		t.Fatalf("expected nil bus to fail")
	}
}

func TestOperatorDispatchRejectsInvalidMessages(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	replayer := &replayRecorder{}
	if err := RegisterOperators(bus, OperatorDeps{Replayer: replayer}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	err := Dispatch(context.Background(), hubcommand.ReplayDeadLetterMessage{EventID: " "})
	if core.ErrorCode(err) != core.ErrorBadInput {
		t.Fatalf("expected bad input, got %v", err)
	}
	if len(replayer.ids) != 0 {
		t.Fatalf("expected handler not to run, got %v", replayer.ids)
	}
}
