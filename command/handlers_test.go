package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-order-hub/core"
)

type stubReplayer struct {
	replayFn func(ctx context.Context, eventID string) (core.WebhookEvent, error)
}

func (s stubReplayer) ReplayDeadLetter(ctx context.Context, eventID string) (core.WebhookEvent, error) {
	return s.replayFn(ctx, eventID)
}

func TestReplayDeadLetterCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	called := false
	cmd := NewReplayDeadLetterCommand(stubReplayer{
		replayFn: func(_ context.Context, eventID string) (core.WebhookEvent, error) {
			called = true
			if eventID != "evt_1" {
				t.Fatalf("expected evt_1, got %q", eventID)
			}
			return core.WebhookEvent{ID: eventID, Status: core.EventStatusRetrying}, nil
		},
	})
	collector := gocmd.NewResult[core.WebhookEvent]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, ReplayDeadLetterMessage{EventID: "evt_1"}); err != nil {
		t.Fatalf("execute replay: %v", err)
	}
	if !called {
		t.Fatalf("expected replayer invocation")
	}
	result, ok := collector.Load()
	if !ok || result.Status != core.EventStatusRetrying {
		t.Fatalf("unexpected stored result: %#v", result)
	}
}

func TestReplayDeadLetterCommand_PropagatesErrors(t *testing.T) {
	cmd := NewReplayDeadLetterCommand(stubReplayer{
		replayFn: func(context.Context, string) (core.WebhookEvent, error) {
			return core.WebhookEvent{}, core.ErrEventNotFound
		},
	})
	if err := cmd.Execute(context.Background(), ReplayDeadLetterMessage{EventID: "missing"}); !errors.Is(err, core.ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMappingCommands_WriteThroughMappingWriter(t *testing.T) {
	store := core.NewMemoryMappingStore()

	branchCollector := gocmd.NewResult[core.BranchMapping]()
	branchCtx := gocmd.ContextWithResult(context.Background(), branchCollector)
	err := NewUpsertBranchMappingCommand(store).Execute(branchCtx, UpsertBranchMappingMessage{Mapping: core.BranchMapping{
		Provider:         "acme",
		ExternalBranchID: "BR-1",
		BranchID:         "branch_1",
		CompanyID:        "company_1",
	}})
	if err != nil {
		t.Fatalf("upsert branch: %v", err)
	}
	if saved, ok := branchCollector.Load(); !ok || saved.BranchID != "branch_1" {
		t.Fatalf("unexpected branch result: %#v", saved)
	}
	resolved, err := store.ResolveBranch(context.Background(), "acme", "BR-1")
	if err != nil || resolved.CompanyID != "company_1" {
		t.Fatalf("expected persisted branch mapping, got %+v, %v", resolved, err)
	}

	err = NewUpsertProductMappingCommand(store).Execute(context.Background(), UpsertProductMappingMessage{Mapping: core.ProductMapping{
		Provider:          "acme",
		ExternalProductID: "SKU-1",
		ProductRef:        "prod_1",
	}})
	if err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	refs, err := store.ResolveProducts(context.Background(), "acme", []string{"SKU-1"})
	if err != nil || refs["SKU-1"] != "prod_1" {
		t.Fatalf("expected persisted product mapping, got %v, %v", refs, err)
	}
}

func TestMessages_ValidateReturnsRichErrors(t *testing.T) {
	cases := map[string]interface{ Validate() error }{
		"replay":  ReplayDeadLetterMessage{},
		"branch":  UpsertBranchMappingMessage{Mapping: core.BranchMapping{Provider: "acme", ExternalBranchID: "BR-1"}},
		"product": UpsertProductMappingMessage{Mapping: core.ProductMapping{Provider: "acme"}},
	}
	for name, msg := range cases {
		err := msg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T", name, err)
		}
		if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.ErrorBadInput {
			t.Fatalf("%s: unexpected envelope %q %q", name, rich.Category, rich.TextCode)
		}
	}
	if err := (ReplayDeadLetterMessage{EventID: "evt_1"}).Validate(); err != nil {
		t.Fatalf("expected valid replay message, got %v", err)
	}
}

func TestCommands_NilDependenciesReturnInternalError(t *testing.T) {
	var replay *ReplayDeadLetterCommand
	errs := []error{
		replay.Execute(context.Background(), ReplayDeadLetterMessage{}),
		NewUpsertBranchMappingCommand(nil).Execute(context.Background(), UpsertBranchMappingMessage{}),
		NewUpsertProductMappingCommand(nil).Execute(context.Background(), UpsertProductMappingMessage{}),
	}
	for i, err := range errs {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
			t.Fatalf("case %d: expected internal envelope, got %v", i, err)
		}
	}
}
