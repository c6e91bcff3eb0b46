package gocommand

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-order-hub/core"
)

type pingMessage struct {
	ID string
}

func (pingMessage) Type() string { return "orderhub.test.ping" }

type mirroredMessage struct{}

func (mirroredMessage) Type() string { return "orderhub.test.mirrored" }

type lookupMessage struct {
	Key string
}

func (lookupMessage) Type() string { return "orderhub.test.lookup" }

type checkedMessage struct {
	Key string
}

func (checkedMessage) Type() string { return "orderhub.test.checked" }

func (m checkedMessage) Validate() error {
	if m.Key == "" {
		return core.InvalidField("key", "key is required")
	}
	return nil
}

type missingMessage struct {
	Key string
}

func (missingMessage) Type() string { return "orderhub.test.missing" }

func TestBusRestoresHubErrorCodes(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	if err := AddCommand(bus, command.CommandFunc[checkedMessage](func(context.Context, checkedMessage) error {
		return core.ErrEventNotFound
	})); err != nil {
		t.Fatalf("add command: %v", err)
	}
	if err := AddQuery(bus, command.QueryFunc[missingMessage, string](func(_ context.Context, msg missingMessage) (string, error) {
		return "", core.NewHubError(core.ErrorConflict, "event "+msg.Key+" is COMPLETED", nil)
	})); err != nil {
		t.Fatalf("add query: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := Dispatch(context.Background(), checkedMessage{}); core.ErrorCode(err) != core.ErrorBadInput {
		t.Fatalf("expected BAD_INPUT for an invalid message, got %v", err)
	}
	if err := Dispatch(context.Background(), checkedMessage{Key: "evt_1"}); core.ErrorCode(err) != core.ErrorNotFound {
		t.Fatalf("expected NOT_FOUND from a plain handler error, got %v", err)
	}
	if _, err := Query[missingMessage, string](context.Background(), missingMessage{Key: "evt_2"}); core.ErrorCode(err) != core.ErrorConflict {
		t.Fatalf("expected CONFLICT from a hub handler error, got %v", err)
	}
}

func TestBusDispatchesAndReleasesHandlers(t *testing.T) {
	bus := NewBus()
	executed := 0
	if err := AddCommand(bus, command.CommandFunc[pingMessage](func(context.Context, pingMessage) error {
		executed++
		return nil
	})); err != nil {
		t.Fatalf("add command: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := Dispatch(context.Background(), pingMessage{ID: "p1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected one execution, got %d", executed)
	}

	bus.Close()
	bus.Close()
	if bus.Handlers() != 0 {
		t.Fatalf("expected handlers released, got %d", bus.Handlers())
	}
	_ = Dispatch(context.Background(), pingMessage{ID: "p2"})
	if executed != 1 {
		t.Fatalf("expected closed bus to stop delivering, got %d executions", executed)
	}
}

func TestBusQuery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	if err := AddQuery(bus, command.QueryFunc[lookupMessage, string](func(_ context.Context, msg lookupMessage) (string, error) {
		return "value:" + msg.Key, nil
	})); err != nil {
		t.Fatalf("add query: %v", err)
	}
	got, err := Query[lookupMessage, string](context.Background(), lookupMessage{Key: "k"})
	if err != nil || got != "value:k" {
		t.Fatalf("unexpected query result %q, %v", got, err)
	}
}

func TestBusMirrorsHandlersToQueueRegistry(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	queueRegistry := jobqueuecommand.NewRegistry()
	if err := bus.MirrorToQueue(queueRegistry); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if err := AddCommand(bus, command.CommandFunc[mirroredMessage](func(context.Context, mirroredMessage) error { return nil })); err != nil {
		t.Fatalf("add command: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, ok := queueRegistry.Get("orderhub.test.mirrored"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
	if err := bus.MirrorToQueue(nil); err == nil {
		t.Fatalf("expected nil queue registry to be rejected")
	}
}

func TestBusRejectsHandlersAfterInitialize(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	err := AddCommand(bus, command.CommandFunc[pingMessage](func(context.Context, pingMessage) error { return nil }))
	if err == nil {
		t.Fatalf("expected late registration to fail")
	}
	if err := AddCommand[pingMessage](bus, nil); err == nil {
		t.Fatalf("expected nil command to fail")
	}
}
