// Package gocommand exposes hub operator commands and queries on the
// go-command dispatcher.
package gocommand

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-order-hub/core"
)

const queueResolverKey = "queue"

// Bus owns a command registry and every dispatcher subscription made
// through it, so an operator process can release its handlers in one call.
type Bus struct {
	registry   *command.Registry
	runnerOpts []runner.Option

	mu          sync.Mutex
	subs        []commanddispatcher.Subscription
	initialized bool
}

type BusOption func(*Bus)

// WithRunnerOptions applies opts to every handler subscribed on the bus.
func WithRunnerOptions(opts ...runner.Option) BusOption {
	return func(b *Bus) {
		b.runnerOpts = append(b.runnerOpts, opts...)
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{registry: command.NewRegistry()}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// MirrorToQueue registers every bus handler in queueRegistry on Initialize,
// making operator commands executable by go-job workers.
func (b *Bus) MirrorToQueue(queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return fmt.Errorf("gocommand: bus already initialized")
	}
	return b.registry.AddResolver(queueResolverKey, jobqueuecommand.QueueResolver(queueRegistry))
}

// AddCommand subscribes cmd to the dispatcher and registers it.
func AddCommand[T any](b *Bus, cmd command.Commander[T]) error {
	if cmd == nil {
		return fmt.Errorf("gocommand: command is required")
	}
	return b.add(cmd, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeCommand(cmd, b.runnerOpts...)
	})
}

// AddQuery subscribes qry to the dispatcher and registers it.
func AddQuery[T any, R any](b *Bus, qry command.Querier[T, R]) error {
	if qry == nil {
		return fmt.Errorf("gocommand: query is required")
	}
	return b.add(qry, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeQuery(qry, b.runnerOpts...)
	})
}

func (b *Bus) add(handler any, subscribe func() commanddispatcher.Subscription) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: bus is not configured")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return fmt.Errorf("gocommand: bus already initialized")
	}
	sub := subscribe()
	if err := b.registry.RegisterCommand(handler); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Initialize runs the registry resolvers. Handlers cannot be added after.
func (b *Bus) Initialize() error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: bus is not configured")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}
	if err := b.registry.Initialize(); err != nil {
		return err
	}
	b.initialized = true
	return nil
}

func (b *Bus) Handlers() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unsubscribes every handler. The bus can be closed more than once.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// Dispatch validates msg before the dispatcher sees it. Errors carry hub
// text codes: the dispatcher's own validation and handler codes are mapped
// back through core.RestoreErrorCode.
func Dispatch[T any](ctx context.Context, msg T) error {
	return core.RestoreErrorCode(commanddispatcher.Dispatch(ctx, msg))
}

// Query validates msg and returns the handler's result.
func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	result, err := commanddispatcher.Query[T, R](ctx, msg)
	if err != nil {
		var zero R
		return zero, core.RestoreErrorCode(err)
	}
	return result, nil
}
