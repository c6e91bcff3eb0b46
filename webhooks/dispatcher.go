package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-order-hub/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type EventProcessor interface {
	Process(ctx context.Context, eventID string) error
}

type EventProcessorFunc func(ctx context.Context, eventID string) error

func (f EventProcessorFunc) Process(ctx context.Context, eventID string) error {
	return f(ctx, eventID)
}

// AsyncDispatcher runs logged events through a fixed pool of workers fed by a
// bounded queue. Dispatch never blocks: when the queue is full the event stays
// RECEIVED and the recovery sweep picks it up later.
type AsyncDispatcher struct {
	processor EventProcessor
	observer  *core.Observer
	workers   int
	timeout   time.Duration
	tracer    trace.Tracer

	mu      sync.RWMutex
	queue   chan string
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type AsyncDispatcherOption func(*AsyncDispatcher)

func WithDispatcherObserver(observer *core.Observer) AsyncDispatcherOption {
	return func(d *AsyncDispatcher) {
		d.observer = observer
	}
}

// WithProcessTimeout bounds a single pipeline run.
func WithProcessTimeout(timeout time.Duration) AsyncDispatcherOption {
	return func(d *AsyncDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func NewAsyncDispatcher(processor EventProcessor, cfg core.DispatcherConfig, opts ...AsyncDispatcherOption) *AsyncDispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	d := &AsyncDispatcher{
		processor: processor,
		workers:   workers,
		timeout:   time.Minute,
		queue:     make(chan string, size),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *AsyncDispatcher) Start(ctx context.Context) {
	if d == nil || d.processor == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(runCtx)
	}
}

func (d *AsyncDispatcher) Dispatch(_ context.Context, eventID string) bool {
	eventID = strings.TrimSpace(eventID)
	if d == nil || eventID == "" {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- eventID:
		return true
	default:
		return false
	}
}

// Stop closes the queue, lets workers drain it and waits until they exit or
// ctx is done, in which case in-flight runs are cancelled.
func (d *AsyncDispatcher) Stop(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	cancel := d.cancel
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (d *AsyncDispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for eventID := range d.queue {
		d.run(ctx, eventID)
	}
}

func (d *AsyncDispatcher) run(ctx context.Context, eventID string) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	runCtx, span := d.tracer.Start(runCtx, "webhooks.dispatch",
		trace.WithAttributes(attribute.String("orderhub.event_id", eventID)),
	)
	defer span.End()

	startedAt := time.Now()
	err := d.processor.Process(runCtx, eventID)
	if err != nil {
		span.RecordError(err)
	}
	d.observer.ObserveOperation(runCtx, startedAt, "dispatch", err, map[string]any{"event_id": eventID})
}

// InlineDispatcher processes synchronously on the caller's goroutine, detached
// from request cancellation.
type InlineDispatcher struct {
	Processor EventProcessor
	Observer  *core.Observer
}

func (d InlineDispatcher) Dispatch(ctx context.Context, eventID string) bool {
	if d.Processor == nil {
		return false
	}
	runCtx := context.WithoutCancel(ctx)
	if err := d.Processor.Process(runCtx, eventID); err != nil {
		d.Observer.Error(runCtx, "inline dispatch failed", map[string]any{
			"event_id": eventID,
			"error":    err.Error(),
		})
	}
	return true
}

var (
	_ EventDispatcher = (*AsyncDispatcher)(nil)
	_ EventDispatcher = InlineDispatcher{}
)
