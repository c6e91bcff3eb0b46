package gojob

import (
	"context"

	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-order-hub/core"
)

// ObserverHook reports job lifecycle events as hub logs and metrics.
type ObserverHook struct {
	Observer *core.Observer
}

func (h ObserverHook) OnStart(ctx context.Context, event worker.Event) {
	h.Observer.Count(ctx, "job.started", 1, jobTags(event))
}

func (h ObserverHook) OnSuccess(ctx context.Context, event worker.Event) {
	tags := jobTags(event)
	h.Observer.Count(ctx, "job.succeeded", 1, tags)
	h.Observer.Observe(ctx, "job.duration_ms", float64(event.Duration.Milliseconds()), tags)
}

func (h ObserverHook) OnFailure(ctx context.Context, event worker.Event) {
	tags := jobTags(event)
	h.Observer.Count(ctx, "job.dead_lettered", 1, tags)
	h.Observer.Error(ctx, "job gave up", jobFields(event))
}

func (h ObserverHook) OnRetry(ctx context.Context, event worker.Event) {
	h.Observer.Count(ctx, "job.retried", 1, jobTags(event))
	h.Observer.Warn(ctx, "job will be redelivered", jobFields(event))
}

func jobTags(event worker.Event) map[string]string {
	jobID := "unknown"
	if event.Message != nil && event.Message.JobID != "" {
		jobID = event.Message.JobID
	}
	return map[string]string{"job": jobID}
}

func jobFields(event worker.Event) map[string]any {
	fields := map[string]any{
		"job":     jobTags(event)["job"],
		"attempt": event.Attempt,
		"delay":   event.Delay.String(),
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	if id := replayEventID(event.Message); id != "" {
		fields["event_id"] = id
	}
	return fields
}

// hookChain fans one event out to several hooks.
type hookChain []worker.Hook

func (c hookChain) OnStart(ctx context.Context, event worker.Event) {
	for _, hook := range c {
		hook.OnStart(ctx, event)
	}
}

func (c hookChain) OnSuccess(ctx context.Context, event worker.Event) {
	for _, hook := range c {
		hook.OnSuccess(ctx, event)
	}
}

func (c hookChain) OnFailure(ctx context.Context, event worker.Event) {
	for _, hook := range c {
		hook.OnFailure(ctx, event)
	}
}

func (c hookChain) OnRetry(ctx context.Context, event worker.Event) {
	for _, hook := range c {
		hook.OnRetry(ctx, event)
	}
}

var (
	_ worker.Hook = ObserverHook{}
	_ worker.Hook = hookChain(nil)
)
