package adapters_test

import (
	"context"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-order-hub/adapters/gocommand"
	"github.com/goliatone/go-order-hub/adapters/gojob"
	"github.com/goliatone/go-order-hub/adapters/gologger"
	hubcommand "github.com/goliatone/go-order-hub/command"
	"github.com/goliatone/go-order-hub/core"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRuntimeCompatibility_GoJobGoCommandZap(t *testing.T) {
	ctx := context.Background()

	zcore, logs := observer.New(zapcore.DebugLevel)
	root := gologger.NewZapLogger(zap.New(zcore))
	jobProvider, jobLogger := root.ForJobs("orderhub.jobs")
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}
	jobProvider.GetLogger("orderhub.jobs").Info("bridged", "k", "v")
	if entries := logs.All(); len(entries) != 1 || entries[0].ContextMap()["k"] != "v" {
		t.Fatalf("expected go-job logger to reach zap, got %+v", entries)
	}

	sweepEnqueuer := &compatEnqueuer{}
	producer := gojob.SweepProducer{Enqueuer: sweepEnqueuer, Interval: time.Minute}
	if err := producer.EnqueueOnce(ctx); err != nil {
		t.Fatalf("enqueue sweep: %v", err)
	}
	if sweepEnqueuer.last == nil || sweepEnqueuer.last.JobID != gojob.JobIDRetrySweep {
		t.Fatalf("expected sweep message on the go-job enqueuer")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	bus := gocommand.NewBus()
	defer bus.Close()
	if err := bus.MirrorToQueue(queueRegistry); err != nil {
		t.Fatalf("mirror to queue: %v", err)
	}
	replayer := &compatReplayer{}
	if err := gocommand.RegisterOperators(bus, gocommand.OperatorDeps{Replayer: replayer}); err != nil {
		t.Fatalf("register operators: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get(hubcommand.TypeReplayDeadLetter); !ok {
		t.Fatalf("expected replay command to be mirrored into the go-job queue registry")
	}

	if err := gocommand.Dispatch(ctx, hubcommand.ReplayDeadLetterMessage{EventID: "evt_1"}); err != nil {
		t.Fatalf("dispatch replay: %v", err)
	}
	if len(replayer.ids) != 1 || replayer.ids[0] != "evt_1" {
		t.Fatalf("expected replay via dispatcher, got %v", replayer.ids)
	}
}

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	e.last = msg
	return queue.EnqueueReceipt{DispatchID: msg.IdempotencyKey}, nil
}

type compatReplayer struct {
	ids []string
}

func (r *compatReplayer) ReplayDeadLetter(_ context.Context, eventID string) (core.WebhookEvent, error) {
	r.ids = append(r.ids, eventID)
	return core.WebhookEvent{ID: eventID, Status: core.EventStatusRetrying}, nil
}
