package gojob

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-order-hub/core"
)

// Queue enqueues and dequeues hub jobs.
type Queue interface {
	queue.Enqueuer
	queue.Dequeuer
}

// Maintenance drives retry sweeps and replays through a shared job queue in
// place of the hub's in-process retry loop. Every node produces one sweep per
// interval bucket and works whatever the queue hands it.
type Maintenance struct {
	Queue    Queue
	Sweeper  Sweeper
	Replayer Replayer
	Interval time.Duration
	Policy   NackPolicy
	Observer *core.Observer
	Options  []WorkerOption
}

// Run blocks until ctx is done.
func (m Maintenance) Run(ctx context.Context) error {
	if m.Queue == nil {
		return fmt.Errorf("gojob: queue is required")
	}
	if m.Interval <= 0 {
		return fmt.Errorf("gojob: sweep interval must be positive")
	}
	opts := []WorkerOption{WithReplayer(m.Replayer), WithWorkerObserver(m.Observer)}
	w, err := NewWorker(m.Queue, m.Sweeper, m.Policy, append(opts, m.Options...)...)
	if err != nil {
		return err
	}
	producer := SweepProducer{Enqueuer: m.Queue, Interval: m.Interval}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = producer.Run(ctx, func(err error) {
			m.Observer.Warn(ctx, "sweep enqueue failed", map[string]any{"error": err.Error()})
		})
	}()
	m.Observer.Info(ctx, "job queue maintenance started", map[string]any{"interval": m.Interval.String()})
	err = w.Run(ctx)
	wg.Wait()
	return err
}
