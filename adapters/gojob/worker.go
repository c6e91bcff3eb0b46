package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/retry"
)

const (
	defaultWorkerRetryDelay = 5 * time.Second
	defaultWorkerIdleDelay  = time.Second
)

var errUnsupportedJob = errors.New("gojob: unsupported job")

type Sweeper interface {
	RunOnce(ctx context.Context) (retry.SweepResult, error)
}

type Replayer interface {
	ReplayDeadLetter(ctx context.Context, eventID string) (core.WebhookEvent, error)
}

// Worker executes hub jobs pulled from a go-job dequeuer. The queue does not
// report redelivery counts, so attempts are tracked per idempotency key.
type Worker struct {
	dequeuer   queue.Dequeuer
	sweeper    Sweeper
	replayer   Replayer
	hooks      hookChain
	policy     NackPolicy
	observer   *core.Observer
	retryDelay time.Duration
	idleDelay  time.Duration
	now        func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

type WorkerOption func(*Worker)

func WithReplayer(replayer Replayer) WorkerOption {
	return func(w *Worker) {
		w.replayer = replayer
	}
}

func WithWorkerHook(hook worker.Hook) WorkerOption {
	return func(w *Worker) {
		if hook != nil {
			w.hooks = append(w.hooks, hook)
		}
	}
}

// WithWorkerObserver logs through observer and adds an ObserverHook.
func WithWorkerObserver(observer *core.Observer) WorkerOption {
	return func(w *Worker) {
		w.observer = observer
		if observer != nil {
			w.hooks = append(w.hooks, ObserverHook{Observer: observer})
		}
	}
}

func WithRetryDelay(delay time.Duration) WorkerOption {
	return func(w *Worker) {
		if delay > 0 {
			w.retryDelay = delay
		}
	}
}

// WithIdleDelay sets how long Run waits after an empty dequeue.
func WithIdleDelay(delay time.Duration) WorkerOption {
	return func(w *Worker) {
		if delay > 0 {
			w.idleDelay = delay
		}
	}
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewWorker(dequeuer queue.Dequeuer, sweeper Sweeper, policy NackPolicy, opts ...WorkerOption) (*Worker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("gojob: sweeper is required")
	}
	w := &Worker{
		dequeuer:   dequeuer,
		sweeper:    sweeper,
		policy:     policy,
		retryDelay: defaultWorkerRetryDelay,
		idleDelay:  defaultWorkerIdleDelay,
		now:        time.Now,
		attempts:   map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run handles deliveries until ctx is done. It backs off for the idle delay
// when the queue is empty and for the retry delay after a failure.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		handled, err := w.next(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := time.Duration(0)
		switch {
		case err != nil:
			w.observer.Warn(ctx, "job execution failed", map[string]any{"error": err.Error()})
			wait = w.retryDelay
		case !handled:
			wait = w.idleDelay
		}
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (w *Worker) RunNext(ctx context.Context) error {
	_, err := w.next(ctx)
	return err
}

func (w *Worker) next(ctx context.Context) (bool, error) {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}
	return true, w.Handle(ctx, delivery)
}

func (w *Worker) Handle(ctx context.Context, delivery queue.Delivery) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	if msg == nil {
		err := fmt.Errorf("gojob: delivery has no message")
		return errors.Join(err, delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: err.Error()}))
	}

	key := attemptKey(msg)
	attempt := w.nextAttempt(key)
	event := worker.Event{Message: msg, Attempt: attempt, StartedAt: w.now()}
	w.hooks.OnStart(ctx, event)

	err := w.execute(ctx, msg)
	event.Duration = w.now().Sub(event.StartedAt)
	event.Err = err
	if err == nil {
		w.clearAttempts(key)
		w.hooks.OnSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	opts := w.policy.Decide(w.retryDelay, attempt, permanentJobError(err), err.Error())
	event.Delay = opts.Delay
	if exhausted(opts) {
		w.clearAttempts(key)
		w.hooks.OnFailure(ctx, event)
	} else {
		w.hooks.OnRetry(ctx, event)
	}
	if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
		return errors.Join(err, nackErr)
	}
	return err
}

func (w *Worker) execute(ctx context.Context, msg *job.ExecutionMessage) error {
	switch strings.TrimSpace(msg.JobID) {
	case JobIDRetrySweep:
		result, err := w.sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		w.observer.Debug(ctx, "retry sweep job completed", map[string]any{
			"retried":   result.Retried,
			"recovered": result.Recovered,
			"stalled":   result.Stalled,
			"failed":    result.Failed,
		})
		return nil
	case JobIDReplay:
		if w.replayer == nil {
			return fmt.Errorf("%w: %s has no replayer", errUnsupportedJob, msg.JobID)
		}
		eventID := replayEventID(msg)
		if eventID == "" {
			return core.NewHubError(core.ErrorBadInput, "replay job requires event_id", nil)
		}
		_, err := w.replayer.ReplayDeadLetter(ctx, eventID)
		return err
	default:
		return fmt.Errorf("%w: %q", errUnsupportedJob, msg.JobID)
	}
}

func (w *Worker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) clearAttempts(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func attemptKey(msg *job.ExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID) + ":" + replayEventID(msg)
}

// permanentJobError reports failures a redelivery cannot fix. Only explicit
// hub codes count; plain errors from a sweep are always retried.
func permanentJobError(err error) bool {
	if errors.Is(err, errUnsupportedJob) || errors.Is(err, core.ErrEventNotFound) {
		return true
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	switch rich.TextCode {
	case core.ErrorBadInput, core.ErrorNotFound, core.ErrorConflict:
		return true
	default:
		return false
	}
}
