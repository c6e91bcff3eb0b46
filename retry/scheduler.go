package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-order-hub/core"
)

// Processor is the slice of the pipeline the scheduler drives.
type Processor interface {
	// ResumeForward re-attempts delivery for an event claimed from RETRYING.
	ResumeForward(ctx context.Context, event core.WebhookEvent) error
	// ProcessClaimed runs the full pipeline for an event claimed from RECEIVED.
	ProcessClaimed(ctx context.Context, event core.WebhookEvent) error
	// RetryStalled reschedules an event whose worker lease expired.
	RetryStalled(ctx context.Context, event core.WebhookEvent) error
}

// SweepResult summarizes one RunOnce pass.
type SweepResult struct {
	Retried   int
	Recovered int
	Stalled   int
	Failed    int
}

type Scheduler struct {
	events    core.EventStore
	processor Processor
	observer  *core.Observer

	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type SchedulerOption func(*Scheduler)

func WithSchedulerObserver(observer *core.Observer) SchedulerOption {
	return func(s *Scheduler) {
		s.observer = observer
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScheduler(events core.EventStore, processor Processor, cfg core.RetryConfig, opts ...SchedulerOption) (*Scheduler, error) {
	if events == nil {
		return nil, fmt.Errorf("retry: event store is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("retry: processor is required")
	}
	s := &Scheduler{
		events:     events,
		processor:  processor,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		staleAfter: cfg.StaleAfter,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if s.interval <= 0 {
		s.interval = 30 * time.Second
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// RunOnce claims due retries, stale RECEIVED events and in-flight events whose
// lease expired, and processes them sequentially. Claiming is atomic in the store, so concurrent schedulers
// never process the same event twice.
func (s *Scheduler) RunOnce(ctx context.Context) (result SweepResult, err error) {
	startedAt := time.Now()
	defer func() {
		s.observer.ObserveOperation(ctx, startedAt, "retry.sweep", err, map[string]any{
			"retried":   result.Retried,
			"recovered": result.Recovered,
			"stalled":   result.Stalled,
			"failed":    result.Failed,
		})
	}()
	now := s.now()

	due, err := s.events.ClaimDueRetries(ctx, now, s.batchSize)
	if err != nil {
		return result, err
	}
	for _, event := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Retried++
		if procErr := s.processor.ResumeForward(ctx, event); procErr != nil {
			result.Failed++
			s.logFailure(ctx, "retry forward failed", event, procErr)
		}
	}

	if s.staleAfter <= 0 {
		return result, nil
	}
	cutoff := now.Add(-s.staleAfter)
	stale, err := s.events.ClaimStale(ctx, cutoff, s.batchSize)
	if err != nil {
		return result, err
	}
	for _, event := range stale {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Recovered++
		if procErr := s.processor.ProcessClaimed(ctx, event); procErr != nil {
			result.Failed++
			s.logFailure(ctx, "stale event recovery failed", event, procErr)
		}
	}

	stalled, err := s.events.ClaimStalled(ctx, cutoff, s.batchSize)
	if err != nil {
		return result, err
	}
	for _, event := range stalled {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Stalled++
		if procErr := s.processor.RetryStalled(ctx, event); procErr != nil {
			result.Failed++
			s.logFailure(ctx, "stalled event recovery failed", event, procErr)
		}
	}
	return result, nil
}

// Start runs RunOnce on every tick until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.observer.Error(ctx, "retry sweep failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (s *Scheduler) logFailure(ctx context.Context, msg string, event core.WebhookEvent, err error) {
	s.observer.Warn(ctx, msg, map[string]any{
		"provider":    event.Provider,
		"event_id":    event.ID,
		"retry_count": event.RetryCount,
		"error":       err.Error(),
	})
}
