// Package gojob runs hub maintenance work on go-job queues: periodic retry
// sweeps and dead-letter replays.
package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const (
	JobIDRetrySweep = "orderhub.retry.sweep"
	JobIDReplay     = "orderhub.dead_letter.replay"

	paramBucket  = "bucket"
	paramEventID = "event_id"
)

// NewSweepMessage builds a sweep execution keyed by the interval bucket at
// falls into, so producers on several nodes enqueue one sweep per tick.
func NewSweepMessage(at time.Time, interval time.Duration) *job.ExecutionMessage {
	bucket := at.UTC()
	if interval > 0 {
		bucket = bucket.Truncate(interval)
	}
	return &job.ExecutionMessage{
		JobID:          JobIDRetrySweep,
		ScriptPath:     JobIDRetrySweep,
		Parameters:     map[string]any{paramBucket: bucket.Format(time.RFC3339)},
		IdempotencyKey: JobIDRetrySweep + ":" + strconv.FormatInt(bucket.Unix(), 10),
		DedupPolicy:    job.DedupPolicyDrop,
	}
}

func NewReplayMessage(eventID string) *job.ExecutionMessage {
	eventID = strings.TrimSpace(eventID)
	return &job.ExecutionMessage{
		JobID:          JobIDReplay,
		ScriptPath:     JobIDReplay,
		Parameters:     map[string]any{paramEventID: eventID},
		IdempotencyKey: JobIDReplay + ":" + eventID,
		DedupPolicy:    job.DedupPolicyDrop,
	}
}

func replayEventID(msg *job.ExecutionMessage) string {
	if msg == nil || msg.Parameters == nil {
		return ""
	}
	value, _ := msg.Parameters[paramEventID].(string)
	return strings.TrimSpace(value)
}

// NackPolicy bounds redelivery of failed hub jobs. A sweep that keeps
// failing is dropped to the dead-letter queue after MaxAttempts; the next
// tick enqueues a fresh one.
type NackPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Decide returns the nack to send for a failure on the given attempt.
func (p NackPolicy) Decide(delay time.Duration, attempt int, permanent bool, reason string) queue.NackOptions {
	if delay < 0 {
		delay = 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	opts := queue.NackOptions{
		Disposition: queue.NackDispositionRetry,
		Delay:       delay,
		Reason:      strings.TrimSpace(reason),
	}
	switch {
	case permanent:
		opts.Disposition = queue.NackDispositionDeadLetter
		opts.Delay = 0
	case p.MaxAttempts > 0 && attempt >= p.MaxAttempts:
		opts.Disposition = queue.NackDispositionFailed
		if p.DeadLetterOnMax {
			opts.Disposition = queue.NackDispositionDeadLetter
		}
		opts.Delay = 0
	}
	return opts
}

// exhausted reports whether opts ends the message's life on this queue.
func exhausted(opts queue.NackOptions) bool {
	return opts.Disposition != queue.NackDispositionRetry
}

// SweepProducer enqueues one sweep per interval. Several nodes may run a
// producer; the bucketed idempotency key lets the queue collapse duplicates.
type SweepProducer struct {
	Enqueuer queue.Enqueuer
	Interval time.Duration
	Now      func() time.Time
}

// EnqueueOnce enqueues the sweep for the current bucket.
func (p SweepProducer) EnqueueOnce(ctx context.Context) error {
	if p.Enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	_, err := p.Enqueuer.Enqueue(ctx, NewSweepMessage(now(), p.Interval))
	return err
}

// Run enqueues a sweep immediately and then on every tick until ctx is done.
// Enqueue failures are reported through onError and do not stop the loop.
func (p SweepProducer) Run(ctx context.Context, onError func(error)) error {
	if p.Interval <= 0 {
		return fmt.Errorf("gojob: sweep interval must be positive")
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		if err := p.EnqueueOnce(ctx); err != nil && onError != nil && ctx.Err() == nil {
			onError(err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// EnqueueReplay queues a dead-letter replay for eventID.
func EnqueueReplay(ctx context.Context, enqueuer queue.Enqueuer, eventID string) error {
	if enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("gojob: replay requires an event id")
	}
	_, err := enqueuer.Enqueue(ctx, NewReplayMessage(eventID))
	return err
}
