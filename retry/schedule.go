// Package retry drives events through RETRYING and recovery: a fixed backoff
// schedule and the periodic Scheduler that claims due work.
package retry

import (
	"time"

	"github.com/goliatone/go-order-hub/core"
)

// Schedule is a fixed, unjittered backoff table indexed by retry count.
type Schedule []time.Duration

func DefaultSchedule() Schedule {
	return Schedule(core.DefaultRetrySchedule())
}

// Delay returns the wait after failure number retryCount (0-based), clamped
// to the last entry.
func (s Schedule) Delay(retryCount int) time.Duration {
	if len(s) == 0 {
		return DefaultSchedule().Delay(retryCount)
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(s) {
		retryCount = len(s) - 1
	}
	return s[retryCount]
}

// Decision is the outcome of a retryable failure for an event that has
// already failed retryCount times.
type Decision struct {
	DeadLetter  bool
	RetryCount  int
	NextRetryAt time.Time
}

// Next schedules the retry for a transient failure or promotes the event to
// DEAD_LETTER once maxRetries retries were consumed.
func (s Schedule) Next(retryCount int, maxRetries int, now time.Time) Decision {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= maxRetries {
		return Decision{DeadLetter: true, RetryCount: retryCount}
	}
	return Decision{
		RetryCount:  retryCount + 1,
		NextRetryAt: now.Add(s.Delay(retryCount)).UTC(),
	}
}
