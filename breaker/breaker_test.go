package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *fakeClock, changes *[]State) *Breaker {
	return New("orders", Settings{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
		HalfOpenTrials:   1,
		Now:              clock.Now,
		OnStateChange: func(_ string, _ State, to State, _ Snapshot) {
			*changes = append(*changes, to)
		},
	})
}

func fail(t *testing.T, b *Breaker) {
	t.Helper()
	done, err := b.Allow()
	if err != nil {
		t.Fatalf("expected call to be allowed: %v", err)
	}
	done(false)
}

func TestBreakerOpensAfterThresholdAndFailsFast(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var changes []State
	b := newTestBreaker(clock, &changes)

	for i := 0; i < 3; i++ {
		fail(t, b)
	}
	if b.Snapshot().State != StateOpen {
		t.Fatalf("expected OPEN after threshold, got %s", b.Snapshot().State)
	}
	if _, err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected fail fast, got %v", err)
	}
	if len(changes) != 1 || changes[0] != StateOpen {
		t.Fatalf("expected single OPEN notification, got %v", changes)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var changes []State
	b := newTestBreaker(clock, &changes)

	fail(t, b)
	fail(t, b)
	done, err := b.Allow()
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	done(true)
	fail(t, b)
	fail(t, b)
	if b.Snapshot().State != StateClosed {
		t.Fatalf("expected non-consecutive failures to keep breaker closed")
	}
}

func TestBreakerHalfOpenAllowsExactlyOneTrial(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var changes []State
	b := newTestBreaker(clock, &changes)
	for i := 0; i < 3; i++ {
		fail(t, b)
	}

	clock.Advance(29 * time.Second)
	if _, err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected breaker to stay open before reset timeout")
	}

	clock.Advance(time.Second)
	trial, err := b.Allow()
	if err != nil {
		t.Fatalf("expected trial call after reset timeout: %v", err)
	}
	if _, err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected second concurrent trial to be refused, got %v", err)
	}
	if b.Snapshot().State != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN during trial")
	}

	trial(true)
	if b.Snapshot().State != StateClosed {
		t.Fatalf("expected trial success to close the breaker")
	}
	if _, err := b.Allow(); err != nil {
		t.Fatalf("expected closed breaker to allow: %v", err)
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(changes) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, changes)
		}
	}
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var changes []State
	b := newTestBreaker(clock, &changes)
	for i := 0; i < 3; i++ {
		fail(t, b)
	}
	clock.Advance(31 * time.Second)
	fail(t, b)

	snapshot := b.Snapshot()
	if snapshot.State != StateOpen {
		t.Fatalf("expected trial failure to reopen, got %s", snapshot.State)
	}
	if snapshot.LastFailureAt == nil || !snapshot.LastFailureAt.Equal(clock.Now()) {
		t.Fatalf("expected lastFailureAt to move to the trial failure")
	}
	if _, err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected reopened breaker to fail fast")
	}
}

func TestBreakerIgnoresResultsFromPreviousState(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var changes []State
	b := newTestBreaker(clock, &changes)

	slow, err := b.Allow()
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	for i := 0; i < 3; i++ {
		fail(t, b)
	}
	slow(true)
	if b.Snapshot().State != StateOpen {
		t.Fatalf("expected late success from CLOSED generation to be ignored")
	}
}

func TestRegistrySharesBreakerPerTarget(t *testing.T) {
	registry := NewRegistry(Settings{FailureThreshold: 1})
	first := registry.Get("orders")
	if registry.Get(" orders ") != first {
		t.Fatalf("expected same breaker for the same target")
	}
	if registry.Get("payments") == first {
		t.Fatalf("expected distinct breaker per target")
	}
	fail(t, first)
	snapshot, ok := registry.Snapshot("orders")
	if !ok || snapshot.State != StateOpen {
		t.Fatalf("expected shared state, got %+v", snapshot)
	}
	if len(registry.Snapshots()) != 2 {
		t.Fatalf("expected two snapshots")
	}
}
