// Package breaker guards calls to a downstream target with a
// CLOSED / OPEN / HALF_OPEN circuit breaker.
package breaker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-order-hub/core"
)

var ErrOpen = errors.New("breaker: circuit open")

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

type StateChangeFunc func(target string, from State, to State, snapshot Snapshot)

type Settings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenTrials   int
	Now              func() time.Time
	OnStateChange    StateChangeFunc
}

func SettingsFromConfig(cfg core.BreakerConfig) Settings {
	return Settings{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		HalfOpenTrials:   cfg.HalfOpenTrials,
	}
}

func (s Settings) normalized() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.HalfOpenTrials <= 0 {
		s.HalfOpenTrials = 1
	}
	if s.Now == nil {
		s.Now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

type Snapshot struct {
	Target              string     `json:"target"`
	State               State      `json:"state"`
	FailureCount        int        `json:"failure_count"`
	FailureThreshold    int        `json:"failure_threshold"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	ResetTimeout        string     `json:"reset_timeout"`
	HalfOpenTrialBudget int        `json:"half_open_trial_budget"`
	TrialsInFlight      int        `json:"trials_in_flight"`
}

// Breaker is the shared state for one downstream target. All transitions
// happen under its mutex; state change callbacks run after it is released.
type Breaker struct {
	target   string
	settings Settings

	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	trials        int
	generation    uint64
}

type transition struct {
	from     State
	to       State
	snapshot Snapshot
}

func New(target string, settings Settings) *Breaker {
	return &Breaker{
		target:   strings.TrimSpace(target),
		settings: settings.normalized(),
		state:    StateClosed,
	}
}

func (b *Breaker) Target() string {
	if b == nil {
		return ""
	}
	return b.target
}

// Allow reports whether a call may proceed. When it may, the returned done
// func must be called exactly once with the call result. ErrOpen means the
// call was short-circuited without touching the network.
func (b *Breaker) Allow() (func(success bool), error) {
	if b == nil {
		return func(bool) {}, nil
	}
	b.mu.Lock()
	var changes []transition
	now := b.settings.Now()

	if b.state == StateOpen {
		if now.Before(b.lastFailureAt.Add(b.settings.ResetTimeout)) {
			b.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrOpen, b.target)
		}
		changes = append(changes, b.setState(StateHalfOpen))
	}
	if b.state == StateHalfOpen {
		if b.trials >= b.settings.HalfOpenTrials {
			b.mu.Unlock()
			b.notify(changes)
			return nil, fmt.Errorf("%w: %s trial budget exhausted", ErrOpen, b.target)
		}
		b.trials++
	}
	generation := b.generation
	b.mu.Unlock()
	b.notify(changes)

	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			b.record(generation, success)
		})
	}, nil
}

func (b *Breaker) record(generation uint64, success bool) {
	b.mu.Lock()
	if generation != b.generation {
		// The call started under a state that has since changed.
		b.mu.Unlock()
		return
	}
	var changes []transition
	now := b.settings.Now()
	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			break
		}
		b.failures++
		b.lastFailureAt = now
		if b.failures >= b.settings.FailureThreshold {
			changes = append(changes, b.setState(StateOpen))
		}
	case StateHalfOpen:
		if success {
			b.failures = 0
			changes = append(changes, b.setState(StateClosed))
			break
		}
		b.failures++
		b.lastFailureAt = now
		changes = append(changes, b.setState(StateOpen))
	}
	b.mu.Unlock()
	b.notify(changes)
}

func (b *Breaker) Snapshot() Snapshot {
	if b == nil {
		return Snapshot{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Breaker) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		Target:              b.target,
		State:               b.state,
		FailureCount:        b.failures,
		FailureThreshold:    b.settings.FailureThreshold,
		ResetTimeout:        b.settings.ResetTimeout.String(),
		HalfOpenTrialBudget: b.settings.HalfOpenTrials,
	}
	if b.state == StateHalfOpen {
		snapshot.TrialsInFlight = b.trials
	}
	if !b.lastFailureAt.IsZero() {
		last := b.lastFailureAt
		snapshot.LastFailureAt = &last
	}
	return snapshot
}

func (b *Breaker) setState(next State) transition {
	from := b.state
	b.state = next
	b.trials = 0
	b.generation++
	return transition{from: from, to: next, snapshot: b.snapshotLocked()}
}

func (b *Breaker) notify(changes []transition) {
	if b.settings.OnStateChange == nil {
		return
	}
	for _, change := range changes {
		b.settings.OnStateChange(b.target, change.from, change.to, change.snapshot)
	}
}

// Registry owns one Breaker per downstream target, all built from the same
// settings.
type Registry struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(settings Settings) *Registry {
	return &Registry{settings: settings.normalized(), breakers: map[string]*Breaker{}}
}

func (r *Registry) Get(target string) *Breaker {
	target = strings.TrimSpace(target)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.breakers[target]; ok {
		return existing
	}
	created := New(target, r.settings)
	r.breakers[target] = created
	return created
}

func (r *Registry) Snapshot(target string) (Snapshot, bool) {
	r.mu.Lock()
	breaker, ok := r.breakers[strings.TrimSpace(target)]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return breaker.Snapshot(), true
}

func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		breakers = append(breakers, breaker)
	}
	r.mu.Unlock()
	out := make([]Snapshot, 0, len(breakers))
	for _, breaker := range breakers {
		out = append(out, breaker.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}
