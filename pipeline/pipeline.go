// Package pipeline turns a logged webhook event into a forwarded unified
// order. It owns every lifecycle transition after reception:
//
//	RECEIVED -> VALIDATING -> PROCESSING -> COMPLETED
//	PROCESSING -> FAILED | RETRYING
//	RETRYING -> PROCESSING (claimed by the retry scheduler)
//	RETRYING -> DEAD_LETTER (retry budget exhausted)
//
// Cheap deterministic stages run before any network call so invalid payloads
// never consume breaker budget or retry slots.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/retry"
)

const defaultResolverTimeout = 5 * time.Second

type Pipeline struct {
	events      core.EventStore
	idempotency core.IdempotencyStore
	registry    core.AdapterRegistry
	branches    core.BranchResolver
	products    core.ProductResolver
	forwarder   core.Forwarder
	alerts      core.AlertSink
	schedule    retry.Schedule
	observer    *core.Observer

	resolverTimeout time.Duration
	now             func() time.Time
}

type Option func(*Pipeline)

func WithProductResolver(products core.ProductResolver) Option {
	return func(p *Pipeline) {
		p.products = products
	}
}

func WithAlertSink(alerts core.AlertSink) Option {
	return func(p *Pipeline) {
		p.alerts = alerts
	}
}

func WithSchedule(schedule retry.Schedule) Option {
	return func(p *Pipeline) {
		if len(schedule) > 0 {
			p.schedule = append(retry.Schedule(nil), schedule...)
		}
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

func WithResolverTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) {
		if timeout > 0 {
			p.resolverTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func New(
	events core.EventStore,
	idempotency core.IdempotencyStore,
	registry core.AdapterRegistry,
	branches core.BranchResolver,
	forwarder core.Forwarder,
	opts ...Option,
) (*Pipeline, error) {
	if events == nil || idempotency == nil {
		return nil, fmt.Errorf("pipeline: event and idempotency stores are required")
	}
	if registry == nil {
		return nil, fmt.Errorf("pipeline: adapter registry is required")
	}
	if branches == nil {
		return nil, fmt.Errorf("pipeline: branch resolver is required")
	}
	if forwarder == nil {
		return nil, fmt.Errorf("pipeline: forwarder is required")
	}
	p := &Pipeline{
		events:          events,
		idempotency:     idempotency,
		registry:        registry,
		branches:        branches,
		forwarder:       forwarder,
		schedule:        retry.DefaultSchedule(),
		resolverTimeout: defaultResolverTimeout,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Process runs a freshly received event through every stage. Events that
// another worker already claimed are skipped.
func (p *Pipeline) Process(ctx context.Context, eventID string) error {
	event, err := p.events.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status != core.EventStatusReceived {
		p.observer.Debug(ctx, "event already claimed", map[string]any{
			"event_id":     event.ID,
			"event_status": string(event.Status),
		})
		return nil
	}
	claimed, err := p.transition(ctx, event, core.EventStatusValidating, nil)
	if err != nil {
		if errors.Is(err, core.ErrStaleEventTransition) {
			return nil
		}
		return err
	}
	return p.ProcessClaimed(ctx, claimed)
}

// ProcessClaimed runs an event the caller already moved to VALIDATING.
func (p *Pipeline) ProcessClaimed(ctx context.Context, event core.WebhookEvent) (err error) {
	startedAt := time.Now()
	defer func() {
		p.observer.ObserveOperation(ctx, startedAt, "pipeline.process", err, map[string]any{
			"provider":       event.Provider,
			"event_id":       event.ID,
			"correlation_id": event.CorrelationID,
		})
	}()

	adapter, parsed, stageErr := p.validate(event)
	if stageErr != nil {
		return p.fail(ctx, event, stageErr)
	}

	event, err = p.transition(ctx, event, core.EventStatusProcessing, nil)
	if err != nil {
		return err
	}

	event, ready, err := p.prepare(ctx, event, adapter, parsed)
	if !ready {
		return err
	}
	return p.forward(ctx, event)
}

// ResumeForward re-attempts delivery for an event the retry scheduler moved
// back to PROCESSING. Parsing and validation are not repeated unless the
// stored order is missing.
func (p *Pipeline) ResumeForward(ctx context.Context, event core.WebhookEvent) (err error) {
	startedAt := time.Now()
	defer func() {
		p.observer.ObserveOperation(ctx, startedAt, "pipeline.retry", err, map[string]any{
			"provider":    event.Provider,
			"event_id":    event.ID,
			"retry_count": event.RetryCount,
		})
	}()
	if event.Status != core.EventStatusProcessing {
		return fmt.Errorf("pipeline: event %s is %s, expected PROCESSING", event.ID, event.Status)
	}
	if event.Order == nil {
		adapter, parsed, stageErr := p.validate(event)
		if stageErr != nil {
			return p.fail(ctx, event, stageErr)
		}
		prepared, ready, err := p.prepare(ctx, event, adapter, parsed)
		if !ready {
			return err
		}
		event = prepared
	}
	return p.forward(ctx, event)
}

// RetryStalled reschedules a PROCESSING event whose worker stopped renewing
// its lease. The interrupted attempt may have reached the downstream service,
// so it consumes one retry like any other transient failure.
func (p *Pipeline) RetryStalled(ctx context.Context, event core.WebhookEvent) (err error) {
	startedAt := time.Now()
	defer func() {
		p.observer.ObserveOperation(ctx, startedAt, "pipeline.stalled", err, map[string]any{
			"provider":    event.Provider,
			"event_id":    event.ID,
			"retry_count": event.RetryCount,
		})
	}()
	if event.Status != core.EventStatusProcessing {
		return fmt.Errorf("pipeline: event %s is %s, expected PROCESSING", event.ID, event.Status)
	}
	return p.retryLater(ctx, event, core.NewHubError(core.ErrorDownstreamTransient, "processing lease expired", map[string]any{
		"event_id": event.ID,
	}), false)
}

// ReplayDeadLetter hands a dead-lettered event back to the retry scheduler
// with a fresh retry budget, due immediately.
func (p *Pipeline) ReplayDeadLetter(ctx context.Context, eventID string) (core.WebhookEvent, error) {
	event, err := p.events.Get(ctx, eventID)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	if event.Status != core.EventStatusDeadLetter {
		return core.WebhookEvent{}, core.NewHubError(core.ErrorConflict,
			fmt.Sprintf("event %s is %s, only DEAD_LETTER events can be replayed", event.ID, event.Status),
			map[string]any{"event_id": event.ID, "event_status": string(event.Status)},
		)
	}
	now := p.now()
	replayed, err := p.transition(ctx, event, core.EventStatusRetrying, func(next *core.WebhookEvent) {
		due := now
		next.RetryCount = 0
		next.NextRetryAt = &due
		next.ProcessedAt = nil
	})
	if err != nil {
		return core.WebhookEvent{}, err
	}
	p.recordOutcome(ctx, replayed)
	p.observer.Info(ctx, "dead letter replayed", map[string]any{
		"provider":       replayed.Provider,
		"event_id":       replayed.ID,
		"correlation_id": replayed.CorrelationID,
	})
	return replayed, nil
}

// prepare maps the order, resolves its branch and stores both on the
// PROCESSING event. It reports false when the event was failed or rescheduled
// instead, with the error the caller should return.
func (p *Pipeline) prepare(
	ctx context.Context,
	event core.WebhookEvent,
	adapter core.ProviderAdapter,
	parsed core.ParsedPayload,
) (core.WebhookEvent, bool, error) {
	order, stageErr := p.transform(ctx, event, adapter, parsed)
	if stageErr != nil {
		return event, false, p.fail(ctx, event, stageErr)
	}

	resolution, resolveErr := p.resolveBranch(ctx, event.Provider, order.ExternalBranchID)
	if resolveErr != nil {
		if errors.Is(resolveErr, core.ErrMappingNotFound) {
			return event, false, p.fail(ctx, event, core.WrapHubError(resolveErr, core.ErrorUnresolvedBranch,
				fmt.Sprintf("no branch mapping for %s/%s", event.Provider, order.ExternalBranchID),
				map[string]any{"external_branch_id": order.ExternalBranchID},
			))
		}
		return event, false, p.retryLater(ctx, event, core.WrapHubError(resolveErr, core.ErrorDownstreamTransient,
			"branch resolution unavailable: "+resolveErr.Error(),
			map[string]any{"external_branch_id": order.ExternalBranchID},
		), false)
	}
	order.BranchID = resolution.BranchID
	order.CompanyID = resolution.CompanyID

	stored, err := p.events.Transition(ctx, event.ID, core.EventStatusProcessing, func(next *core.WebhookEvent) error {
		next.Order = &order
		next.BranchID = resolution.BranchID
		next.CompanyID = resolution.CompanyID
		return nil
	})
	if err != nil {
		return event, false, err
	}
	return stored, true, nil
}

// validate covers parse and structural validation.
func (p *Pipeline) validate(event core.WebhookEvent) (core.ProviderAdapter, core.ParsedPayload, error) {
	adapter, err := p.registry.Resolve(event.Provider)
	if err != nil {
		return nil, core.ParsedPayload{}, err
	}
	parsed, err := adapter.Parse(event.RawPayload)
	if err != nil {
		return nil, core.ParsedPayload{}, stageError(err, core.ErrorParse, "parse payload")
	}
	if parsed.Provider == "" {
		parsed.Provider = event.Provider
	}
	if err := ValidateStructure(parsed); err != nil {
		return nil, core.ParsedPayload{}, err
	}
	if validator, ok := adapter.(core.StructuralValidator); ok {
		if err := validator.ValidateStructure(parsed); err != nil {
			return nil, core.ParsedPayload{}, stageError(err, core.ErrorValidation, "validate payload structure")
		}
	}
	return adapter, parsed, nil
}

// transform maps to the unified order, applies product mappings and runs the
// business rules.
func (p *Pipeline) transform(
	ctx context.Context,
	event core.WebhookEvent,
	adapter core.ProviderAdapter,
	parsed core.ParsedPayload,
) (core.UnifiedOrder, error) {
	order, err := adapter.ToUnifiedOrder(parsed)
	if err != nil {
		return core.UnifiedOrder{}, stageError(err, core.ErrorValidation, "map unified order")
	}
	order.Provider = event.Provider
	order.RawPayloadRef = event.ID
	if order.ExternalBranchID == "" {
		order.ExternalBranchID = parsed.ExternalBranchID
	}
	if order.ExternalOrderID == "" {
		order.ExternalOrderID = parsed.ExternalOrderID
	}
	if order.Status == "" {
		order.Status = adapter.MapStatus(parsed.ProviderStatus)
	}
	p.applyProductMappings(ctx, &order)
	if err := ValidateBusinessRules(order); err != nil {
		return core.UnifiedOrder{}, err
	}
	return order, nil
}

func (p *Pipeline) applyProductMappings(ctx context.Context, order *core.UnifiedOrder) {
	if p.products == nil || order == nil || len(order.Items) == 0 {
		return
	}
	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if item.ProductRef == "" && strings.TrimSpace(item.ExternalProductID) != "" {
			ids = append(ids, strings.TrimSpace(item.ExternalProductID))
		}
	}
	if len(ids) == 0 {
		return
	}
	refs, err := p.products.ResolveProducts(ctx, order.Provider, ids)
	if err != nil {
		p.observer.Warn(ctx, "product mapping lookup failed", map[string]any{
			"provider": order.Provider,
			"event_id": order.RawPayloadRef,
			"error":    err.Error(),
		})
		return
	}
	for i := range order.Items {
		if ref, ok := refs[strings.TrimSpace(order.Items[i].ExternalProductID)]; ok && order.Items[i].ProductRef == "" {
			order.Items[i].ProductRef = ref
		}
	}
}

func (p *Pipeline) resolveBranch(ctx context.Context, provider string, externalBranchID string) (core.BranchResolution, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, p.resolverTimeout)
	defer cancel()
	return p.branches.ResolveBranch(lookupCtx, provider, externalBranchID)
}

func (p *Pipeline) forward(ctx context.Context, event core.WebhookEvent) error {
	result := p.forwarder.Forward(ctx, *event.Order)

	switch {
	case result.Success:
		completed, err := p.transition(ctx, event, core.EventStatusCompleted, func(next *core.WebhookEvent) {
			next.DownstreamOrderID = result.DownstreamOrderID
			next.ErrorCode = ""
			next.ErrorMessage = ""
		})
		if err != nil {
			return err
		}
		p.recordOutcome(ctx, completed)
		return nil

	case !result.Retryable:
		cause := result.Err
		if cause == nil {
			cause = core.NewHubError(core.ErrorDownstreamRejected, "downstream rejected order", nil)
		}
		return p.fail(ctx, event, stageError(cause, core.ErrorDownstreamRejected, "forward order"))
	}

	cause := result.Err
	if cause == nil {
		cause = core.NewHubError(core.ErrorDownstreamTransient, "downstream unavailable", nil)
	}
	return p.retryLater(ctx, event, cause, result.ShortCircuited)
}

// retryLater moves a PROCESSING event to RETRYING on the backoff schedule.
// Once the budget is spent the same write continues RETRYING -> DEAD_LETTER,
// so an exhausted event is never left waiting without a due time.
func (p *Pipeline) retryLater(ctx context.Context, event core.WebhookEvent, cause error, shortCircuited bool) error {
	now := p.now()
	decision := p.schedule.Next(event.RetryCount, event.MaxRetries, now)
	next, err := p.events.Transition(ctx, event.ID, event.Status, func(next *core.WebhookEvent) error {
		if err := next.TransitionTo(core.EventStatusRetrying, now); err != nil {
			return err
		}
		next.ErrorCode = core.ErrorDownstreamTransient
		next.ErrorMessage = cause.Error()
		if decision.DeadLetter {
			return next.TransitionTo(core.EventStatusDeadLetter, now)
		}
		nextRetryAt := decision.NextRetryAt
		next.RetryCount = decision.RetryCount
		next.NextRetryAt = &nextRetryAt
		return nil
	})
	if err != nil {
		return err
	}
	if decision.DeadLetter {
		p.recordOutcome(ctx, next)
		p.notifyDeadLetter(ctx, next)
		return nil
	}
	p.observer.Info(ctx, "forward scheduled for retry", map[string]any{
		"provider":       next.Provider,
		"event_id":       next.ID,
		"retry_count":    next.RetryCount,
		"next_retry_at":  decision.NextRetryAt,
		"short_circuit":  shortCircuited,
		"correlation_id": next.CorrelationID,
	})
	return nil
}

// fail records a terminal, non-retryable outcome.
func (p *Pipeline) fail(ctx context.Context, event core.WebhookEvent, cause error) error {
	code := core.ErrorCode(cause)
	failed, err := p.events.Transition(ctx, event.ID, event.Status, func(next *core.WebhookEvent) error {
		if next.Status == core.EventStatusValidating {
			if err := next.TransitionTo(core.EventStatusProcessing, p.now()); err != nil {
				return err
			}
		}
		return next.Fail(code, cause.Error(), p.now())
	})
	if err != nil {
		return err
	}
	p.recordOutcome(ctx, failed)
	p.observer.Warn(ctx, "webhook event failed", map[string]any{
		"provider":       failed.Provider,
		"event_id":       failed.ID,
		"error_code":     code,
		"correlation_id": failed.CorrelationID,
	})
	return nil
}

func (p *Pipeline) transition(
	ctx context.Context,
	event core.WebhookEvent,
	to core.EventStatus,
	mutate func(*core.WebhookEvent),
) (core.WebhookEvent, error) {
	return p.events.Transition(ctx, event.ID, event.Status, func(next *core.WebhookEvent) error {
		if err := next.TransitionTo(to, p.now()); err != nil {
			return err
		}
		if mutate != nil {
			mutate(next)
		}
		return nil
	})
}

func (p *Pipeline) recordOutcome(ctx context.Context, event core.WebhookEvent) {
	if err := p.idempotency.RecordOutcome(ctx, event.DedupKey, event.Outcome()); err != nil {
		p.observer.Error(ctx, "record idempotency outcome failed", map[string]any{
			"event_id":  event.ID,
			"dedup_key": event.DedupKey,
			"error":     err.Error(),
		})
	}
}

func (p *Pipeline) notifyDeadLetter(ctx context.Context, event core.WebhookEvent) {
	p.observer.Error(ctx, "webhook event dead-lettered", map[string]any{
		"provider":       event.Provider,
		"event_id":       event.ID,
		"retry_count":    event.RetryCount,
		"correlation_id": event.CorrelationID,
	})
	if p.alerts == nil {
		return
	}
	alert := core.Alert{
		Kind:       core.AlertKindDeadLetter,
		Message:    fmt.Sprintf("webhook event %s dead-lettered after %d retries", event.ID, event.RetryCount),
		Provider:   event.Provider,
		EventID:    event.ID,
		OccurredAt: p.now(),
		Metadata: map[string]any{
			"error_code":     event.ErrorCode,
			"error_message":  event.ErrorMessage,
			"correlation_id": event.CorrelationID,
		},
	}
	if err := p.alerts.Notify(ctx, alert); err != nil {
		p.observer.Error(ctx, "dead letter alert failed", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
	}
}

// stageError keeps an error that already carries a specific hub code and
// otherwise tags err with code.
func stageError(err error, code string, message string) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		switch strings.TrimSpace(rich.TextCode) {
		case "", core.ErrorBadInput, core.ErrorInternal:
		default:
			return err
		}
	}
	return core.WrapHubError(err, code, message+": "+err.Error(), nil)
}
