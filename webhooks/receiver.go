package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-order-hub/webhooks"

const (
	DefaultStoreTimeout     = 5 * time.Second
	DefaultReservationGrace = 30 * time.Second
)

// Request is one inbound delivery, independent of the HTTP framework.
type Request struct {
	Provider string
	Body     []byte
	Headers  map[string]string
}

// Response is what the provider sees. Duplicate deliveries carry the outcome
// recorded for the first one.
type Response struct {
	StatusCode int
	EventID    string
	Duplicate  bool
	Outcome    *core.EventOutcome
}

type RateLimiter interface {
	Allow(ctx context.Context, provider string) error
}

type EventDispatcher interface {
	// Dispatch hands eventID to the pipeline without blocking and reports
	// whether it was accepted.
	Dispatch(ctx context.Context, eventID string) bool
}

type ProviderConfigSource func(provider string) (core.ProviderAdapterConfig, bool)

type Receiver struct {
	Registry        core.AdapterRegistry
	ProviderConfigs ProviderConfigSource
	Validator       SignatureValidator
	// Limiter throttles verified deliveries, RejectLimiter bounds how many
	// failed verifications are audited.
	Limiter         RateLimiter
	RejectLimiter   RateLimiter
	Events          core.EventStore
	Idempotency     core.IdempotencyStore
	Dispatcher      EventDispatcher
	EventIDs        core.IDGenerator
	CorrelationIDs  core.IDGenerator
	Deriver         DedupKeyDeriver
	Observer        *core.Observer
	MaxRetries      int
	MaxBodyBytes    int64
	// StoreTimeout bounds the reserve and log writes, which outlive the
	// request context.
	StoreTimeout time.Duration
	// ReservationGrace is how long a reservation may exist without its event
	// before a redelivery reclaims it.
	ReservationGrace time.Duration
	Now              func() time.Time

	tracer trace.Tracer
}

func NewReceiver(
	registry core.AdapterRegistry,
	configs ProviderConfigSource,
	events core.EventStore,
	idempotency core.IdempotencyStore,
	dispatcher EventDispatcher,
) *Receiver {
	return &Receiver{
		Registry:         registry,
		ProviderConfigs:  configs,
		Events:           events,
		Idempotency:      idempotency,
		Dispatcher:       dispatcher,
		MaxRetries:       core.DefaultMaxRetries,
		StoreTimeout:     DefaultStoreTimeout,
		ReservationGrace: DefaultReservationGrace,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		tracer: otel.Tracer(tracerName),
	}
}

func (r *Receiver) Receive(ctx context.Context, req Request) (resp Response, err error) {
	if r == nil || r.Registry == nil || r.Events == nil || r.Idempotency == nil {
		return Response{StatusCode: http.StatusInternalServerError},
			core.NewHubError(core.ErrorInternal, "webhooks: receiver is not configured", nil)
	}
	startedAt := time.Now()
	provider := strings.ToLower(strings.TrimSpace(req.Provider))

	ctx, span := r.getTracer().Start(ctx, "webhooks.receive",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("orderhub.provider", provider)),
	)
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, core.ErrorCode(err))
		}
		span.End()
		r.Observer.ObserveOperation(ctx, startedAt, "receive", err, map[string]any{
			"provider":  provider,
			"event_id":  resp.EventID,
			"duplicate": resp.Duplicate,
		})
	}()

	adapter, err := r.Registry.Resolve(provider)
	if err != nil {
		return Response{StatusCode: http.StatusBadRequest}, core.MapError(err)
	}

	if r.MaxBodyBytes > 0 && int64(len(req.Body)) > r.MaxBodyBytes {
		return Response{StatusCode: http.StatusBadRequest}, core.NewHubError(
			core.ErrorBadInput,
			fmt.Sprintf("payload exceeds %d bytes", r.MaxBodyBytes),
			map[string]any{"provider": provider},
		)
	}

	cfg := r.providerConfig(provider)
	signing := adapter.SigningConfig()
	signature := SignatureHeader(signing, cfg, req.Headers)
	validation := r.Validator.Validate(signing, cfg, req.Body, req.Headers)
	if !validation.OK {
		rejectErr := core.NewHubError(core.ErrorInvalidSignature, "webhook signature verification failed", map[string]any{
			"provider":          provider,
			"signature_present": signature != "",
		})
		// Forged traffic draws from its own bucket so it cannot starve signed
		// deliveries. Past that bucket the 401 is still returned but the audit
		// write is skipped.
		if r.RejectLimiter != nil {
			if limitErr := r.RejectLimiter.Allow(ctx, provider); limitErr != nil {
				r.Observer.Count(ctx, "webhook_rejections_unaudited_total", 1, map[string]string{"provider": provider})
				return Response{StatusCode: http.StatusUnauthorized}, rejectErr
			}
		}
		eventID := r.reject(ctx, provider, req, signature, rejectErr)
		return Response{StatusCode: http.StatusUnauthorized, EventID: eventID}, rejectErr
	}

	if r.Limiter != nil {
		if limitErr := r.Limiter.Allow(ctx, provider); limitErr != nil {
			return Response{StatusCode: http.StatusTooManyRequests}, core.MapError(limitErr)
		}
	}

	trimmed := bytes.TrimSpace(req.Body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		parseErr := core.NewHubError(core.ErrorParse, "webhook payload is not valid JSON", map[string]any{
			"provider": provider,
		})
		eventID := r.reject(ctx, provider, req, signature, parseErr)
		return Response{StatusCode: http.StatusBadRequest, EventID: eventID}, parseErr
	}

	externalEventID, _ := adapter.EventID(req.Body, req.Headers)
	dedupKey := r.Deriver.Derive(provider, externalEventID, req.Body)
	eventID := r.newEventID()

	// A provider that hangs up must not abort the reserve-and-log sequence
	// half way, so the durable writes run detached from the request.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout())
	defer cancel()

	reservation, err := r.Idempotency.CheckAndReserve(storeCtx, dedupKey, eventID)
	if err != nil {
		return Response{StatusCode: http.StatusInternalServerError},
			core.WrapHubError(err, core.ErrorInternal, "reserve dedup key", map[string]any{"provider": provider})
	}
	if reservation.AlreadyExists {
		outcome, reclaimed, priorErr := r.priorOutcome(storeCtx, dedupKey, eventID, reservation.Prior)
		if priorErr != nil {
			status := http.StatusInternalServerError
			if core.IsRetryable(priorErr) {
				status = http.StatusServiceUnavailable
			}
			return Response{StatusCode: status}, priorErr
		}
		if !reclaimed {
			span.SetAttributes(attribute.Bool("orderhub.duplicate", true))
			return Response{
				StatusCode: http.StatusOK,
				EventID:    outcome.EventID,
				Duplicate:  true,
				Outcome:    &outcome,
			}, nil
		}
		r.Observer.Warn(ctx, "reclaimed orphaned dedup reservation", map[string]any{
			"provider":       provider,
			"dedup_key":      dedupKey,
			"stale_event_id": reservation.Prior.EventID,
			"event_id":       eventID,
		})
	}

	now := r.now()
	event, err := r.Events.Create(storeCtx, core.WebhookEvent{
		ID:              eventID,
		Provider:        provider,
		DedupKey:        dedupKey,
		ExternalEventID: strings.TrimSpace(externalEventID),
		RawPayload:      append([]byte(nil), req.Body...),
		Headers:         RedactHeaders(req.Headers),
		Signature:       signature,
		Status:          core.EventStatusReceived,
		MaxRetries:      r.maxRetries(),
		CorrelationID:   r.newCorrelationID(),
		ReceivedAt:      now,
		UpdatedAt:       now,
	})
	if err != nil {
		if releaseErr := r.Idempotency.Release(storeCtx, dedupKey); releaseErr != nil {
			r.Observer.Error(ctx, "release dedup key failed", map[string]any{
				"provider":  provider,
				"dedup_key": dedupKey,
				"error":     releaseErr.Error(),
			})
		}
		return Response{StatusCode: http.StatusInternalServerError},
			core.WrapHubError(err, core.ErrorInternal, "persist webhook event", map[string]any{"provider": provider})
	}
	span.SetAttributes(
		attribute.String("orderhub.event_id", event.ID),
		attribute.String("orderhub.correlation_id", event.CorrelationID),
	)

	if r.Dispatcher != nil && !r.Dispatcher.Dispatch(ctx, event.ID) {
		r.Observer.Warn(ctx, "dispatcher saturated, event left for recovery sweep", map[string]any{
			"provider": provider,
			"event_id": event.ID,
		})
	}

	outcome := event.Outcome()
	return Response{StatusCode: http.StatusOK, EventID: event.ID, Outcome: &outcome}, nil
}

// reject writes a FAILED audit record for a delivery that never entered the
// pipeline. Audit failures are logged and do not change the response.
func (r *Receiver) reject(ctx context.Context, provider string, req Request, signature string, cause error) string {
	eventID := r.newEventID()
	now := r.now()
	event := core.WebhookEvent{
		ID:            eventID,
		Provider:      provider,
		DedupKey:      RejectedDedupKey(provider, eventID),
		RawPayload:    append([]byte(nil), req.Body...),
		Headers:       RedactHeaders(req.Headers),
		Signature:     signature,
		Status:        core.EventStatusFailed,
		MaxRetries:    r.maxRetries(),
		ErrorCode:     core.ErrorCode(cause),
		ErrorMessage:  cause.Error(),
		CorrelationID: r.newCorrelationID(),
		ReceivedAt:    now,
		ProcessedAt:   &now,
		UpdatedAt:     now,
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout())
	defer cancel()
	if _, err := r.Events.Create(storeCtx, event); err != nil {
		r.Observer.Error(ctx, "audit rejected webhook failed", map[string]any{
			"provider":   provider,
			"error_code": event.ErrorCode,
			"error":      err.Error(),
		})
		return ""
	}
	r.Observer.Warn(ctx, "webhook rejected", map[string]any{
		"provider":   provider,
		"event_id":   eventID,
		"error_code": event.ErrorCode,
	})
	return eventID
}

// priorOutcome resolves the answer for a duplicate delivery. A reservation
// whose event was never logged is an orphan: once it is older than the
// reservation grace it is reclaimed for eventID, before that the provider is
// asked to retry.
func (r *Receiver) priorOutcome(ctx context.Context, dedupKey string, eventID string, prior *core.IdempotencyRecord) (core.EventOutcome, bool, error) {
	if prior == nil {
		return core.EventOutcome{}, false, core.NewHubError(core.ErrorInternal, "duplicate reservation without a prior record", nil)
	}
	if prior.Outcome != nil {
		return *prior.Outcome, false, nil
	}
	event, err := r.Events.Get(ctx, prior.EventID)
	if err == nil {
		return event.Outcome(), false, nil
	}
	if !errors.Is(err, core.ErrEventNotFound) {
		return core.EventOutcome{}, false, core.WrapHubError(err, core.ErrorInternal, "load prior webhook event", nil)
	}
	if r.now().Sub(prior.CreatedAt.UTC()) < r.reservationGrace() {
		return core.EventOutcome{}, false, core.NewHubError(core.ErrorDownstreamTransient, "prior delivery is still being recorded", map[string]any{
			"event_id": prior.EventID,
		})
	}
	won, err := r.Idempotency.Reclaim(ctx, dedupKey, prior.EventID, eventID)
	if err != nil {
		return core.EventOutcome{}, false, core.WrapHubError(err, core.ErrorInternal, "reclaim dedup key", nil)
	}
	if !won {
		return core.EventOutcome{}, false, core.NewHubError(core.ErrorDownstreamTransient, "dedup key reclaimed by a concurrent delivery", map[string]any{
			"event_id": prior.EventID,
		})
	}
	return core.EventOutcome{}, true, nil
}

func (r *Receiver) providerConfig(provider string) core.ProviderAdapterConfig {
	if r.ProviderConfigs != nil {
		if cfg, ok := r.ProviderConfigs(provider); ok {
			return cfg
		}
	}
	return core.ProviderAdapterConfig{Provider: provider}
}

func (r *Receiver) newEventID() string {
	if r.EventIDs != nil {
		if id := strings.TrimSpace(r.EventIDs.NewID()); id != "" {
			return id
		}
	}
	return fmt.Sprintf("evt_%d", time.Now().UnixNano())
}

func (r *Receiver) newCorrelationID() string {
	if r.CorrelationIDs != nil {
		return strings.TrimSpace(r.CorrelationIDs.NewID())
	}
	return ""
}

func (r *Receiver) storeTimeout() time.Duration {
	if r.StoreTimeout > 0 {
		return r.StoreTimeout
	}
	return DefaultStoreTimeout
}

func (r *Receiver) reservationGrace() time.Duration {
	return max(r.ReservationGrace, 0)
}

func (r *Receiver) maxRetries() int {
	if r.MaxRetries >= 0 {
		return r.MaxRetries
	}
	return core.DefaultMaxRetries
}

func (r *Receiver) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Receiver) getTracer() trace.Tracer {
	if r.tracer != nil {
		return r.tracer
	}
	return otel.Tracer(tracerName)
}
