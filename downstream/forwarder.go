// Package downstream delivers unified orders to the order service over HTTP,
// guarded by a circuit breaker.
package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/breaker"
	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ordersPath        = "/orders"
	defaultTimeout    = 10 * time.Second
	idempotencyHeader = "Idempotency-Key"
	tracerName        = "github.com/goliatone/go-order-hub/downstream"
)

type Transport interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

type Forwarder struct {
	Transport Transport
	Breaker   *breaker.Breaker
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	Observer  *core.Observer

	tracer trace.Tracer
}

func NewForwarder(cfg core.DownstreamConfig, tr Transport, guard *breaker.Breaker, observer *core.Observer) *Forwarder {
	if tr == nil {
		tr = transport.NewHTTPClient(nil)
	}
	return &Forwarder{
		Transport: tr,
		Breaker:   guard,
		BaseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		AuthToken: strings.TrimSpace(cfg.AuthToken),
		Timeout:   cfg.Timeout,
		Observer:  observer,
		tracer:    otel.Tracer(tracerName),
	}
}

// Target identifies the downstream for breaker bookkeeping.
func (f *Forwarder) Target() string {
	if f == nil {
		return ""
	}
	return f.BaseURL + ordersPath
}

// Forward posts order and classifies the result: 2xx succeeds, 4xx is a
// terminal rejection, and 5xx, timeouts, transport errors or an open breaker
// are retryable.
func (f *Forwarder) Forward(ctx context.Context, order core.UnifiedOrder) (result core.ForwardResult) {
	if f == nil || f.Transport == nil {
		return core.ForwardResult{
			Retryable: true,
			Err:       core.NewHubError(core.ErrorInternal, "downstream: forwarder is not configured", nil),
		}
	}
	startedAt := time.Now()
	ctx, span := f.getTracer().Start(ctx, "downstream.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("orderhub.event_id", order.RawPayloadRef),
			attribute.String("orderhub.provider", order.Provider),
		),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("http.status_code", result.StatusCode),
			attribute.Bool("orderhub.short_circuited", result.ShortCircuited),
		)
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, core.ErrorCode(result.Err))
		}
		span.End()
		f.Observer.ObserveOperation(ctx, startedAt, "forward", result.Err, map[string]any{
			"provider":    order.Provider,
			"event_id":    order.RawPayloadRef,
			"status_code": result.StatusCode,
			"retryable":   result.Retryable,
		})
	}()

	done, err := f.Breaker.Allow()
	if err != nil {
		return core.ForwardResult{
			Retryable:      true,
			ShortCircuited: true,
			Err: core.WrapHubError(err, core.ErrorDownstreamTransient, "downstream circuit open", map[string]any{
				"target": f.Target(),
			}),
		}
	}

	body, err := json.Marshal(order)
	if err != nil {
		done(true)
		return core.ForwardResult{
			Err: core.WrapHubError(err, core.ErrorDownstreamRejected, "encode unified order", nil),
		}
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if key := strings.TrimSpace(order.RawPayloadRef); key != "" {
		headers[idempotencyHeader] = key
	}
	if f.AuthToken != "" {
		headers["Authorization"] = "Bearer " + f.AuthToken
	}

	res, err := f.Transport.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     f.Target(),
		Headers: headers,
		Body:    body,
		Timeout: f.timeout(),
	})
	if err != nil {
		done(false)
		metadata := map[string]any{"target": f.Target()}
		if errors.Is(err, context.DeadlineExceeded) {
			metadata["timeout"] = true
		}
		return core.ForwardResult{
			Retryable: true,
			Err:       core.WrapHubError(err, core.ErrorDownstreamTransient, "downstream request failed", metadata),
		}
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		done(true)
		return core.ForwardResult{
			Success:           true,
			StatusCode:        res.StatusCode,
			DownstreamOrderID: parseOrderID(res.Body),
		}
	case res.StatusCode >= 400 && res.StatusCode < 500:
		// The downstream is healthy; it refused this order.
		done(true)
		return core.ForwardResult{
			StatusCode: res.StatusCode,
			Err: core.NewHubError(core.ErrorDownstreamRejected,
				fmt.Sprintf("downstream rejected order with status %d", res.StatusCode),
				map[string]any{"status_code": res.StatusCode, "body": truncate(res.Body, 512)},
			),
		}
	default:
		done(false)
		return core.ForwardResult{
			Retryable:  true,
			StatusCode: res.StatusCode,
			Err: core.NewHubError(core.ErrorDownstreamTransient,
				fmt.Sprintf("downstream responded with status %d", res.StatusCode),
				map[string]any{"status_code": res.StatusCode},
			),
		}
	}
}

func (f *Forwarder) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return defaultTimeout
}

func (f *Forwarder) getTracer() trace.Tracer {
	if f.tracer != nil {
		return f.tracer
	}
	return otel.Tracer(tracerName)
}

func parseOrderID(body []byte) string {
	var payload struct {
		OrderID string `json:"orderId"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if id := strings.TrimSpace(payload.OrderID); id != "" {
		return id
	}
	return strings.TrimSpace(payload.ID)
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit])
}

var _ core.Forwarder = (*Forwarder)(nil)
