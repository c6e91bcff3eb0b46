// Package httpapi exposes the hub over HTTP with gin: the provider webhook
// endpoint, a health check and the Prometheus scrape endpoint.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-order-hub/breaker"
	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/webhooks"
)

const DefaultMaxBodyBytes int64 = 1 << 20

type WebhookReceiver interface {
	Receive(ctx context.Context, req webhooks.Request) (webhooks.Response, error)
}

type BreakerSnapshots interface {
	Snapshots() []breaker.Snapshot
}

type Options struct {
	Receiver WebhookReceiver
	Metrics  http.Handler
	// Health reports storage reachability; nil means always healthy.
	Health       func(ctx context.Context) error
	Breakers     BreakerSnapshots
	Logger       core.Logger
	MaxBodyBytes int64
}

type handler struct {
	receiver     WebhookReceiver
	health       func(ctx context.Context) error
	breakers     BreakerSnapshots
	logger       core.Logger
	maxBodyBytes int64
}

// NewRouter builds the gin engine. It does not set the gin mode; callers do
// that before constructing the router.
func NewRouter(opts Options) *gin.Engine {
	h := &handler{
		receiver:     opts.Receiver,
		health:       opts.Health,
		breakers:     opts.Breakers,
		logger:       glog.Ensure(opts.Logger),
		maxBodyBytes: opts.MaxBodyBytes,
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = DefaultMaxBodyBytes
	}

	router := gin.New()
	router.Use(gin.Recovery(), h.requestLog())

	router.POST("/webhooks/:provider", h.receiveWebhook)
	router.GET("/healthz", h.healthz)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return router
}

func (h *handler) receiveWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	if h.receiver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   core.ErrorInternal,
			"message": "webhook receiver is not configured",
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   core.ErrorBadInput,
			"message": "failed to read request body",
		})
		return
	}
	if int64(len(body)) > h.maxBodyBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   core.ErrorBadInput,
			"message": "payload too large",
		})
		return
	}

	resp, err := h.receiver.Receive(c.Request.Context(), webhooks.Request{
		Provider: provider,
		Body:     body,
		Headers:  flattenHeaders(c.Request.Header),
	})
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
		if err == nil {
			status = http.StatusOK
		}
	}
	if err != nil {
		h.writeError(c, status, resp.EventID, err)
		return
	}

	payload := gin.H{
		"eventId":   resp.EventID,
		"duplicate": resp.Duplicate,
	}
	if resp.Outcome != nil {
		payload["status"] = resp.Outcome.Status
		payload["outcome"] = resp.Outcome
	}
	c.JSON(status, payload)
}

func (h *handler) writeError(c *gin.Context, status int, eventID string, err error) {
	body := gin.H{
		"error":   core.ErrorCode(err),
		"message": errorMessage(err),
	}
	if eventID != "" {
		body["eventId"] = eventID
	}
	if status == http.StatusTooManyRequests {
		if wait, ok := retryAfter(err); ok {
			c.Header("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("webhook request failed", "provider", c.Param("provider"), "status", status, "error", err)
	}
	c.JSON(status, body)
}

func (h *handler) healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
			body["error"] = err.Error()
		}
	}
	if h.breakers != nil {
		body["breakers"] = h.breakers.Snapshots()
	}
	c.JSON(status, body)
}

func (h *handler) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		h.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
	}
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		flat[key] = values[0]
	}
	return flat
}

func errorMessage(err error) string {
	var rich *goerrors.Error
	if errors.As(err, &rich) && strings.TrimSpace(rich.Message) != "" {
		return rich.Message
	}
	return err.Error()
}

// retryAfter reads the wait the rate limiter attached to a throttled error.
func retryAfter(err error) (time.Duration, bool) {
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.Metadata == nil {
		return 0, false
	}
	switch ms := rich.Metadata["retry_after_ms"].(type) {
	case int64:
		if ms <= 0 {
			return 0, false
		}
		wait := time.Duration(ms) * time.Millisecond
		if wait < time.Second {
			wait = time.Second
		}
		return wait, true
	default:
		return 0, false
	}
}
