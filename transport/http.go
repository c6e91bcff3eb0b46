// Package transport sends hub requests over HTTP and classifies failures
// with hub error codes. Any HTTP status is a Response; only exchanges that
// could not complete are errors.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
)

const (
	defaultClientTimeout = 30 * time.Second
	defaultResponseLimit = int64(1 << 20)
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// Timeout bounds this exchange in addition to any ctx deadline.
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

// HTTPClient is the production transport for the downstream order API.
type HTTPClient struct {
	Doer          HTTPDoer
	Headers       map[string]string
	ResponseLimit int64
	now           func() time.Time
}

func NewHTTPClient(doer HTTPDoer) *HTTPClient {
	if doer == nil {
		doer = &http.Client{Timeout: defaultClientTimeout}
	}
	return &HTTPClient{
		Doer:          doer,
		Headers:       map[string]string{},
		ResponseLimit: defaultResponseLimit,
		now:           time.Now,
	}
}

func (c *HTTPClient) Do(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.Doer == nil {
		return Response{}, core.NewHubError(core.ErrorInternal, "transport: http client is not configured", nil)
	}
	target, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || target.Host == "" {
		return Response{}, core.WrapHubError(err, core.ErrorBadInput, "transport: absolute request url is required",
			map[string]any{"url": req.URL})
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, core.WrapHubError(err, core.ErrorBadInput, "transport: build request", nil)
	}
	setHeaders(httpReq.Header, c.Headers)
	setHeaders(httpReq.Header, req.Headers)

	started := c.clock()()
	httpRes, err := c.Doer.Do(httpReq)
	if err != nil {
		return Response{}, core.WrapHubError(err, core.ErrorDownstreamTransient, "transport: request failed", map[string]any{
			"url":     target.String(),
			"timeout": ctx.Err() != nil,
		})
	}
	defer httpRes.Body.Close()

	limit := c.ResponseLimit
	if limit <= 0 {
		limit = defaultResponseLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, core.WrapHubError(err, core.ErrorDownstreamTransient, "transport: read response", map[string]any{
			"status_code": httpRes.StatusCode,
		})
	}
	if int64(len(body)) > limit {
		return Response{}, core.NewHubError(core.ErrorDownstreamTransient,
			fmt.Sprintf("transport: response exceeds %d bytes", limit),
			map[string]any{"status_code": httpRes.StatusCode})
	}

	headers := make(map[string]string, len(httpRes.Header))
	for key, values := range httpRes.Header {
		headers[key] = strings.Join(values, ",")
	}
	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    headers,
		Body:       body,
		Duration:   c.clock()().Sub(started),
	}, nil
}

func (c *HTTPClient) clock() func() time.Time {
	if c.now == nil {
		return time.Now
	}
	return c.now
}

func setHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}
