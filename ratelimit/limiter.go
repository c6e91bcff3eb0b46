// Package ratelimit throttles inbound webhook deliveries with one token
// bucket per provider.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-order-hub/core"
	"golang.org/x/time/rate"
)

type ThrottledError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: provider %q throttled for %s", strings.TrimSpace(e.Provider), e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"provider": strings.TrimSpace(e.Provider),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// ProviderLimiter keeps a lazily created token bucket per provider. Providers
// without a configured rate are not limited.
type ProviderLimiter struct {
	Now func() time.Time

	mu       sync.Mutex
	limits   map[string]core.RateLimitConfig
	limiters map[string]*rate.Limiter
}

func NewProviderLimiter(limits map[string]core.RateLimitConfig) *ProviderLimiter {
	normalized := make(map[string]core.RateLimitConfig, len(limits))
	for provider, limit := range limits {
		normalized[normalizeProvider(provider)] = limit
	}
	return &ProviderLimiter{
		limits:   normalized,
		limiters: map[string]*rate.Limiter{},
		Now: func() time.Time {
			return time.Now()
		},
	}
}

// FromConfig builds limits from the provider section of the hub config.
func FromConfig(providers map[string]core.ProviderAdapterConfig) *ProviderLimiter {
	limits := make(map[string]core.RateLimitConfig, len(providers))
	for code, provider := range providers {
		limits[code] = provider.RateLimit
	}
	return NewProviderLimiter(limits)
}

// Allow consumes one token for provider or returns a rate-limited error
// carrying the wait until the next token.
func (l *ProviderLimiter) Allow(_ context.Context, provider string) error {
	if l == nil {
		return nil
	}
	provider = normalizeProvider(provider)
	limiter := l.limiterFor(provider)
	if limiter == nil {
		return nil
	}
	now := l.now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return ThrottledError{Provider: provider}.ToServiceError()
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	reservation.CancelAt(now)
	return ThrottledError{Provider: provider, RetryAfter: delay}.ToServiceError()
}

func (l *ProviderLimiter) limiterFor(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[provider]; ok {
		return limiter
	}
	limit, ok := l.limits[provider]
	if !ok || limit.PerSecond <= 0 {
		return nil
	}
	burst := limit.Burst
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(limit.PerSecond)))
	}
	limiter := rate.NewLimiter(rate.Limit(limit.PerSecond), burst)
	l.limiters[provider] = limiter
	return limiter
}

func (l *ProviderLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
