package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-order-hub/breaker"
	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/httpapi"
	"github.com/goliatone/go-order-hub/metrics"
	"github.com/goliatone/go-order-hub/providers/acme"
	"github.com/goliatone/go-order-hub/providers/devkit"
	"github.com/goliatone/go-order-hub/ratelimit"
	"github.com/goliatone/go-order-hub/webhooks"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const acmeSecret = "acme-secret"

type dispatchRecorder struct {
	ids []string
}

func (d *dispatchRecorder) Dispatch(_ context.Context, eventID string) bool {
	d.ids = append(d.ids, eventID)
	return true
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
	return body
}

var _ = Describe("Router", func() {
	var (
		router     *gin.Engine
		receiver   *webhooks.Receiver
		events     *core.MemoryEventStore
		dispatcher *dispatchRecorder
		limits     map[string]core.RateLimitConfig
		opts       httpapi.Options
	)

	post := func(provider string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(body))
		for key, value := range headers {
			req.Header.Set(key, value)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	build := func() {
		registry, err := core.NewProviderAdapterRegistry(acme.New())
		Expect(err).NotTo(HaveOccurred())
		events = core.NewMemoryEventStore()
		dispatcher = &dispatchRecorder{}
		receiver = webhooks.NewReceiver(registry, func(provider string) (core.ProviderAdapterConfig, bool) {
			if provider != acme.ProviderCode {
				return core.ProviderAdapterConfig{}, false
			}
			return core.ProviderAdapterConfig{Provider: acme.ProviderCode, Secrets: []string{acmeSecret}}, true
		}, events, core.NewMemoryIdempotencyStore(), dispatcher)
		receiver.Deriver = webhooks.NewDedupKeyDeriver("dedup-key")
		receiver.Limiter = ratelimit.NewProviderLimiter(limits)
		opts.Receiver = receiver
		router = httpapi.NewRouter(opts)
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		limits = nil
		opts = httpapi.Options{}
	})

	Describe("POST /webhooks/:provider", func() {
		JustBeforeEach(build)

		It("accepts a signed delivery and dispatches it", func() {
			body := devkit.AcmeOrder("evt_http_1")
			w := post("acme", body, devkit.SignedHeaders(acme.New(), acmeSecret, body))

			Expect(w.Code).To(Equal(http.StatusOK))
			payload := decode(w)
			Expect(payload["eventId"]).NotTo(BeEmpty())
			Expect(payload["duplicate"]).To(BeFalse())
			Expect(payload["status"]).To(Equal(string(core.EventStatusReceived)))
			Expect(dispatcher.ids).To(ConsistOf(payload["eventId"]))

			stored, err := events.Get(context.Background(), payload["eventId"].(string))
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Provider).To(Equal("acme"))
			Expect(stored.RawPayload).To(Equal(body))
		})

		It("answers a duplicate with the first event id", func() {
			body := devkit.AcmeOrder("evt_http_dup")
			headers := devkit.SignedHeaders(acme.New(), acmeSecret, body)
			first := decode(post("acme", body, headers))

			w := post("acme", body, headers)
			Expect(w.Code).To(Equal(http.StatusOK))
			second := decode(w)
			Expect(second["duplicate"]).To(BeTrue())
			Expect(second["eventId"]).To(Equal(first["eventId"]))
			Expect(dispatcher.ids).To(HaveLen(1))
		})

		It("rejects an invalid signature with 401 and keeps an audit record", func() {
			body := devkit.AcmeOrder("evt_http_bad_sig")
			w := post("acme", body, devkit.SignedHeaders(acme.New(), "wrong-secret", body))

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			payload := decode(w)
			Expect(payload["error"]).To(Equal(core.ErrorInvalidSignature))
			Expect(payload["eventId"]).NotTo(BeEmpty())
			Expect(dispatcher.ids).To(BeEmpty())

			audit, err := events.Get(context.Background(), payload["eventId"].(string))
			Expect(err).NotTo(HaveOccurred())
			Expect(audit.Status).To(Equal(core.EventStatusFailed))
		})

		It("rejects a malformed payload with 400", func() {
			body := []byte("{not json")
			w := post("acme", body, devkit.SignedHeaders(acme.New(), acmeSecret, body))

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)["error"]).To(Equal(core.ErrorParse))
		})

		It("rejects an unknown provider with 400", func() {
			w := post("unknown", []byte(`{}`), nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(dispatcher.ids).To(BeEmpty())
		})

		Context("with a body limit", func() {
			BeforeEach(func() {
				opts.MaxBodyBytes = 16
			})

			It("rejects oversized bodies before signature checks", func() {
				body := devkit.AcmeOrder("evt_http_large")
				w := post("acme", body, devkit.SignedHeaders(acme.New(), acmeSecret, body))

				Expect(w.Code).To(Equal(http.StatusBadRequest))
				Expect(decode(w)["error"]).To(Equal(core.ErrorBadInput))
				Expect(events.List(context.Background(), core.EventFilter{})).To(BeEmpty())
			})
		})

		Context("with a provider rate limit", func() {
			BeforeEach(func() {
				limits = map[string]core.RateLimitConfig{"acme": {PerSecond: 0.01, Burst: 1}}
			})

			It("throttles the second delivery with 429 and Retry-After", func() {
				first := devkit.AcmeOrder("evt_http_rl_1")
				Expect(post("acme", first, devkit.SignedHeaders(acme.New(), acmeSecret, first)).Code).To(Equal(http.StatusOK))

				second := devkit.AcmeOrder("evt_http_rl_2")
				w := post("acme", second, devkit.SignedHeaders(acme.New(), acmeSecret, second))
				Expect(w.Code).To(Equal(http.StatusTooManyRequests))
				Expect(decode(w)["error"]).To(Equal(core.ErrorRateLimited))
				Expect(w.Header().Get("Retry-After")).NotTo(BeEmpty())
			})
		})
	})

	Describe("GET /healthz", func() {
		It("reports ok with breaker snapshots", func() {
			breakers := breaker.NewRegistry(breaker.Settings{FailureThreshold: 1})
			done, err := breakers.Get("downstream").Allow()
			Expect(err).NotTo(HaveOccurred())
			done(false)
			opts.Breakers = breakers
			build()

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			payload := decode(w)
			Expect(payload["status"]).To(Equal("ok"))
			Expect(payload["breakers"]).To(HaveLen(1))
			snapshot := payload["breakers"].([]any)[0].(map[string]any)
			Expect(snapshot["state"]).To(Equal(string(breaker.StateOpen)))
		})

		It("reports 503 when storage is unreachable", func() {
			opts.Health = func(context.Context) error { return errors.New("db down") }
			build()

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(decode(w)["error"]).To(Equal("db down"))
		})
	})

	Describe("GET /metrics", func() {
		It("serves the Prometheus registry", func() {
			recorder := metrics.NewPrometheusRecorder()
			recorder.IncCounter(context.Background(), "webhook.received", 1, map[string]string{"provider": "acme"})
			opts.Metrics = recorder.Handler()
			build()

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(metrics.SeriesName("webhook.received")))
		})
	})
})
