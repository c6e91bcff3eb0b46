// Package metrics exports hub measurements to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-order-hub/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets covers operation latencies in milliseconds.
var DefaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// PrometheusRecorder implements core.MetricsRecorder. Series are created on
// first use; the label set seen first for a name is kept and later tags are
// projected onto it.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	buckets  []float64

	mu         sync.Mutex
	counters   map[string]*vecEntry[*prometheus.CounterVec]
	histograms map[string]*vecEntry[*prometheus.HistogramVec]
}

type vecEntry[V any] struct {
	vec    V
	labels []string
}

type RecorderOption func(*PrometheusRecorder)

func WithBuckets(buckets ...float64) RecorderOption {
	return func(r *PrometheusRecorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() RecorderOption {
	return func(r *PrometheusRecorder) {
		r.registry.MustRegister(collectors.NewGoCollector())
		r.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
}

func NewPrometheusRecorder(opts ...RecorderOption) *PrometheusRecorder {
	recorder := &PrometheusRecorder{
		registry:   prometheus.NewRegistry(),
		buckets:    DefaultBuckets,
		counters:   map[string]*vecEntry[*prometheus.CounterVec]{},
		histograms: map[string]*vecEntry[*prometheus.HistogramVec]{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(recorder)
		}
	}
	return recorder
}

func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	name = SeriesName(name)
	if !strings.HasSuffix(name, "_total") {
		name += "_total"
	}
	r.mu.Lock()
	entry, ok := r.counters[name]
	if !ok {
		labels := labelKeys(tags)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: helpFor(name)}, labels)
		if err := r.registry.Register(vec); err != nil {
			r.mu.Unlock()
			return
		}
		entry = &vecEntry[*prometheus.CounterVec]{vec: vec, labels: labels}
		r.counters[name] = entry
	}
	r.mu.Unlock()
	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Add(float64(value))
}

func (r *PrometheusRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	name = SeriesName(name)
	r.mu.Lock()
	entry, ok := r.histograms[name]
	if !ok {
		labels := labelKeys(tags)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: r.buckets,
		}, labels)
		if err := r.registry.Register(vec); err != nil {
			r.mu.Unlock()
			return
		}
		entry = &vecEntry[*prometheus.HistogramVec]{vec: vec, labels: labels}
		r.histograms[name] = entry
	}
	r.mu.Unlock()
	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

// SeriesName maps a dotted hub metric name onto the Prometheus charset.
func SeriesName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "orderhub_unnamed"
	}
	return b.String()
}

func labelKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		if sanitized := SeriesName(key); sanitized != "orderhub_unnamed" {
			keys = append(keys, sanitized)
		}
	}
	sort.Strings(keys)
	return dedupeSorted(keys)
}

func labelValues(labels []string, tags map[string]string) []string {
	byLabel := make(map[string]string, len(tags))
	for key, value := range tags {
		byLabel[SeriesName(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = byLabel[label]
	}
	return values
}

func dedupeSorted(values []string) []string {
	out := values[:0]
	for i, value := range values {
		if i > 0 && value == values[i-1] {
			continue
		}
		out = append(out, value)
	}
	return out
}

func helpFor(name string) string {
	return "Order hub series " + name + "."
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)
