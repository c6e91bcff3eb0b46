package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/goliatone/go-order-hub/adapters/gologger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type sample struct {
	name  string
	value float64
	tags  map[string]string
}

// recordingMetrics keeps counters and histograms apart so tests can assert
// on each series kind.
type recordingMetrics struct {
	mu         sync.Mutex
	counters   []sample
	histograms []sample
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, sample{name: name, value: float64(value), tags: cloneMap(tags)})
}

func (m *recordingMetrics) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, sample{name: name, value: value, tags: cloneMap(tags)})
}

func newObservedLogger() (Logger, *observer.ObservedLogs) {
	zcore, logs := observer.New(zapcore.DebugLevel)
	return gologger.NewZapLogger(zap.New(zcore)), logs
}

type stubAdapter struct {
	code string
}

func (a stubAdapter) Code() string { return a.code }

func (a stubAdapter) EventID(raw []byte, _ map[string]string) (string, bool) {
	var envelope struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.EventID == "" {
		return "", false
	}
	return envelope.EventID, true
}

func (a stubAdapter) Parse(raw []byte) (ParsedPayload, error) {
	if len(raw) == 0 {
		return ParsedPayload{}, fmt.Errorf("empty payload")
	}
	return ParsedPayload{Provider: a.code}, nil
}

func (a stubAdapter) ToUnifiedOrder(ParsedPayload) (UnifiedOrder, error) {
	return UnifiedOrder{Provider: a.code}, nil
}

func (a stubAdapter) MapStatus(string) InternalOrderStatus { return OrderStatusUnknown }

func (a stubAdapter) SigningConfig() SigningConfig {
	return SigningConfig{Algorithm: SignatureAlgorithmHMACSHA256, Headers: []string{"X-Signature"}}
}
