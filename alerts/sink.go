// Package alerts delivers operational alerts (dead letters, an open circuit
// breaker) to logs, Redis pub/sub and AMQP exchanges.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-order-hub/core"
)

// LogSink writes alerts as structured warnings.
type LogSink struct {
	Observer *core.Observer
}

func NewLogSink(observer *core.Observer) LogSink {
	return LogSink{Observer: observer}
}

func (s LogSink) Notify(ctx context.Context, alert core.Alert) error {
	fields := map[string]any{
		"alert_kind": string(alert.Kind),
		"provider":   alert.Provider,
		"event_id":   alert.EventID,
		"target":     alert.Target,
	}
	for key, value := range alert.Metadata {
		fields[key] = value
	}
	s.Observer.Warn(ctx, alert.Message, fields)
	s.Observer.Count(ctx, "alerts_emitted_total", 1, map[string]string{"kind": string(alert.Kind)})
	return nil
}

// FanoutSink notifies every sink and joins their errors. A failing sink does
// not stop the remaining ones.
type FanoutSink []core.AlertSink

func (f FanoutSink) Notify(ctx context.Context, alert core.Alert) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encodeAlert(alert core.Alert) ([]byte, error) {
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("alerts: encode %s alert: %w", alert.Kind, err)
	}
	return payload, nil
}

var (
	_ core.AlertSink = LogSink{}
	_ core.AlertSink = FanoutSink{}
)
