package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-order-hub/breaker"
	"github.com/goliatone/go-order-hub/core"
)

type EventReader interface {
	Get(ctx context.Context, id string) (core.WebhookEvent, error)
	List(ctx context.Context, filter core.EventFilter) ([]core.WebhookEvent, error)
}

type BreakerStateReader interface {
	Snapshot(target string) (breaker.Snapshot, bool)
	Snapshots() []breaker.Snapshot
}

type GetWebhookEventQuery struct {
	reader EventReader
}

func NewGetWebhookEventQuery(reader EventReader) *GetWebhookEventQuery {
	return &GetWebhookEventQuery{reader: reader}
}

func (q *GetWebhookEventQuery) Query(ctx context.Context, msg GetWebhookEventMessage) (core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return core.WebhookEvent{}, core.MissingDependency("event reader")
	}
	return q.reader.Get(ctx, strings.TrimSpace(msg.EventID))
}

type ListWebhookEventsQuery struct {
	reader EventReader
}

func NewListWebhookEventsQuery(reader EventReader) *ListWebhookEventsQuery {
	return &ListWebhookEventsQuery{reader: reader}
}

func (q *ListWebhookEventsQuery) Query(ctx context.Context, msg ListWebhookEventsMessage) ([]core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependency("event reader")
	}
	filter := msg.Filter
	filter.Provider = strings.ToLower(strings.TrimSpace(filter.Provider))
	if filter.Status != "" {
		status, _ := core.ParseEventStatus(string(filter.Status))
		filter.Status = status
	}
	return q.reader.List(ctx, filter)
}

type GetBreakerStateQuery struct {
	reader BreakerStateReader
}

func NewGetBreakerStateQuery(reader BreakerStateReader) *GetBreakerStateQuery {
	return &GetBreakerStateQuery{reader: reader}
}

func (q *GetBreakerStateQuery) Query(_ context.Context, msg GetBreakerStateMessage) ([]breaker.Snapshot, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependency("breaker state reader")
	}
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return q.reader.Snapshots(), nil
	}
	snapshot, ok := q.reader.Snapshot(target)
	if !ok {
		return nil, core.NewHubError(core.ErrorNotFound, fmt.Sprintf("no breaker for target %q", target), map[string]any{
			"target": target,
		})
	}
	return []breaker.Snapshot{snapshot}, nil
}
