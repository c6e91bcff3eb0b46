package query

import (
	"strings"

	"github.com/goliatone/go-order-hub/core"
)

const (
	TypeGetWebhookEvent   = "orderhub.query.webhook_event.get"
	TypeListWebhookEvents = "orderhub.query.webhook_event.list"
	TypeGetBreakerState   = "orderhub.query.breaker.state"

	maxListLimit = 500
)

type GetWebhookEventMessage struct {
	EventID string
}

func (GetWebhookEventMessage) Type() string { return TypeGetWebhookEvent }

func (m GetWebhookEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.InvalidField("event_id", "event id is required")
	}
	return nil
}

type ListWebhookEventsMessage struct {
	Filter core.EventFilter
}

func (ListWebhookEventsMessage) Type() string { return TypeListWebhookEvents }

func (m ListWebhookEventsMessage) Validate() error {
	if m.Filter.Limit < 0 || m.Filter.Limit > maxListLimit {
		return core.InvalidField("limit", "limit must be within 0..500")
	}
	if m.Filter.Status != "" {
		if _, ok := core.ParseEventStatus(string(m.Filter.Status)); !ok {
			return core.InvalidField("status", "unknown event status")
		}
	}
	return nil
}

// GetBreakerStateMessage selects one target, or every known target when
// Target is empty.
type GetBreakerStateMessage struct {
	Target string
}

func (GetBreakerStateMessage) Type() string { return TypeGetBreakerState }
