package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-order-hub/breaker"
	"github.com/goliatone/go-order-hub/core"
)

var (
	_ gocmd.Querier[GetWebhookEventMessage, core.WebhookEvent]     = (*GetWebhookEventQuery)(nil)
	_ gocmd.Querier[ListWebhookEventsMessage, []core.WebhookEvent] = (*ListWebhookEventsQuery)(nil)
	_ gocmd.Querier[GetBreakerStateMessage, []breaker.Snapshot]    = (*GetBreakerStateQuery)(nil)
)
