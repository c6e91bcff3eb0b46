package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goliatone/go-order-hub/core"
)

func newWebhookEventRecord(event core.WebhookEvent) (*webhookEventRecord, error) {
	record := &webhookEventRecord{
		ID:                event.ID,
		Provider:          event.Provider,
		CompanyID:         event.CompanyID,
		BranchID:          event.BranchID,
		DedupKey:          event.DedupKey,
		ExternalEventID:   event.ExternalEventID,
		RawPayload:        append([]byte{}, event.RawPayload...),
		Headers:           copyStringMap(event.Headers),
		Signature:         event.Signature,
		Status:            string(event.Status),
		RetryCount:        event.RetryCount,
		MaxRetries:        event.MaxRetries,
		NextRetryAt:       utcPointer(event.NextRetryAt),
		ErrorCode:         event.ErrorCode,
		ErrorMessage:      event.ErrorMessage,
		CorrelationID:     event.CorrelationID,
		DownstreamOrderID: event.DownstreamOrderID,
		ReceivedAt:        event.ReceivedAt.UTC(),
		ProcessedAt:       utcPointer(event.ProcessedAt),
		UpdatedAt:         event.UpdatedAt.UTC(),
	}
	if event.Order != nil {
		encoded, err := json.Marshal(event.Order)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: encode order for event %s: %w", event.ID, err)
		}
		payload := string(encoded)
		record.OrderPayload = &payload
	}
	return record, nil
}

func (r *webhookEventRecord) toDomain() (core.WebhookEvent, error) {
	if r == nil {
		return core.WebhookEvent{}, nil
	}
	event := core.WebhookEvent{
		ID:                r.ID,
		Provider:          r.Provider,
		CompanyID:         r.CompanyID,
		BranchID:          r.BranchID,
		DedupKey:          r.DedupKey,
		ExternalEventID:   r.ExternalEventID,
		RawPayload:        append([]byte(nil), r.RawPayload...),
		Headers:           copyStringMap(r.Headers),
		Signature:         r.Signature,
		Status:            core.EventStatus(r.Status),
		RetryCount:        r.RetryCount,
		MaxRetries:        r.MaxRetries,
		NextRetryAt:       utcPointer(r.NextRetryAt),
		ErrorCode:         r.ErrorCode,
		ErrorMessage:      r.ErrorMessage,
		CorrelationID:     r.CorrelationID,
		DownstreamOrderID: r.DownstreamOrderID,
		ReceivedAt:        r.ReceivedAt.UTC(),
		ProcessedAt:       utcPointer(r.ProcessedAt),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	if r.OrderPayload != nil && *r.OrderPayload != "" {
		var order core.UnifiedOrder
		if err := json.Unmarshal([]byte(*r.OrderPayload), &order); err != nil {
			return core.WebhookEvent{}, fmt.Errorf("sqlstore: decode order for event %s: %w", r.ID, err)
		}
		event.Order = &order
	}
	return event, nil
}

func recordsToEvents(records []webhookEventRecord) ([]core.WebhookEvent, error) {
	out := make([]core.WebhookEvent, 0, len(records))
	for i := range records {
		event, err := records[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

func (r *idempotencyKeyRecord) toDomain() core.IdempotencyRecord {
	if r == nil {
		return core.IdempotencyRecord{}
	}
	record := core.IdempotencyRecord{
		DedupKey:  r.DedupKey,
		EventID:   r.EventID,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.OutcomeStatus != "" {
		record.Outcome = &core.EventOutcome{
			EventID:           r.OutcomeEventID,
			Status:            core.EventStatus(r.OutcomeStatus),
			DownstreamOrderID: r.DownstreamOrderID,
			ErrorCode:         r.ErrorCode,
		}
	}
	return record
}

func (r *branchMappingRecord) toDomain() core.BranchMapping {
	if r == nil {
		return core.BranchMapping{}
	}
	return core.BranchMapping{
		Provider:         r.Provider,
		ExternalBranchID: r.ExternalBranchID,
		BranchID:         r.BranchID,
		CompanyID:        r.CompanyID,
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

func (r *productMappingRecord) toDomain() core.ProductMapping {
	if r == nil {
		return core.ProductMapping{}
	}
	return core.ProductMapping{
		Provider:          r.Provider,
		ExternalProductID: r.ExternalProductID,
		ProductRef:        r.ProductRef,
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func utcPointer(input *time.Time) *time.Time {
	if input == nil || input.IsZero() {
		return nil
	}
	value := input.UTC()
	return &value
}
