package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

const webhookEventColumns = `
	id,
	provider,
	company_id,
	branch_id,
	dedup_key,
	external_event_id,
	raw_payload,
	headers,
	signature,
	status,
	retry_count,
	max_retries,
	next_retry_at,
	error_code,
	error_message,
	correlation_id,
	order_payload,
	downstream_order_id,
	received_at,
	processed_at,
	updated_at
`

// WebhookEventStore persists webhook events. Every status change is a
// compare-and-set on the stored status so concurrent workers cannot both
// advance the same event.
type WebhookEventStore struct {
	db *bun.DB
}

func NewWebhookEventStore(db *bun.DB) (*WebhookEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &WebhookEventStore{db: db}, nil
}

func (s *WebhookEventStore) Create(ctx context.Context, event core.WebhookEvent) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	event.ID = strings.TrimSpace(event.ID)
	event.DedupKey = strings.TrimSpace(event.DedupKey)
	if event.ID == "" {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: event id is required")
	}
	if event.DedupKey == "" {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: event dedup key is required")
	}
	if event.Status == "" {
		event.Status = core.EventStatusReceived
	}
	now := time.Now().UTC()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	event.UpdatedAt = now

	record, err := newWebhookEventRecord(event)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.WebhookEvent{}, fmt.Errorf("sqlstore: dedup key %q already exists: %w", event.DedupKey, err)
		}
		return core.WebhookEvent{}, err
	}
	return record.toDomain()
}

func (s *WebhookEventStore) Get(ctx context.Context, id string) (core.WebhookEvent, error) {
	return s.getBy(ctx, "id", id)
}

func (s *WebhookEventStore) GetByDedupKey(ctx context.Context, dedupKey string) (core.WebhookEvent, error) {
	return s.getBy(ctx, "dedup_key", dedupKey)
}

func (s *WebhookEventStore) getBy(ctx context.Context, column string, value string) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return core.WebhookEvent{}, core.ErrEventNotFound
	}
	record := new(webhookEventRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return core.WebhookEvent{}, core.ErrEventNotFound
		}
		return core.WebhookEvent{}, err
	}
	return record.toDomain()
}

func (s *WebhookEventStore) Transition(
	ctx context.Context,
	id string,
	from core.EventStatus,
	mutate func(*core.WebhookEvent) error,
) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	id = strings.TrimSpace(id)
	var out core.WebhookEvent
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current := new(webhookEventRecord)
		query := tx.NewSelect().Model(current).Where("?TableAlias.id = ?", id).Limit(1)
		if s.lockRows() {
			query = query.For("UPDATE")
		}
		if err := query.Scan(ctx); err != nil {
			if isNoRows(err) {
				return core.ErrEventNotFound
			}
			return err
		}
		if current.Status != string(from) {
			return fmt.Errorf("%w: expected %s, found %s", core.ErrStaleEventTransition, from, current.Status)
		}

		next, err := current.toDomain()
		if err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(&next); err != nil {
				return err
			}
		}
		next.ID = current.ID
		next.DedupKey = current.DedupKey
		next.UpdatedAt = time.Now().UTC()

		updated, err := newWebhookEventRecord(next)
		if err != nil {
			return err
		}
		result, err := tx.NewUpdate().
			Model(updated).
			Column(
				"company_id",
				"branch_id",
				"status",
				"retry_count",
				"max_retries",
				"next_retry_at",
				"error_code",
				"error_message",
				"correlation_id",
				"order_payload",
				"downstream_order_id",
				"processed_at",
				"updated_at",
			).
			WherePK().
			Where("?TableAlias.status = ?", string(from)).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, err := result.RowsAffected(); err == nil && affected == 0 {
			return fmt.Errorf("%w: expected %s", core.ErrStaleEventTransition, from)
		}
		out = next
		return nil
	})
	if err != nil {
		return core.WebhookEvent{}, err
	}
	return out, nil
}

func (s *WebhookEventStore) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]core.WebhookEvent, error) {
	events, err := s.claim(ctx, claimQuery{
		from:    []core.EventStatus{core.EventStatusRetrying},
		to:      core.EventStatusProcessing,
		where:   "next_retry_at IS NOT NULL AND next_retry_at <= ?",
		cutoff:  now.UTC(),
		orderBy: "next_retry_at",
		limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].NextRetryAt.Before(*events[j].NextRetryAt)
	})
	return events, nil
}

func (s *WebhookEventStore) ClaimStale(ctx context.Context, olderThan time.Time, limit int) ([]core.WebhookEvent, error) {
	events, err := s.claim(ctx, claimQuery{
		from:    []core.EventStatus{core.EventStatusReceived},
		to:      core.EventStatusValidating,
		where:   "received_at < ?",
		cutoff:  olderThan.UTC(),
		orderBy: "received_at",
		limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ReceivedAt.Before(events[j].ReceivedAt)
	})
	return events, nil
}

func (s *WebhookEventStore) ClaimStalled(ctx context.Context, olderThan time.Time, limit int) ([]core.WebhookEvent, error) {
	events, err := s.claim(ctx, claimQuery{
		from:    []core.EventStatus{core.EventStatusValidating, core.EventStatusProcessing},
		to:      core.EventStatusProcessing,
		where:   "updated_at < ?",
		cutoff:  olderThan.UTC(),
		orderBy: "updated_at",
		limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ReceivedAt.Before(events[j].ReceivedAt)
	})
	return events, nil
}

type claimQuery struct {
	from    []core.EventStatus
	to      core.EventStatus
	where   string
	cutoff  time.Time
	orderBy string
	limit   int
}

func (s *WebhookEventStore) claim(ctx context.Context, in claimQuery) ([]core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	if in.limit <= 0 {
		return nil, nil
	}
	lockClause := ""
	if s.lockRows() {
		lockClause = "\n\tFOR UPDATE SKIP LOCKED"
	}
	now := time.Now().UTC()
	var records []webhookEventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := fmt.Sprintf(`
WITH claimed AS (
	SELECT id
	FROM hub_webhook_events
	WHERE status IN (?)
	  AND %s
	ORDER BY %s ASC
	LIMIT ?%s
)
UPDATE hub_webhook_events
SET status = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status IN (?)
  AND %s
RETURNING %s`, in.where, in.orderBy, lockClause, in.where, webhookEventColumns)
		from := make([]string, 0, len(in.from))
		for _, status := range in.from {
			from = append(from, string(status))
		}
		return tx.NewRaw(
			query,
			bun.In(from),
			in.cutoff,
			in.limit,
			string(in.to),
			now,
			bun.In(from),
			in.cutoff,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}
	return recordsToEvents(records)
}

func (s *WebhookEventStore) List(ctx context.Context, filter core.EventFilter) ([]core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	var records []webhookEventRecord
	query := s.db.NewSelect().Model(&records).OrderExpr("?TableAlias.received_at DESC, ?TableAlias.id DESC")
	if provider := strings.ToLower(strings.TrimSpace(filter.Provider)); provider != "" {
		query = query.Where("?TableAlias.provider = ?", provider)
	}
	if filter.Status != "" {
		query = query.Where("?TableAlias.status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return recordsToEvents(records)
}

// lockRows reports whether the dialect supports row locks inside claims.
func (s *WebhookEventStore) lockRows() bool {
	return s.db.Dialect().Name() == dialect.PG
}

var _ core.EventStore = (*WebhookEventStore)(nil)
