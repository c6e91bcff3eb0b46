package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
	"github.com/uptrace/bun"
)

// IdempotencyStore reserves dedup keys through the primary key on
// hub_idempotency_keys. The losing insert reads back the winner.
type IdempotencyStore struct {
	db *bun.DB
}

func NewIdempotencyStore(db *bun.DB) (*IdempotencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &IdempotencyStore{db: db}, nil
}

func (s *IdempotencyStore) CheckAndReserve(ctx context.Context, dedupKey string, eventID string) (core.IdempotencyResult, error) {
	if s == nil || s.db == nil {
		return core.IdempotencyResult{}, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	dedupKey = strings.TrimSpace(dedupKey)
	eventID = strings.TrimSpace(eventID)
	if dedupKey == "" || eventID == "" {
		return core.IdempotencyResult{}, fmt.Errorf("sqlstore: dedup key and event id are required")
	}

	now := time.Now().UTC()
	record := &idempotencyKeyRecord{
		DedupKey:  dedupKey,
		EventID:   eventID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if !isUniqueViolation(err) {
			return core.IdempotencyResult{}, err
		}
		existing, getErr := s.get(ctx, dedupKey)
		if getErr != nil {
			return core.IdempotencyResult{}, getErr
		}
		prior := existing.toDomain()
		return core.IdempotencyResult{AlreadyExists: true, Prior: &prior}, nil
	}
	return core.IdempotencyResult{}, nil
}

func (s *IdempotencyStore) RecordOutcome(ctx context.Context, dedupKey string, outcome core.EventOutcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*idempotencyKeyRecord)(nil)).
		Set("outcome_status = ?", string(outcome.Status)).
		Set("outcome_event_id = ?", outcome.EventID).
		Set("downstream_order_id = ?", outcome.DownstreamOrderID).
		Set("error_code = ?", outcome.ErrorCode).
		Set("updated_at = ?", time.Now().UTC()).
		Where("dedup_key = ?", strings.TrimSpace(dedupKey)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return core.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, dedupKey string) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*idempotencyKeyRecord)(nil)).
		Where("dedup_key = ?", strings.TrimSpace(dedupKey)).
		Exec(ctx)
	return err
}

// Reclaim is a compare-and-set on event_id, so only one caller moves an
// orphaned reservation.
func (s *IdempotencyStore) Reclaim(ctx context.Context, dedupKey string, staleEventID string, eventID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	dedupKey = strings.TrimSpace(dedupKey)
	eventID = strings.TrimSpace(eventID)
	if dedupKey == "" || eventID == "" {
		return false, fmt.Errorf("sqlstore: dedup key and event id are required")
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*idempotencyKeyRecord)(nil)).
		Set("event_id = ?", eventID).
		Set("created_at = ?", now).
		Set("updated_at = ?", now).
		Where("dedup_key = ?", dedupKey).
		Where("event_id = ?", strings.TrimSpace(staleEventID)).
		Where("(outcome_status IS NULL OR outcome_status = '')").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *IdempotencyStore) get(ctx context.Context, dedupKey string) (*idempotencyKeyRecord, error) {
	record := new(idempotencyKeyRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.dedup_key = ?", dedupKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrIdempotencyKeyNotFound
		}
		return nil, err
	}
	return record, nil
}

var _ core.IdempotencyStore = (*IdempotencyStore)(nil)
