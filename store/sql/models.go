package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:hub_webhook_events,alias:hwe"`

	ID                string            `bun:"id,pk"`
	Provider          string            `bun:"provider,notnull"`
	CompanyID         string            `bun:"company_id"`
	BranchID          string            `bun:"branch_id"`
	DedupKey          string            `bun:"dedup_key,notnull"`
	ExternalEventID   string            `bun:"external_event_id"`
	RawPayload        []byte            `bun:"raw_payload"`
	Headers           map[string]string `bun:"headers,type:jsonb,notnull"`
	Signature         string            `bun:"signature"`
	Status            string            `bun:"status,notnull"`
	RetryCount        int               `bun:"retry_count,notnull"`
	MaxRetries        int               `bun:"max_retries,notnull"`
	NextRetryAt       *time.Time        `bun:"next_retry_at,nullzero"`
	ErrorCode         string            `bun:"error_code"`
	ErrorMessage      string            `bun:"error_message"`
	CorrelationID     string            `bun:"correlation_id"`
	OrderPayload      *string           `bun:"order_payload"`
	DownstreamOrderID string            `bun:"downstream_order_id"`
	ReceivedAt        time.Time         `bun:"received_at,nullzero,notnull,default:current_timestamp"`
	ProcessedAt       *time.Time        `bun:"processed_at,nullzero"`
	UpdatedAt         time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type idempotencyKeyRecord struct {
	bun.BaseModel `bun:"table:hub_idempotency_keys,alias:hik"`

	DedupKey          string    `bun:"dedup_key,pk"`
	EventID           string    `bun:"event_id,notnull"`
	OutcomeStatus     string    `bun:"outcome_status"`
	OutcomeEventID    string    `bun:"outcome_event_id"`
	DownstreamOrderID string    `bun:"downstream_order_id"`
	ErrorCode         string    `bun:"error_code"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type branchMappingRecord struct {
	bun.BaseModel `bun:"table:hub_branch_mappings,alias:hbm"`

	ID               string    `bun:"id,pk"`
	Provider         string    `bun:"provider,notnull"`
	ExternalBranchID string    `bun:"external_branch_id,notnull"`
	BranchID         string    `bun:"branch_id,notnull"`
	CompanyID        string    `bun:"company_id"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type productMappingRecord struct {
	bun.BaseModel `bun:"table:hub_product_mappings,alias:hpm"`

	ID                string    `bun:"id,pk"`
	Provider          string    `bun:"provider,notnull"`
	ExternalProductID string    `bun:"external_product_id,notnull"`
	ProductRef        string    `bun:"product_ref,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
