package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// ProviderAdapter isolates a provider's payload format behind a fixed contract.
type ProviderAdapter interface {
	Code() string
	// EventID extracts the provider event identifier used for deduplication.
	// It returns false when the provider did not supply one.
	EventID(rawPayload []byte, headers map[string]string) (string, bool)
	Parse(rawPayload []byte) (ParsedPayload, error)
	ToUnifiedOrder(parsed ParsedPayload) (UnifiedOrder, error)
	MapStatus(providerStatus string) InternalOrderStatus
	SigningConfig() SigningConfig
}

// StructuralValidator is implemented by adapters with provider specific
// required-field checks beyond the generic ones.
type StructuralValidator interface {
	ValidateStructure(parsed ParsedPayload) error
}

type AdapterRegistry interface {
	Register(adapter ProviderAdapter) error
	Resolve(providerCode string) (ProviderAdapter, error)
	List() []ProviderAdapter
}

type EventStore interface {
	Create(ctx context.Context, event WebhookEvent) (WebhookEvent, error)
	Get(ctx context.Context, id string) (WebhookEvent, error)
	GetByDedupKey(ctx context.Context, dedupKey string) (WebhookEvent, error)
	// Transition applies mutate only when the stored status still equals from.
	Transition(
		ctx context.Context,
		id string,
		from EventStatus,
		mutate func(*WebhookEvent) error,
	) (WebhookEvent, error)
	// ClaimDueRetries moves up to limit RETRYING events with nextRetryAt <= now
	// to PROCESSING, oldest first. A claimed event is never returned twice.
	ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]WebhookEvent, error)
	// ClaimStale moves up to limit RECEIVED events received before olderThan to VALIDATING.
	ClaimStale(ctx context.Context, olderThan time.Time, limit int) ([]WebhookEvent, error)
	// ClaimStalled takes over up to limit VALIDATING or PROCESSING events not
	// updated since olderThan. Claimed events come back as PROCESSING with a
	// renewed updatedAt, which is the worker lease.
	ClaimStalled(ctx context.Context, olderThan time.Time, limit int) ([]WebhookEvent, error)
	List(ctx context.Context, filter EventFilter) ([]WebhookEvent, error)
}

type IdempotencyStore interface {
	// CheckAndReserve atomically reserves dedupKey for eventID. Concurrent
	// callers with the same key observe exactly one reservation.
	CheckAndReserve(ctx context.Context, dedupKey string, eventID string) (IdempotencyResult, error)
	RecordOutcome(ctx context.Context, dedupKey string, outcome EventOutcome) error
	Release(ctx context.Context, dedupKey string) error
	// Reclaim moves a reservation held by staleEventID to eventID and reports
	// whether this caller won it. Concurrent reclaimers see one winner.
	Reclaim(ctx context.Context, dedupKey string, staleEventID string, eventID string) (bool, error)
}

type BranchResolver interface {
	ResolveBranch(ctx context.Context, provider string, externalBranchID string) (BranchResolution, error)
}

type ProductResolver interface {
	ResolveProducts(ctx context.Context, provider string, externalProductIDs []string) (map[string]string, error)
}

// MappingWriter maintains the typed external-ID mappings used by the resolvers.
type MappingWriter interface {
	UpsertBranch(ctx context.Context, mapping BranchMapping) (BranchMapping, error)
	UpsertProduct(ctx context.Context, mapping ProductMapping) (ProductMapping, error)
}

type Forwarder interface {
	Forward(ctx context.Context, order UnifiedOrder) ForwardResult
}

type AlertSink interface {
	Notify(ctx context.Context, alert Alert) error
}

type IDGenerator interface {
	NewID() string
}
