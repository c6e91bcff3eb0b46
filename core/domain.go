package core

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidEventStatusTransition = errors.New("core: invalid webhook event status transition")
	ErrEventNotFound                = errors.New("core: webhook event not found")
	ErrStaleEventTransition         = errors.New("core: webhook event status changed concurrently")
	ErrMappingNotFound              = errors.New("core: external mapping not found")
	ErrIdempotencyKeyNotFound       = errors.New("core: idempotency key not found")
)

// PricingEpsilon is the tolerated difference, in currency units, between the
// declared order total and subtotal + tax + deliveryFee - discount.
const PricingEpsilon = 0.01

const DefaultMaxRetries = 10

type EventStatus string

const (
	EventStatusReceived   EventStatus = "RECEIVED"
	EventStatusValidating EventStatus = "VALIDATING"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusCompleted  EventStatus = "COMPLETED"
	EventStatusFailed     EventStatus = "FAILED"
	EventStatusRetrying   EventStatus = "RETRYING"
	EventStatusDeadLetter EventStatus = "DEAD_LETTER"
)

func ParseEventStatus(value string) (EventStatus, bool) {
	status := EventStatus(strings.ToUpper(strings.TrimSpace(value)))
	switch status {
	case EventStatusReceived,
		EventStatusValidating,
		EventStatusProcessing,
		EventStatusCompleted,
		EventStatusFailed,
		EventStatusRetrying,
		EventStatusDeadLetter:
		return status, true
	default:
		return "", false
	}
}

// Terminal reports whether no automatic transition leaves the status.
func (s EventStatus) Terminal() bool {
	switch s {
	case EventStatusCompleted, EventStatusFailed, EventStatusDeadLetter:
		return true
	default:
		return false
	}
}

// eventTransitions is the lifecycle table. DEAD_LETTER -> RETRYING is the
// operator replay; every other edge is driven by the pipeline or the retry
// scheduler.
var eventTransitions = map[EventStatus][]EventStatus{
	EventStatusReceived:   {EventStatusValidating},
	EventStatusValidating: {EventStatusProcessing},
	EventStatusProcessing: {EventStatusCompleted, EventStatusFailed, EventStatusRetrying},
	EventStatusRetrying:   {EventStatusProcessing, EventStatusDeadLetter},
	EventStatusDeadLetter: {EventStatusRetrying},
}

func eventTransitionAllowed(current, next EventStatus) bool {
	return slices.Contains(eventTransitions[current], next)
}

func ValidateEventTransition(current, next EventStatus) error {
	if !eventTransitionAllowed(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidEventStatusTransition, current, next)
	}
	return nil
}

// WebhookEvent is one inbound delivery attempt and the system of record for
// its lifecycle.
type WebhookEvent struct {
	ID                string
	Provider          string
	CompanyID         string
	BranchID          string
	DedupKey          string
	ExternalEventID   string
	RawPayload        []byte
	Headers           map[string]string
	Signature         string
	Status            EventStatus
	RetryCount        int
	MaxRetries        int
	NextRetryAt       *time.Time
	ErrorCode         string
	ErrorMessage      string
	CorrelationID     string
	Order             *UnifiedOrder
	DownstreamOrderID string
	ReceivedAt        time.Time
	ProcessedAt       *time.Time
	UpdatedAt         time.Time
}

func (e *WebhookEvent) TransitionTo(next EventStatus, at time.Time) error {
	if e == nil {
		return fmt.Errorf("core: webhook event is nil")
	}
	if err := ValidateEventTransition(e.Status, next); err != nil {
		return err
	}
	e.Status = next
	e.UpdatedAt = at.UTC()
	if next.Terminal() {
		processed := at.UTC()
		e.ProcessedAt = &processed
		e.NextRetryAt = nil
	}
	return nil
}

// Fail records a terminal FAILED outcome with the given error code.
func (e *WebhookEvent) Fail(code string, message string, at time.Time) error {
	if err := e.TransitionTo(EventStatusFailed, at); err != nil {
		return err
	}
	e.ErrorCode = strings.TrimSpace(code)
	e.ErrorMessage = strings.TrimSpace(message)
	return nil
}

func (e WebhookEvent) Outcome() EventOutcome {
	return EventOutcome{
		EventID:           e.ID,
		Status:            e.Status,
		DownstreamOrderID: e.DownstreamOrderID,
		ErrorCode:         e.ErrorCode,
	}
}

// EventOutcome is the recorded result returned to redelivered webhooks.
type EventOutcome struct {
	EventID           string      `json:"eventId"`
	Status            EventStatus `json:"status"`
	DownstreamOrderID string      `json:"downstreamOrderId,omitempty"`
	ErrorCode         string      `json:"errorCode,omitempty"`
}

type EventFilter struct {
	Provider string
	Status   EventStatus
	Limit    int
}

type InternalOrderStatus string

const (
	OrderStatusPending   InternalOrderStatus = "PENDING"
	OrderStatusConfirmed InternalOrderStatus = "CONFIRMED"
	OrderStatusPreparing InternalOrderStatus = "PREPARING"
	OrderStatusReady     InternalOrderStatus = "READY"
	OrderStatusPickedUp  InternalOrderStatus = "PICKED_UP"
	OrderStatusDelivered InternalOrderStatus = "DELIVERED"
	OrderStatusCancelled InternalOrderStatus = "CANCELLED"
	OrderStatusUnknown   InternalOrderStatus = "UNKNOWN"
)

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type DeliveryAddress struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type Modifier struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type OrderItem struct {
	ProductRef        string     `json:"productRef,omitempty"`
	ExternalProductID string     `json:"externalProductId,omitempty"`
	Name              string     `json:"name"`
	Quantity          int        `json:"quantity"`
	UnitPrice         float64    `json:"unitPrice"`
	Modifiers         []Modifier `json:"modifiers"`
}

type Pricing struct {
	Subtotal    float64 `json:"subtotal"`
	DeliveryFee float64 `json:"deliveryFee"`
	Tax         float64 `json:"tax"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
}

// Expected returns subtotal + tax + deliveryFee - discount.
func (p Pricing) Expected() float64 {
	return p.Subtotal + p.Tax + p.DeliveryFee - p.Discount
}

// Balanced reports whether the declared total matches Expected within PricingEpsilon.
func (p Pricing) Balanced() bool {
	diff := math.Abs(p.Total - p.Expected())
	return diff <= PricingEpsilon+1e-9
}

// UnifiedOrder is the canonical provider-agnostic order forwarded downstream.
type UnifiedOrder struct {
	ExternalOrderID  string              `json:"externalOrderId"`
	Provider         string              `json:"provider"`
	ExternalBranchID string              `json:"externalBranchId,omitempty"`
	BranchID         string              `json:"branchId"`
	CompanyID        string              `json:"companyId"`
	Status           InternalOrderStatus `json:"status,omitempty"`
	Customer         Customer            `json:"customer"`
	DeliveryAddress  DeliveryAddress     `json:"deliveryAddress"`
	Items            []OrderItem         `json:"items"`
	Pricing          Pricing             `json:"pricing"`
	ScheduledAt      *time.Time          `json:"scheduledAt,omitempty"`
	RawPayloadRef    string              `json:"rawPayloadRef"`
}

// ParsedPayload is the structural extraction of a provider payload. Data
// carries the adapter specific representation.
type ParsedPayload struct {
	Provider         string
	EventID          string
	EventType        string
	ExternalOrderID  string
	ExternalBranchID string
	ProviderStatus   string
	Data             any
}

type SignatureEncoding string

const (
	SignatureEncodingHex    SignatureEncoding = "hex"
	SignatureEncodingBase64 SignatureEncoding = "base64"
)

type SignatureAlgorithm string

const (
	SignatureAlgorithmHMACSHA256 SignatureAlgorithm = "hmac-sha256"
	SignatureAlgorithmHMACSHA1   SignatureAlgorithm = "hmac-sha1"
	SignatureAlgorithmHMACSHA512 SignatureAlgorithm = "hmac-sha512"
)

// SigningConfig is the provider declared signature scheme.
type SigningConfig struct {
	Algorithm SignatureAlgorithm
	Headers   []string
	Encoding  SignatureEncoding
	Prefix    string
	// Optional declares that the provider may send unsigned webhooks. It has
	// no effect unless the provider config opts in with AllowUnsigned.
	Optional bool
}

type RateLimitConfig struct {
	PerSecond float64 `koanf:"per_second" mapstructure:"per_second" yaml:"per_second"`
	Burst     int     `koanf:"burst" mapstructure:"burst" yaml:"burst"`
}

// ProviderAdapterConfig is immutable per-provider configuration loaded at startup.
type ProviderAdapterConfig struct {
	Provider         string          `koanf:"provider" mapstructure:"provider" yaml:"provider"`
	Secrets          []string        `koanf:"secrets" mapstructure:"secrets" yaml:"secrets"`
	SignatureHeaders []string        `koanf:"signature_headers" mapstructure:"signature_headers" yaml:"signature_headers"`
	AllowUnsigned    bool            `koanf:"allow_unsigned" mapstructure:"allow_unsigned" yaml:"allow_unsigned"`
	RateLimit        RateLimitConfig `koanf:"rate_limit" mapstructure:"rate_limit" yaml:"rate_limit"`
}

type ValidationResult struct {
	OK                 bool
	MatchedSecretIndex int
	Unsigned           bool
}

type ForwardResult struct {
	Success           bool
	DownstreamOrderID string
	Retryable         bool
	StatusCode        int
	ShortCircuited    bool
	Err               error
}

type EntityKind string

const (
	EntityKindBranch  EntityKind = "branch"
	EntityKindProduct EntityKind = "product"
)

// ExternalRef identifies a provider-side entity by kind.
type ExternalRef struct {
	Provider   string
	ExternalID string
	Kind       EntityKind
}

func (r ExternalRef) Normalize() ExternalRef {
	return ExternalRef{
		Provider:   strings.ToLower(strings.TrimSpace(r.Provider)),
		ExternalID: strings.TrimSpace(r.ExternalID),
		Kind:       EntityKind(strings.ToLower(strings.TrimSpace(string(r.Kind)))),
	}
}

type BranchResolution struct {
	BranchID  string
	CompanyID string
}

type BranchMapping struct {
	Provider         string
	ExternalBranchID string
	BranchID         string
	CompanyID        string
	UpdatedAt        time.Time
}

type ProductMapping struct {
	Provider          string
	ExternalProductID string
	ProductRef        string
	UpdatedAt         time.Time
}

type IdempotencyRecord struct {
	DedupKey  string
	EventID   string
	Outcome   *EventOutcome
	CreatedAt time.Time
	UpdatedAt time.Time
}

type IdempotencyResult struct {
	AlreadyExists bool
	Prior         *IdempotencyRecord
}

type AlertKind string

const (
	AlertKindDeadLetter  AlertKind = "dead_letter"
	AlertKindBreakerOpen AlertKind = "breaker_open"
)

type Alert struct {
	Kind       AlertKind      `json:"kind"`
	Message    string         `json:"message"`
	Provider   string         `json:"provider,omitempty"`
	EventID    string         `json:"event_id,omitempty"`
	Target     string         `json:"target,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
