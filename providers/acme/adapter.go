// Package acme adapts the Acme delivery platform. Acme sends prices as
// major-unit decimals and signs payloads with a hex HMAC-SHA256 digest.
package acme

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
)

const (
	ProviderCode = "acme"

	HeaderSignature = "X-Acme-Signature"
	HeaderEventID   = "X-Acme-Event-Id"
)

type Payload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Order     Order  `json:"order"`
	Price     Price  `json:"price"`
}

type Order struct {
	ID              string          `json:"id"`
	BranchID        string          `json:"branch_id"`
	Status          string          `json:"status"`
	Customer        Customer        `json:"customer"`
	DeliveryAddress DeliveryAddress `json:"delivery_address"`
	ScheduledAt     string          `json:"scheduled_at"`
	Items           []Item          `json:"items"`
}

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type DeliveryAddress struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type Item struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Quantity  int        `json:"quantity"`
	Price     float64    `json:"price"`
	Modifiers []Modifier `json:"modifiers"`
}

type Modifier struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type Price struct {
	Subtotal    float64 `json:"subtotal"`
	Tax         float64 `json:"tax"`
	DeliveryFee float64 `json:"deliveryFee"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
}

type Adapter struct{}

func New() Adapter {
	return Adapter{}
}

func (Adapter) Code() string {
	return ProviderCode
}

func (Adapter) SigningConfig() core.SigningConfig {
	return core.SigningConfig{
		Algorithm: core.SignatureAlgorithmHMACSHA256,
		Headers:   []string{HeaderSignature},
		Encoding:  core.SignatureEncodingHex,
	}
}

func (Adapter) EventID(raw []byte, headers map[string]string) (string, bool) {
	var envelope struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if id := strings.TrimSpace(envelope.EventID); id != "" {
			return id, true
		}
	}
	if id := headerValue(headers, HeaderEventID); id != "" {
		return id, true
	}
	return "", false
}

func (Adapter) Parse(raw []byte) (core.ParsedPayload, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return core.ParsedPayload{}, fmt.Errorf("providers/acme: decode payload: %w", err)
	}
	return core.ParsedPayload{
		Provider:         ProviderCode,
		EventID:          strings.TrimSpace(payload.EventID),
		EventType:        strings.TrimSpace(payload.EventType),
		ExternalOrderID:  strings.TrimSpace(payload.Order.ID),
		ExternalBranchID: strings.TrimSpace(payload.Order.BranchID),
		ProviderStatus:   strings.TrimSpace(payload.Order.Status),
		Data:             &payload,
	}, nil
}

func (Adapter) ValidateStructure(parsed core.ParsedPayload) error {
	payload, err := payloadFrom(parsed)
	if err != nil {
		return err
	}
	for i, item := range payload.Order.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("providers/acme: order.items[%d].name is required", i)
		}
	}
	return nil
}

func (a Adapter) ToUnifiedOrder(parsed core.ParsedPayload) (core.UnifiedOrder, error) {
	payload, err := payloadFrom(parsed)
	if err != nil {
		return core.UnifiedOrder{}, err
	}
	order := core.UnifiedOrder{
		ExternalOrderID:  payload.Order.ID,
		Provider:         ProviderCode,
		ExternalBranchID: payload.Order.BranchID,
		Status:           a.MapStatus(payload.Order.Status),
		Customer: core.Customer{
			Name:  payload.Order.Customer.Name,
			Phone: payload.Order.Customer.Phone,
			Email: payload.Order.Customer.Email,
		},
		DeliveryAddress: core.DeliveryAddress{
			Address: payload.Order.DeliveryAddress.Address,
			Lat:     payload.Order.DeliveryAddress.Lat,
			Lng:     payload.Order.DeliveryAddress.Lng,
		},
		Items: make([]core.OrderItem, 0, len(payload.Order.Items)),
		Pricing: core.Pricing{
			Subtotal:    payload.Price.Subtotal,
			Tax:         payload.Price.Tax,
			DeliveryFee: payload.Price.DeliveryFee,
			Discount:    payload.Price.Discount,
			Total:       payload.Price.Total,
		},
	}
	for _, item := range payload.Order.Items {
		modifiers := make([]core.Modifier, 0, len(item.Modifiers))
		for _, modifier := range item.Modifiers {
			modifiers = append(modifiers, core.Modifier{Name: modifier.Name, Price: modifier.Price})
		}
		order.Items = append(order.Items, core.OrderItem{
			ExternalProductID: item.ID,
			Name:              item.Name,
			Quantity:          item.Quantity,
			UnitPrice:         item.Price,
			Modifiers:         modifiers,
		})
	}
	if scheduled := strings.TrimSpace(payload.Order.ScheduledAt); scheduled != "" {
		at, err := time.Parse(time.RFC3339, scheduled)
		if err != nil {
			return core.UnifiedOrder{}, fmt.Errorf("providers/acme: parse order.scheduled_at: %w", err)
		}
		at = at.UTC()
		order.ScheduledAt = &at
	}
	return order, nil
}

func (Adapter) MapStatus(providerStatus string) core.InternalOrderStatus {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "new", "created", "pending":
		return core.OrderStatusPending
	case "accepted", "confirmed":
		return core.OrderStatusConfirmed
	case "preparing", "in_kitchen":
		return core.OrderStatusPreparing
	case "ready", "ready_for_pickup":
		return core.OrderStatusReady
	case "picked_up", "dispatched":
		return core.OrderStatusPickedUp
	case "delivered", "completed":
		return core.OrderStatusDelivered
	case "cancelled", "canceled", "rejected":
		return core.OrderStatusCancelled
	default:
		return core.OrderStatusUnknown
	}
}

func payloadFrom(parsed core.ParsedPayload) (*Payload, error) {
	payload, ok := parsed.Data.(*Payload)
	if !ok || payload == nil {
		return nil, fmt.Errorf("providers/acme: parsed payload has unexpected type %T", parsed.Data)
	}
	return payload, nil
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var (
	_ core.ProviderAdapter     = Adapter{}
	_ core.StructuralValidator = Adapter{}
)
