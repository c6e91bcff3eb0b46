// Package talabat adapts Talabat order webhooks. Amounts arrive as decimal
// strings, toppings nest up to two levels and signing may be disabled per
// vendor, so the adapter declares its signature as optional.
package talabat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
)

const (
	ProviderCode = "talabat"

	HeaderSignature = "X-Talabat-Signature"
	HeaderRequestID = "X-Talabat-Request-Id"

	signaturePrefix = "sha256="
)

// Amount decodes a decimal that may be sent as a JSON string or number.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("providers/talabat: invalid amount %s", raw)
		}
		raw = strings.TrimSpace(unquoted)
		if raw == "" {
			*a = 0
			return nil
		}
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("providers/talabat: invalid amount %s", raw)
	}
	*a = Amount(value)
	return nil
}

type Payload struct {
	Token              string             `json:"token"`
	Code               string             `json:"code"`
	Status             string             `json:"status"`
	ExpectedDeliveryAt string             `json:"expectedDeliveryTime"`
	PreOrder           bool               `json:"preOrder"`
	PlatformRestaurant PlatformRestaurant `json:"platformRestaurant"`
	Customer           Customer           `json:"customer"`
	Delivery           Delivery           `json:"delivery"`
	Products           []Product          `json:"products"`
	Price              Price              `json:"price"`
}

type PlatformRestaurant struct {
	ID string `json:"id"`
}

type Customer struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	MobilePhone string `json:"mobilePhone"`
	Email       string `json:"email"`
}

type Delivery struct {
	Address Address `json:"address"`
}

type Address struct {
	Street    string  `json:"street"`
	Building  string  `json:"building"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Product struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Quantity         int       `json:"quantity"`
	UnitPrice        Amount    `json:"unitPrice"`
	SelectedToppings []Topping `json:"selectedToppings"`
}

type Topping struct {
	Name     string    `json:"name"`
	Price    Amount    `json:"price"`
	Children []Topping `json:"children"`
}

type Price struct {
	SubTotal      Amount `json:"subTotal"`
	VatTotal      Amount `json:"vatTotal"`
	DeliveryFee   Amount `json:"deliveryFee"`
	DiscountTotal Amount `json:"discountTotal"`
	GrandTotal    Amount `json:"grandTotal"`
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
		Prefix:    signaturePrefix,
		Optional:  true,
	}
}

// EventID prefers the payload token and falls back to the request id header.
func (Adapter) EventID(raw []byte, headers map[string]string) (string, bool) {
	var envelope struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if token := strings.TrimSpace(envelope.Token); token != "" {
			return token, true
		}
	}
	for key, value := range headers {
		if strings.EqualFold(strings.TrimSpace(key), HeaderRequestID) && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func (Adapter) Parse(raw []byte) (core.ParsedPayload, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return core.ParsedPayload{}, fmt.Errorf("providers/talabat: decode payload: %w", err)
	}
	return core.ParsedPayload{
		Provider:         ProviderCode,
		EventID:          strings.TrimSpace(payload.Token),
		EventType:        "order",
		ExternalOrderID:  strings.TrimSpace(payload.Code),
		ExternalBranchID: strings.TrimSpace(payload.PlatformRestaurant.ID),
		ProviderStatus:   strings.TrimSpace(payload.Status),
		Data:             &payload,
	}, nil
}

func (Adapter) ValidateStructure(parsed core.ParsedPayload) error {
	payload, err := payloadFrom(parsed)
	if err != nil {
		return err
	}
	for i, product := range payload.Products {
		if strings.TrimSpace(product.Name) == "" {
			return fmt.Errorf("providers/talabat: products[%d].name is required", i)
		}
		for _, topping := range product.SelectedToppings {
			for _, child := range topping.Children {
				if len(child.Children) > 0 {
					return fmt.Errorf("providers/talabat: products[%d] nests toppings deeper than two levels", i)
				}
			}
		}
	}
	if payload.PreOrder && strings.TrimSpace(payload.ExpectedDeliveryAt) == "" {
		return fmt.Errorf("providers/talabat: expectedDeliveryTime is required for pre-orders")
	}
	return nil
}

func (a Adapter) ToUnifiedOrder(parsed core.ParsedPayload) (core.UnifiedOrder, error) {
	payload, err := payloadFrom(parsed)
	if err != nil {
		return core.UnifiedOrder{}, err
	}
	order := core.UnifiedOrder{
		ExternalOrderID:  payload.Code,
		Provider:         ProviderCode,
		ExternalBranchID: payload.PlatformRestaurant.ID,
		Status:           a.MapStatus(payload.Status),
		Customer: core.Customer{
			Name:  strings.TrimSpace(payload.Customer.FirstName + " " + payload.Customer.LastName),
			Phone: payload.Customer.MobilePhone,
			Email: payload.Customer.Email,
		},
		DeliveryAddress: core.DeliveryAddress{
			Address: joinAddress(payload.Delivery.Address),
			Lat:     payload.Delivery.Address.Latitude,
			Lng:     payload.Delivery.Address.Longitude,
		},
		Items: make([]core.OrderItem, 0, len(payload.Products)),
		Pricing: core.Pricing{
			Subtotal:    float64(payload.Price.SubTotal),
			Tax:         float64(payload.Price.VatTotal),
			DeliveryFee: float64(payload.Price.DeliveryFee),
			Discount:    float64(payload.Price.DiscountTotal),
			Total:       float64(payload.Price.GrandTotal),
		},
	}
	for _, product := range payload.Products {
		modifiers := make([]core.Modifier, 0, len(product.SelectedToppings))
		for _, topping := range product.SelectedToppings {
			modifiers = append(modifiers, core.Modifier{Name: topping.Name, Price: float64(topping.Price)})
			for _, child := range topping.Children {
				modifiers = append(modifiers, core.Modifier{
					Name:  topping.Name + " / " + child.Name,
					Price: float64(child.Price),
				})
			}
		}
		order.Items = append(order.Items, core.OrderItem{
			ExternalProductID: product.ID,
			Name:              product.Name,
			Quantity:          product.Quantity,
			UnitPrice:         float64(product.UnitPrice),
			Modifiers:         modifiers,
		})
	}
	if payload.PreOrder {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(payload.ExpectedDeliveryAt))
		if err != nil {
			return core.UnifiedOrder{}, fmt.Errorf("providers/talabat: parse expectedDeliveryTime: %w", err)
		}
		at = at.UTC()
		order.ScheduledAt = &at
	}
	return order, nil
}

func (Adapter) MapStatus(providerStatus string) core.InternalOrderStatus {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "NEW", "RECEIVED":
		return core.OrderStatusPending
	case "ACCEPTED":
		return core.OrderStatusConfirmed
	case "PREPARING":
		return core.OrderStatusPreparing
	case "READY_FOR_PICKUP":
		return core.OrderStatusReady
	case "PICKED_UP":
		return core.OrderStatusPickedUp
	case "DELIVERED":
		return core.OrderStatusDelivered
	case "CANCELLED", "REJECTED":
		return core.OrderStatusCancelled
	default:
		return core.OrderStatusUnknown
	}
}

func joinAddress(address Address) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{address.Building, address.Street, address.City} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

func payloadFrom(parsed core.ParsedPayload) (*Payload, error) {
	payload, ok := parsed.Data.(*Payload)
	if !ok || payload == nil {
		return nil, fmt.Errorf("providers/talabat: parsed payload has unexpected type %T", parsed.Data)
	}
	return payload, nil
}

var (
	_ core.ProviderAdapter     = Adapter{}
	_ core.StructuralValidator = Adapter{}
)
