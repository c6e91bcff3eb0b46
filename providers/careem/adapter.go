// Package careem adapts Careem order webhooks. Careem reports amounts in
// minor currency units, nests modifier options two levels deep and signs the
// body with a base64 HMAC-SHA256 digest.
package careem

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/goliatone/go-order-hub/core"
)

const (
	ProviderCode = "careem"

	HeaderSignature = "X-Careem-Signature"

	defaultMinorUnitExponent = 2
)

type Payload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data Data   `json:"data"`
}

type Data struct {
	OrderID  string   `json:"order_id"`
	StoreID  string   `json:"store_id"`
	State    string   `json:"state"`
	Customer Customer `json:"customer"`
	Location Location `json:"location"`
	// Exponent of the minor unit, 2 when omitted. 3 for currencies such as KWD.
	CurrencyExponent *int   `json:"currency_exponent"`
	Lines            []Line `json:"lines"`
	Totals           Totals `json:"totals"`
}

type Customer struct {
	Name   string `json:"name"`
	Mobile string `json:"mobile"`
	Email  string `json:"email"`
}

type Location struct {
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Line struct {
	SKU       string   `json:"sku"`
	Title     string   `json:"title"`
	Qty       int      `json:"qty"`
	UnitPrice int64    `json:"unit_price"`
	Options   []Option `json:"options"`
}

// Option is a modifier. Second-level options are flattened into the
// unified modifier list with the parent name as prefix.
type Option struct {
	Name    string   `json:"name"`
	Price   int64    `json:"price"`
	Options []Option `json:"options"`
}

type Totals struct {
	Subtotal   int64 `json:"subtotal"`
	VAT        int64 `json:"vat"`
	Delivery   int64 `json:"delivery"`
	Discount   int64 `json:"discount"`
	GrandTotal int64 `json:"grand_total"`
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
		Encoding:  core.SignatureEncodingBase64,
	}
}

func (Adapter) EventID(raw []byte, _ map[string]string) (string, bool) {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", false
	}
	id := strings.TrimSpace(envelope.ID)
	return id, id != ""
}

func (Adapter) Parse(raw []byte) (core.ParsedPayload, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return core.ParsedPayload{}, fmt.Errorf("providers/careem: decode payload: %w", err)
	}
	return core.ParsedPayload{
		Provider:         ProviderCode,
		EventID:          strings.TrimSpace(payload.ID),
		EventType:        strings.TrimSpace(payload.Type),
		ExternalOrderID:  strings.TrimSpace(payload.Data.OrderID),
		ExternalBranchID: strings.TrimSpace(payload.Data.StoreID),
		ProviderStatus:   strings.TrimSpace(payload.Data.State),
		Data:             &payload,
	}, nil
}

func (Adapter) ValidateStructure(parsed core.ParsedPayload) error {
	payload, err := payloadFrom(parsed)
	if err != nil {
		return err
	}
	if exp := payload.Data.CurrencyExponent; exp != nil && (*exp < 0 || *exp > 4) {
		return fmt.Errorf("providers/careem: data.currency_exponent %d is out of range", *exp)
	}
	for i, line := range payload.Data.Lines {
		if strings.TrimSpace(line.Title) == "" {
			return fmt.Errorf("providers/careem: data.lines[%d].title is required", i)
		}
		for _, option := range line.Options {
			for _, nested := range option.Options {
				if len(nested.Options) > 0 {
					return fmt.Errorf("providers/careem: data.lines[%d] nests options deeper than two levels", i)
				}
			}
		}
	}
	return nil
}

func (a Adapter) ToUnifiedOrder(parsed core.ParsedPayload) (core.UnifiedOrder, error) {
	payload, err := payloadFrom(parsed)
	if err != nil {
		return core.UnifiedOrder{}, err
	}
	data := payload.Data
	exponent := defaultMinorUnitExponent
	if data.CurrencyExponent != nil {
		exponent = *data.CurrencyExponent
	}
	major := func(amount int64) float64 {
		return FromMinorUnits(amount, exponent)
	}

	order := core.UnifiedOrder{
		ExternalOrderID:  data.OrderID,
		Provider:         ProviderCode,
		ExternalBranchID: data.StoreID,
		Status:           a.MapStatus(data.State),
		Customer: core.Customer{
			Name:  data.Customer.Name,
			Phone: data.Customer.Mobile,
			Email: data.Customer.Email,
		},
		DeliveryAddress: core.DeliveryAddress{
			Address: data.Location.Address,
			Lat:     data.Location.Latitude,
			Lng:     data.Location.Longitude,
		},
		Items: make([]core.OrderItem, 0, len(data.Lines)),
		Pricing: core.Pricing{
			Subtotal:    major(data.Totals.Subtotal),
			Tax:         major(data.Totals.VAT),
			DeliveryFee: major(data.Totals.Delivery),
			Discount:    major(data.Totals.Discount),
			Total:       major(data.Totals.GrandTotal),
		},
	}
	for _, line := range data.Lines {
		modifiers := make([]core.Modifier, 0, len(line.Options))
		for _, option := range line.Options {
			modifiers = append(modifiers, core.Modifier{Name: option.Name, Price: major(option.Price)})
			for _, nested := range option.Options {
				modifiers = append(modifiers, core.Modifier{
					Name:  option.Name + " / " + nested.Name,
					Price: major(nested.Price),
				})
			}
		}
		order.Items = append(order.Items, core.OrderItem{
			ExternalProductID: line.SKU,
			Name:              line.Title,
			Quantity:          line.Qty,
			UnitPrice:         major(line.UnitPrice),
			Modifiers:         modifiers,
		})
	}
	return order, nil
}

func (Adapter) MapStatus(providerStatus string) core.InternalOrderStatus {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "PENDING", "CREATED":
		return core.OrderStatusPending
	case "ACCEPTED":
		return core.OrderStatusConfirmed
	case "IN_PREPARATION":
		return core.OrderStatusPreparing
	case "READY_FOR_PICKUP":
		return core.OrderStatusReady
	case "CAPTAIN_PICKED_UP", "ON_THE_WAY":
		return core.OrderStatusPickedUp
	case "DELIVERED":
		return core.OrderStatusDelivered
	case "CANCELLED", "REJECTED":
		return core.OrderStatusCancelled
	default:
		return core.OrderStatusUnknown
	}
}

// FromMinorUnits converts an integer amount in minor units to major units.
func FromMinorUnits(amount int64, exponent int) float64 {
	return float64(amount) / math.Pow10(exponent)
}

func payloadFrom(parsed core.ParsedPayload) (*Payload, error) {
	payload, ok := parsed.Data.(*Payload)
	if !ok || payload == nil {
		return nil, fmt.Errorf("providers/careem: parsed payload has unexpected type %T", parsed.Data)
	}
	return payload, nil
}

var (
	_ core.ProviderAdapter     = Adapter{}
	_ core.StructuralValidator = Adapter{}
)
