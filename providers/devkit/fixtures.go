package devkit

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/webhooks"
)

const (
	FixtureBranchID = "BR-100"
	FixtureOrderID  = "ORD-100"
)

// AcmeOrder returns an acme payload with one item and a declared total of 13.6.
func AcmeOrder(eventID string) []byte {
	return AcmeOrderWithTotal(eventID, 13.6)
}

func AcmeOrderWithTotal(eventID string, total float64) []byte {
	return mustJSON(map[string]any{
		"event_id":   eventID,
		"event_type": "order.created",
		"order": map[string]any{
			"id":        FixtureOrderID,
			"branch_id": FixtureBranchID,
			"status":    "new",
			"customer": map[string]any{
				"name":  "Layla",
				"phone": "+971500000000",
			},
			"delivery_address": map[string]any{
				"address": "1 Marina Walk",
				"lat":     25.08,
				"lng":     55.14,
			},
			"items": []any{
				map[string]any{
					"id":       "SKU-1",
					"name":     "Burger",
					"quantity": 1,
					"price":    10,
					"modifiers": []any{
						map[string]any{"name": "No onions", "price": 0},
					},
				},
			},
		},
		"price": map[string]any{
			"subtotal":    10,
			"tax":         1.6,
			"deliveryFee": 2,
			"discount":    0,
			"total":       total,
		},
	})
}

// CareemOrder returns a careem payload in minor units (13.60 in major units)
// with a two-level option tree.
func CareemOrder(eventID string) []byte {
	return mustJSON(map[string]any{
		"id":   eventID,
		"type": "ORDER_CREATED",
		"data": map[string]any{
			"order_id": FixtureOrderID,
			"store_id": FixtureBranchID,
			"state":    "PENDING",
			"customer": map[string]any{"name": "Omar", "mobile": "+971511111111"},
			"location": map[string]any{"address": "2 Palm Road", "latitude": 25.1, "longitude": 55.2},
			"lines": []any{
				map[string]any{
					"sku":        "SKU-2",
					"title":      "Shawarma",
					"qty":        2,
					"unit_price": 400,
					"options": []any{
						map[string]any{
							"name":  "Sauce",
							"price": 100,
							"options": []any{
								map[string]any{"name": "Garlic", "price": 100},
							},
						},
					},
				},
			},
			"totals": map[string]any{
				"subtotal":    1000,
				"vat":         160,
				"delivery":    200,
				"discount":    0,
				"grand_total": 1360,
			},
		},
	})
}

// TalabatOrder returns a talabat payload with decimal string amounts.
func TalabatOrder(token string) []byte {
	return mustJSON(map[string]any{
		"token":              token,
		"code":               FixtureOrderID,
		"status":             "NEW",
		"platformRestaurant": map[string]any{"id": FixtureBranchID},
		"customer": map[string]any{
			"firstName":   "Sara",
			"lastName":    "Ali",
			"mobilePhone": "+96550000000",
		},
		"delivery": map[string]any{
			"address": map[string]any{
				"street":    "Gulf Road",
				"building":  "7",
				"city":      "Kuwait City",
				"latitude":  29.37,
				"longitude": 47.97,
			},
		},
		"products": []any{
			map[string]any{
				"id":        "SKU-3",
				"name":      "Falafel wrap",
				"quantity":  2,
				"unitPrice": "4.500",
				"selectedToppings": []any{
					map[string]any{
						"name":  "Extra",
						"price": "0.500",
						"children": []any{
							map[string]any{"name": "Pickles", "price": "0.000"},
						},
					},
				},
			},
		},
		"price": map[string]any{
			"subTotal":      "10.000",
			"vatTotal":      "1.600",
			"deliveryFee":   "2.000",
			"discountTotal": "0",
			"grandTotal":    "13.600",
		},
	})
}

// SignedHeaders signs body for the adapter's first signature header.
func SignedHeaders(adapter core.ProviderAdapter, secret string, body []byte) map[string]string {
	signing := adapter.SigningConfig()
	header := "X-Signature"
	if len(signing.Headers) > 0 && strings.TrimSpace(signing.Headers[0]) != "" {
		header = signing.Headers[0]
	}
	return map[string]string{
		"Content-Type": "application/json",
		header:         webhooks.Sign(signing, secret, body),
	}
}

func mustJSON(value any) []byte {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return raw
}
