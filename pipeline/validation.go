package pipeline

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-order-hub/core"
)

// ValidateStructure runs the provider-independent required-field checks.
func ValidateStructure(parsed core.ParsedPayload) error {
	missing := make([]string, 0, 2)
	if strings.TrimSpace(parsed.ExternalOrderID) == "" {
		missing = append(missing, "external order id")
	}
	if strings.TrimSpace(parsed.ExternalBranchID) == "" {
		missing = append(missing, "external branch id")
	}
	if len(missing) == 0 {
		return nil
	}
	return core.NewHubError(core.ErrorValidation,
		"missing required fields: "+strings.Join(missing, ", "),
		map[string]any{"provider": parsed.Provider, "fields": missing},
	)
}

// ValidateBusinessRules checks an order is forwardable: at least one item,
// positive quantities, non-negative prices and a balanced total.
func ValidateBusinessRules(order core.UnifiedOrder) error {
	if len(order.Items) == 0 {
		return businessRuleError(order, "order has no items", nil)
	}
	for i, item := range order.Items {
		if item.Quantity <= 0 {
			return businessRuleError(order, fmt.Sprintf("item %d quantity must be positive", i), map[string]any{
				"item_index": i,
				"quantity":   item.Quantity,
			})
		}
		if item.UnitPrice < 0 {
			return businessRuleError(order, fmt.Sprintf("item %d unit price must not be negative", i), map[string]any{
				"item_index": i,
			})
		}
		for _, modifier := range item.Modifiers {
			if modifier.Price < 0 {
				return businessRuleError(order, fmt.Sprintf("item %d modifier %q price must not be negative", i, modifier.Name), map[string]any{
					"item_index": i,
				})
			}
		}
	}
	if !order.Pricing.Balanced() {
		return businessRuleError(order,
			fmt.Sprintf("order total %.2f does not match expected %.2f", order.Pricing.Total, order.Pricing.Expected()),
			map[string]any{
				"total":    order.Pricing.Total,
				"expected": order.Pricing.Expected(),
			},
		)
	}
	return nil
}

func businessRuleError(order core.UnifiedOrder, message string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["external_order_id"] = order.ExternalOrderID
	return core.NewHubError(core.ErrorBusinessRule, message, metadata)
}
