package command

import (
	"strings"

	"github.com/goliatone/go-order-hub/core"
)

const (
	TypeReplayDeadLetter     = "orderhub.command.dead_letter.replay"
	TypeUpsertBranchMapping  = "orderhub.command.branch_mapping.upsert"
	TypeUpsertProductMapping = "orderhub.command.product_mapping.upsert"
)

type ReplayDeadLetterMessage struct {
	EventID string
}

func (ReplayDeadLetterMessage) Type() string { return TypeReplayDeadLetter }

func (m ReplayDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.InvalidField("event_id", "event id is required")
	}
	return nil
}

type UpsertBranchMappingMessage struct {
	Mapping core.BranchMapping
}

func (UpsertBranchMappingMessage) Type() string { return TypeUpsertBranchMapping }

func (m UpsertBranchMappingMessage) Validate() error {
	if strings.TrimSpace(m.Mapping.Provider) == "" {
		return core.InvalidField("provider", "provider is required")
	}
	if strings.TrimSpace(m.Mapping.ExternalBranchID) == "" {
		return core.InvalidField("external_branch_id", "external branch id is required")
	}
	if strings.TrimSpace(m.Mapping.BranchID) == "" {
		return core.InvalidField("branch_id", "branch id is required")
	}
	return nil
}

type UpsertProductMappingMessage struct {
	Mapping core.ProductMapping
}

func (UpsertProductMappingMessage) Type() string { return TypeUpsertProductMapping }

func (m UpsertProductMappingMessage) Validate() error {
	if strings.TrimSpace(m.Mapping.Provider) == "" {
		return core.InvalidField("provider", "provider is required")
	}
	if strings.TrimSpace(m.Mapping.ExternalProductID) == "" {
		return core.InvalidField("external_product_id", "external product id is required")
	}
	if strings.TrimSpace(m.Mapping.ProductRef) == "" {
		return core.InvalidField("product_ref", "product ref is required")
	}
	return nil
}
