package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// Stores groups the hub's SQL stores over one bun connection.
type Stores struct {
	DB          *bun.DB
	Events      *WebhookEventStore
	Idempotency *IdempotencyStore
	Mappings    *MappingStore
}

func NewStores(db *bun.DB) (*Stores, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	events, err := NewWebhookEventStore(db)
	if err != nil {
		return nil, err
	}
	idempotency, err := NewIdempotencyStore(db)
	if err != nil {
		return nil, err
	}
	mappings, err := NewMappingStore(db)
	if err != nil {
		return nil, err
	}
	return &Stores{DB: db, Events: events, Idempotency: idempotency, Mappings: mappings}, nil
}

// StoresFromClient builds the stores on the client's bun connection.
func StoresFromClient(client *persistence.Client) (*Stores, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return NewStores(client.DB())
}
