// Package ids generates event and correlation identifiers.
package ids

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/goliatone/go-order-hub/core"
	"github.com/google/uuid"
)

// Snowflake produces time-ordered event ids such as evt_1798234567890123456.
type Snowflake struct {
	node   *snowflake.Node
	prefix string
}

// NewSnowflake creates a generator for node (0..1023). Each running hub
// instance needs its own node id.
func NewSnowflake(node int64, prefix string) (*Snowflake, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("ids: snowflake node %d: %w", node, err)
	}
	return &Snowflake{node: n, prefix: strings.TrimSpace(prefix)}, nil
}

func (s *Snowflake) NewID() string {
	id := s.node.Generate().String()
	if s.prefix == "" {
		return id
	}
	return s.prefix + "_" + id
}

// UUID produces random correlation ids.
type UUID struct {
	Prefix string
}

func (u UUID) NewID() string {
	id := uuid.NewString()
	if prefix := strings.TrimSpace(u.Prefix); prefix != "" {
		return prefix + "_" + id
	}
	return id
}

var (
	_ core.IDGenerator = (*Snowflake)(nil)
	_ core.IDGenerator = UUID{}
)
