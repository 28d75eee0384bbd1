// Package ids issues time-ordered 64-bit payment identifiers.
package ids

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

// Generator hands out unique identifiers for a single process node.
type Generator struct {
	node *snowflake.Node
}

// NewGenerator builds a generator for nodeID. Each running process must use a
// distinct node id in [0, 1023].
func NewGenerator(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("creating snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// Next returns a new positive identifier. It is safe for concurrent use.
func (g *Generator) Next() int64 {
	return g.node.Generate().Int64()
}

// FormatID renders an identifier in its decimal string form. Clients receive
// ids as strings so 64-bit values survive JSON number handling.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID parses a decimal identifier.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
