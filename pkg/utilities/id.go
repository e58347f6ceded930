package utilities

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// RequestIDs hands out ids for outbound requests so a console log line can
// be matched with the backend's access log.
type RequestIDs struct {
	once sync.Once
	node *snowflake.Node
	err  error
	id   int64
}

// NewRequestIDs returns a generator bound to the given snowflake node.
func NewRequestIDs(nodeID int64) *RequestIDs {
	return &RequestIDs{id: nodeID}
}

// Next returns a snowflake id, or a KSUID when the node could not be set up
// (node id out of range).
func (g *RequestIDs) Next() string {
	g.once.Do(func() {
		g.node, g.err = snowflake.NewNode(g.id)
	})
	if g.err != nil {
		return ksuid.New().String()
	}
	return g.node.Generate().String()
}
