package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Later calls are no-ops.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a time-ordered ID for an emitted join or leave record.
// Falls back to node 0 when Init was never called, so tests need no setup.
func New() int64 {
	_ = Init(0)
	return node.Generate().Int64()
}

// Timestamp extracts the millisecond creation time of a record ID.
func Timestamp(v int64) int64 {
	return snowflake.ParseInt64(v).Time()
}
