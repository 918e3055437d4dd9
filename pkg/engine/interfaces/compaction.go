package interfaces

import (
	"context"

	"github.com/KevoDB/twcs/pkg/compaction"
)

// CompactionManager handles the compaction of SSTables
type CompactionManager interface {
	// Core operations
	TriggerCompaction(ctx context.Context) error
	CompactAll(ctx context.Context) error

	// Table set changes from flushes and drops
	AddTables(tables ...compaction.Table)
	RemoveTables(tables ...compaction.Table) []compaction.Table

	// Lifecycle management
	Start() error
	Stop() error

	// Statistics
	EstimatedRemainingTasks() int
	GetCompactionStats() map[string]interface{}
}
