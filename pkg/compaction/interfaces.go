package compaction

import (
	"context"
	"time"
)

// Table is the read-only view of an on-disk table that selection needs.
// *sstable.TableInfo implements it.
type Table interface {
	// ID identifies the table for set membership
	ID() uint64

	// Path of the table's data file
	Path() string

	// Size is the approximate on-disk size in bytes
	Size() int64

	// MinTimestamp and MaxTimestamp bound the write timestamps of the
	// records in the table, in the configured timestamp resolution
	MinTimestamp() int64
	MaxTimestamp() int64

	// MaxLocalDeletionTime is the latest purge time (unix seconds) of any
	// tombstone or expiring cell in the table
	MaxLocalDeletionTime() int64

	// DroppableTombstoneRatio estimates the fraction of tombstones purgeable
	// before gcBefore (unix seconds)
	DroppableTombstoneRatio(gcBefore int64) float64

	// CreatedAt is when the table was written
	CreatedAt() time.Time

	// FirstKey and LastKey bound the table's key range
	FirstKey() string
	LastKey() string

	// Suspect reports a table flagged as possibly corrupt
	Suspect() bool
}

// TableSet is the engine's view of its live tables.
type TableSet interface {
	// NotAlreadyCompacting returns live tables not reserved by any compaction
	NotAlreadyCompacting() []Table

	// Overlapping returns live tables outside the given set whose key range
	// overlaps any table in it
	Overlapping(tables []Table) []Table

	// LiveCount returns the number of live tables
	LiveCount() int
}

// Transaction holds a reservation on a set of tables until it is committed
// or aborted.
type Transaction interface {
	// Tables returns the reserved tables
	Tables() []Table

	// Commit replaces the reserved tables with the compaction outputs
	Commit(outputs []Table) error

	// Abort releases the reservation without changing the table set
	Abort()
}

// Reservation atomically claims tables for one compaction.
type Reservation interface {
	// TryReserve returns nil if any table is already claimed or no longer live
	TryReserve(tables []Table) Transaction
}

// ExpiryOracle finds tables whose entire content is past its expiration.
// Implementations may be expensive; the strategy throttles calls.
type ExpiryOracle interface {
	FindFullyExpired(candidates, overlapping []Table, gcBefore int64) []Table
}

// SizeTierOptions configures size-tiered grouping.
type SizeTierOptions struct {
	BucketLow      float64
	BucketHigh     float64
	MinSSTableSize int64
}

// SizeTierSelector picks the most compaction-worthy group of similarly sized
// tables, or nil.
type SizeTierSelector interface {
	PickBucket(tables []Table, opts SizeTierOptions, minThreshold, maxThreshold int) []Table
}

// TableListener is notified when tables enter or leave the live set.
type TableListener interface {
	AddTable(t Table)
	RemoveTable(t Table)
}

// CompactionStrategy selects work for the coordinator
type CompactionStrategy interface {
	TableListener

	// NextBackgroundTask selects and reserves the next compaction, or returns nil
	NextBackgroundTask(gcBefore int64) *CompactionTask

	// MaximalTask reserves every eligible table for a full compaction, or returns nil
	MaximalTask(gcBefore int64) *CompactionTask

	// EstimatedRemainingTasks reports outstanding work for monitoring
	EstimatedRemainingTasks() int
}

// CompactionExecutor defines the interface for executing compaction tasks
type CompactionExecutor interface {
	// CompactFiles merges the task's tables and returns the output tables
	CompactFiles(ctx context.Context, task *CompactionTask) ([]Table, error)
}

// FileTracker defines the interface for tracking file states during compaction
type FileTracker interface {
	// MarkFileObsolete marks a file as obsolete (can be deleted)
	MarkFileObsolete(path string)

	// IsFileObsolete checks if a file is marked as obsolete
	IsFileObsolete(path string) bool

	// IsFilePending checks if a file is reserved by a compaction
	IsFilePending(path string) bool

	// CleanupObsoleteFiles removes files that are no longer needed
	CleanupObsoleteFiles() error
}

// CompactionCoordinator defines the interface for coordinating compaction processes
type CompactionCoordinator interface {
	// Start begins background compaction
	Start() error

	// Stop halts background compaction and waits for running jobs
	Stop() error

	// TriggerCompaction runs one cycle, draining all work that can be reserved
	TriggerCompaction(ctx context.Context) error

	// CompactAll runs a maximal compaction
	CompactAll(ctx context.Context) error

	// GetCompactionStats returns statistics about the compaction state
	GetCompactionStats() map[string]interface{}
}
