package stats

import "time"

// Provider defines the interface for components that provide statistics
type Provider interface {
	// GetStats returns all statistics
	GetStats() map[string]interface{}

	// GetStatsFiltered returns statistics filtered by prefix
	GetStatsFiltered(prefix string) map[string]interface{}
}

// Collector interface defines methods for collecting statistics
type Collector interface {
	Provider

	// TrackOperation records a single operation
	TrackOperation(op OperationType)

	// TrackOperationWithLatency records an operation with its latency
	TrackOperationWithLatency(op OperationType, latencyNs uint64)

	// TrackError increments the counter for the specified error type
	TrackError(errorType string)

	// TrackCompactedBytes records the input and output size of one compaction
	TrackCompactedBytes(inputBytes, outputBytes uint64)

	// TrackLiveTables records the current number of live tables
	TrackLiveTables(count uint64)

	// TrackCompaction increments the compaction counter
	TrackCompaction(expiredDropped uint64)

	// StartLoad initializes manifest load statistics
	StartLoad() time.Time

	// FinishLoad completes manifest load statistics
	FinishLoad(startTime time.Time, tablesLoaded uint64)
}

// Ensure AtomicCollector implements the Collector interface
var _ Collector = (*AtomicCollector)(nil)
