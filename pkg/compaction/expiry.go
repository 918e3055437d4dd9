package compaction

import "math"

// FullyExpiredOracle finds tables whose every cell is a purgeable tombstone or
// expired. Such a table can be dropped only if nothing it might shadow exists
// in an older table, so its newest write must predate the oldest write of
// every overlapping table that is not itself droppable.
type FullyExpiredOracle struct{}

// FindFullyExpired implements ExpiryOracle
func (FullyExpiredOracle) FindFullyExpired(candidates, overlapping []Table, gcBefore int64) []Table {
	if len(candidates) == 0 {
		return nil
	}

	minTimestamp := int64(math.MaxInt64)
	for _, t := range overlapping {
		if t.MinTimestamp() < minTimestamp {
			minTimestamp = t.MinTimestamp()
		}
	}

	var droppable []Table
	for _, t := range candidates {
		if t.MaxLocalDeletionTime() < gcBefore {
			droppable = append(droppable, t)
		} else if t.MinTimestamp() < minTimestamp {
			minTimestamp = t.MinTimestamp()
		}
	}

	var expired []Table
	for _, t := range droppable {
		if t.MaxTimestamp() < minTimestamp {
			expired = append(expired, t)
		}
	}
	return expired
}
