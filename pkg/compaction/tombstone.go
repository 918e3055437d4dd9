package compaction

import (
	"time"
)

// TombstonePolicy controls single-table compactions that purge tombstones
type TombstonePolicy struct {
	// Enabled is false unless a tombstone option was configured
	Enabled bool

	// Threshold is the droppable ratio a table must exceed
	Threshold float64

	// Interval is the minimum table age before it is considered
	Interval time.Duration

	// Unchecked skips the overlap check
	Unchecked bool
}

// WorthDroppingTombstones reports whether rewriting the table alone would
// purge enough tombstones. Overlapping live tables holding older data would
// keep the tombstones alive, so unless the policy is unchecked such overlaps
// disqualify the table.
func WorthDroppingTombstones(t Table, set TableSet, policy TombstonePolicy, gcBefore int64, now time.Time) bool {
	if !policy.Enabled {
		return false
	}

	// Young tables get a chance to be compacted normally first
	if now.Before(t.CreatedAt().Add(policy.Interval)) {
		return false
	}

	if t.DroppableTombstoneRatio(gcBefore) <= policy.Threshold {
		return false
	}

	if policy.Unchecked || set == nil {
		return true
	}

	for _, other := range set.Overlapping([]Table{t}) {
		if other.MinTimestamp() <= t.MaxTimestamp() {
			return false
		}
	}
	return true
}

// FindTombstoneCandidate returns the smallest table worth a tombstone
// compaction as a single-table set, or nil.
func FindTombstoneCandidate(tables []Table, set TableSet, policy TombstonePolicy, gcBefore int64, now time.Time) []Table {
	if !policy.Enabled {
		return nil
	}

	var best Table
	for _, t := range tables {
		if !WorthDroppingTombstones(t, set, policy, gcBefore, now) {
			continue
		}
		if best == nil || t.Size() < best.Size() || (t.Size() == best.Size() && t.ID() < best.ID()) {
			best = t
		}
	}

	if best == nil {
		return nil
	}
	return []Table{best}
}
