package compaction

import (
	"time"

	"github.com/KevoDB/twcs/pkg/config"
)

// WindowPolicy holds what bucket selection needs from the configuration
type WindowPolicy struct {
	MinThreshold int
	MaxThreshold int
	Unit         config.TimeUnit
	Size         int
	SizeTier     SizeTierOptions
}

// Selection is the result of choosing a bucket
type Selection struct {
	Tables []Table
	Key    int64
	Kind   TaskKind
}

// NewestBucket walks the windows newest first and returns the first bucket
// worth compacting. The current window needs at least MinThreshold tables and
// is narrowed by the size-tiered selector. A closed window needs two tables and
// is trimmed to MaxThreshold. An empty Selection means no bucket qualifies.
func NewestBucket(buckets Buckets, policy WindowPolicy, selector SizeTierSelector, now time.Time) Selection {
	nowKey := CurrentWindowKey(policy.Unit, policy.Size, now)

	for _, key := range buckets.Keys() {
		bucket := buckets[key]

		switch {
		case key >= nowKey && len(bucket) >= policy.MinThreshold:
			picked := selector.PickBucket(bucket, policy.SizeTier, policy.MinThreshold, policy.MaxThreshold)
			if len(picked) > 0 {
				return Selection{Tables: picked, Key: key, Kind: KindCurrentWindow}
			}
		case key < nowKey && len(bucket) >= 2:
			return Selection{
				Tables: TrimToThreshold(bucket, policy.MaxThreshold),
				Key:    key,
				Kind:   KindHistoricalWindow,
			}
		}
	}

	return Selection{}
}

// TrimToThreshold keeps the maxThreshold smallest tables, ordered by size.
// The largest tables are the ones left for a later round.
func TrimToThreshold(bucket []Table, maxThreshold int) []Table {
	trimmed := make([]Table, len(bucket))
	copy(trimmed, bucket)
	sortBySize(trimmed)

	if maxThreshold > 0 && len(trimmed) > maxThreshold {
		trimmed = trimmed[:maxThreshold]
	}
	return trimmed
}

// EstimateTasks counts one pending task for every window that would qualify
// for selection
func EstimateTasks(buckets Buckets, policy WindowPolicy, now time.Time) int {
	nowKey := CurrentWindowKey(policy.Unit, policy.Size, now)

	n := 0
	for key, bucket := range buckets {
		if key >= nowKey && len(bucket) >= policy.MinThreshold {
			n++
		} else if key < nowKey && len(bucket) >= 2 {
			n++
		}
	}
	return n
}
