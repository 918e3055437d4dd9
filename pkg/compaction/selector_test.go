package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/twcs/pkg/config"
)

func bucketsOf(tables ...Table) Buckets {
	return GroupByWindow(tables, config.Hours, 1, config.Milliseconds)
}

// olderTables returns n tables written hoursAgo hours before the current
// window, with sizes 1, 2, ... MB in reverse ID order
func olderTables(firstID uint64, n int, hoursAgo int64) []Table {
	ts := CurrentWindowKey(config.Hours, 1, testNow) - hoursAgo*hour + minute
	out := make([]Table, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, newTable(firstID+uint64(i), int64(n-i)<<20, ts))
	}
	return out
}

func TestNewestBucketPrefersCurrentWindow(t *testing.T) {
	current := currentWindowTables(1, 4)
	older := olderTables(10, 3, 2)

	sel := NewestBucket(bucketsOf(append(current, older...)...), testPolicy(), SizeTieredSelector{}, testNow)

	assert.Equal(t, KindCurrentWindow, sel.Kind)
	assert.ElementsMatch(t, []uint64{1, 2, 3, 4}, ids(sel.Tables))
	assert.Equal(t, CurrentWindowKey(config.Hours, 1, testNow), sel.Key)
}

func TestNewestBucketCurrentWindowBelowMinThreshold(t *testing.T) {
	current := currentWindowTables(1, 3)
	older := olderTables(10, 2, 2)

	sel := NewestBucket(bucketsOf(append(current, older...)...), testPolicy(), SizeTieredSelector{}, testNow)

	assert.Equal(t, KindHistoricalWindow, sel.Kind)
	assert.ElementsMatch(t, []uint64{10, 11}, ids(sel.Tables))
}

func TestNewestBucketOlderWindowNeedsTwoTables(t *testing.T) {
	policy := testPolicy()
	require.Equal(t, 4, policy.MinThreshold)

	sel := NewestBucket(bucketsOf(olderTables(10, 1, 2)...), policy, SizeTieredSelector{}, testNow)
	assert.Empty(t, sel.Tables)

	sel = NewestBucket(bucketsOf(olderTables(10, 2, 2)...), policy, SizeTieredSelector{}, testNow)
	assert.Len(t, sel.Tables, 2, "older windows compact with two tables regardless of min threshold")
}

func TestNewestBucketPicksNewestOlderWindow(t *testing.T) {
	newer := olderTables(10, 2, 1)
	older := olderTables(20, 3, 5)

	sel := NewestBucket(bucketsOf(append(older, newer...)...), testPolicy(), SizeTieredSelector{}, testNow)

	assert.Equal(t, KindHistoricalWindow, sel.Kind)
	assert.ElementsMatch(t, []uint64{10, 11}, ids(sel.Tables))
}

func TestNewestBucketTrimsOlderWindow(t *testing.T) {
	policy := testPolicy()
	policy.MaxThreshold = 4

	sel := NewestBucket(bucketsOf(olderTables(10, 6, 3)...), policy, SizeTieredSelector{}, testNow)

	// IDs 10..15 have sizes 6..1 MB; the four smallest remain, smallest first
	assert.Equal(t, []uint64{15, 14, 13, 12}, ids(sel.Tables))
}

func TestNewestBucketFutureWindowCountsAsCurrent(t *testing.T) {
	future := make([]Table, 0, 4)
	for i := 0; i < 4; i++ {
		future = append(future, newTable(uint64(i+1), 1<<20, testNow.UnixMilli()+3*hour))
	}

	sel := NewestBucket(bucketsOf(future...), testPolicy(), SizeTieredSelector{}, testNow)
	assert.Equal(t, KindCurrentWindow, sel.Kind)

	sel = NewestBucket(bucketsOf(future[:2]...), testPolicy(), SizeTieredSelector{}, testNow)
	assert.Empty(t, sel.Tables, "a future window below min threshold is not compacted")
}

func TestNewestBucketNoWork(t *testing.T) {
	sel := NewestBucket(Buckets{}, testPolicy(), SizeTieredSelector{}, testNow)
	assert.Empty(t, sel.Tables)
	assert.Equal(t, TaskKind(""), sel.Kind)
}

func TestTrimToThreshold(t *testing.T) {
	bucket := olderTables(1, 5, 1)

	trimmed := TrimToThreshold(bucket, 3)
	assert.Equal(t, []uint64{5, 4, 3}, ids(trimmed))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, ids(bucket), "input is not reordered")

	assert.Len(t, TrimToThreshold(bucket, 10), 5)
}

func TestEstimateTasks(t *testing.T) {
	tables := append(currentWindowTables(1, 4), olderTables(10, 2, 2)...)
	tables = append(tables, olderTables(20, 1, 4)...)

	assert.Equal(t, 2, EstimateTasks(bucketsOf(tables...), testPolicy(), testNow))
	assert.Equal(t, 0, EstimateTasks(bucketsOf(currentWindowTables(1, 3)...), testPolicy(), testNow))
}
