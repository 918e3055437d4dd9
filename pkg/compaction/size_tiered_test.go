package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = int64(1 << 20)

func sizedTables(firstID uint64, sizes ...int64) []Table {
	out := make([]Table, 0, len(sizes))
	for i, size := range sizes {
		out = append(out, newTable(firstID+uint64(i), size, testNow.UnixMilli()))
	}
	return out
}

func TestGroupBySizeSimilarSizes(t *testing.T) {
	opts := testPolicy().SizeTier
	tables := sizedTables(1, 1100*mb, 100*mb, 1000*mb, 120*mb, 110*mb)

	groups := GroupBySize(tables, opts)

	require.Len(t, groups, 2)
	assert.Equal(t, []uint64{2, 5, 4}, ids(groups[0]))
	assert.Equal(t, []uint64{3, 1}, ids(groups[1]))
}

func TestGroupBySizeSmallTablesShareATier(t *testing.T) {
	opts := testPolicy().SizeTier
	tables := sizedTables(1, 1*mb, 10*mb, 40*mb)

	groups := GroupBySize(tables, opts)

	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 3)
}

func TestPickBucketMostTablesWins(t *testing.T) {
	opts := testPolicy().SizeTier
	tables := append(sizedTables(1, 100*mb, 105*mb, 110*mb, 115*mb, 120*mb),
		sizedTables(10, 1000*mb, 1050*mb, 1100*mb, 1150*mb)...)

	picked := SizeTieredSelector{}.PickBucket(tables, opts, 4, 32)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, ids(picked))
}

func TestPickBucketTieGoesToSmallerTotal(t *testing.T) {
	opts := testPolicy().SizeTier
	tables := append(sizedTables(10, 100*mb, 110*mb, 120*mb, 130*mb),
		sizedTables(1, 1*mb, 1*mb, 1*mb, 1*mb)...)

	picked := SizeTieredSelector{}.PickBucket(tables, opts, 4, 32)
	assert.Equal(t, []uint64{1, 2, 3, 4}, ids(picked))
}

func TestPickBucketBelowMinThreshold(t *testing.T) {
	opts := testPolicy().SizeTier
	tables := sizedTables(1, 100*mb, 1000*mb, 10000*mb, 100000*mb)

	assert.Nil(t, SizeTieredSelector{}.PickBucket(tables, opts, 2, 32))
}

func TestPickBucketTrimsToMaxThreshold(t *testing.T) {
	opts := testPolicy().SizeTier
	tables := sizedTables(1, 6*mb, 5*mb, 4*mb, 3*mb, 2*mb, 1*mb)

	picked := SizeTieredSelector{}.PickBucket(tables, opts, 4, 4)
	assert.Equal(t, []uint64{6, 5, 4, 3}, ids(picked))
}
