package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KevoDB/twcs/pkg/sstable"
)

func expiringTable(id uint64, minTs, maxTs, maxLDT int64) *fakeTable {
	return &fakeTable{id: id, size: 10, minTs: minTs, maxTs: maxTs, maxLDT: maxLDT}
}

func TestFindFullyExpired(t *testing.T) {
	const gcBefore = 1000
	oracle := FullyExpiredOracle{}

	candidate := expiringTable(1, 50, 100, 500)

	t.Run("older overlapping data is newer than the table", func(t *testing.T) {
		overlapping := []Table{expiringTable(9, 200, 300, sstable.NoDeletionTime)}
		expired := oracle.FindFullyExpired([]Table{candidate}, overlapping, gcBefore)
		assert.Equal(t, []uint64{1}, ids(expired))
	})

	t.Run("overlapping table holds older data", func(t *testing.T) {
		overlapping := []Table{expiringTable(9, 50, 300, sstable.NoDeletionTime)}
		assert.Empty(t, oracle.FindFullyExpired([]Table{candidate}, overlapping, gcBefore))
	})

	t.Run("live candidate holds older data", func(t *testing.T) {
		live := expiringTable(2, 80, 90, sstable.NoDeletionTime)
		assert.Empty(t, oracle.FindFullyExpired([]Table{candidate, live}, nil, gcBefore))
	})

	t.Run("deletion time not yet past gcBefore", func(t *testing.T) {
		recent := expiringTable(3, 50, 100, gcBefore)
		assert.Empty(t, oracle.FindFullyExpired([]Table{recent}, nil, gcBefore))
	})

	t.Run("all candidates droppable and nothing overlaps", func(t *testing.T) {
		other := expiringTable(4, 10, 20, 10)
		expired := oracle.FindFullyExpired([]Table{candidate, other}, nil, gcBefore)
		assert.ElementsMatch(t, []uint64{1, 4}, ids(expired))
	})

	t.Run("no candidates", func(t *testing.T) {
		assert.Nil(t, oracle.FindFullyExpired(nil, []Table{candidate}, gcBefore))
	})
}
