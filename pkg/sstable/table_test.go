package sstable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableIdentityFollowsPath(t *testing.T) {
	a := NewTableInfo(Metadata{Path: "/data/sst/000001.sst", Size: 10})
	b := NewTableInfo(Metadata{Path: "/data/sst/./000001.sst", Size: 99})
	c := NewTableInfo(Metadata{Path: "/data/sst/000002.sst", Size: 10})

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestDroppableTombstoneRatio(t *testing.T) {
	table := NewTableInfo(Metadata{
		Path:     "t.sst",
		KeyCount: 100,
		Tombstones: []TombstoneBucket{
			{DeletionTime: 300, Count: 30},
			{DeletionTime: 100, Count: 10},
		},
	})

	assert.Equal(t, 0.0, table.DroppableTombstoneRatio(100))
	assert.InDelta(t, 0.1, table.DroppableTombstoneRatio(101), 1e-9)
	assert.InDelta(t, 0.4, table.DroppableTombstoneRatio(1000), 1e-9)
	assert.Equal(t, int64(40), table.TombstoneCount())
	assert.Equal(t, NoDeletionTime, table.MaxLocalDeletionTime(), "60 live keys never expire")
}

func TestMaxLocalDeletionTime(t *testing.T) {
	tests := []struct {
		name       string
		keys       int64
		tombstones []TombstoneBucket
		explicit   int64
		want       int64
	}{
		{"no tombstones", 10, nil, 0, NoDeletionTime},
		{"live keys and tombstones", 10, []TombstoneBucket{{DeletionTime: 1000, Count: 1}}, 0, NoDeletionTime},
		{"only tombstones", 3, []TombstoneBucket{{DeletionTime: 700, Count: 2}, {DeletionTime: 300, Count: 1}}, 0, 700},
		{"unknown key count", 0, []TombstoneBucket{{DeletionTime: 300, Count: 4}}, 0, 300},
		{"explicit", 10, nil, 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTableInfo(Metadata{
				Path:                 "t.sst",
				KeyCount:             tt.keys,
				Tombstones:           tt.tombstones,
				MaxLocalDeletionTime: tt.explicit,
			})
			assert.Equal(t, tt.want, table.MaxLocalDeletionTime())
		})
	}
}

func TestNoTombstonesMeansNoDeletionTime(t *testing.T) {
	table := NewTableInfo(Metadata{Path: "t.sst"})
	assert.Equal(t, NoDeletionTime, table.MaxLocalDeletionTime())
	assert.Equal(t, 0.0, table.DroppableTombstoneRatio(1<<40))
}

func TestMetadataRoundTrip(t *testing.T) {
	created := time.Unix(1700000000, 0).UTC()
	orig := NewTableInfo(Metadata{
		Path:         "/sst/a.sst",
		Generation:   7,
		Size:         4096,
		KeyCount:     12,
		FirstKey:     "a",
		LastKey:      "m",
		MinTimestamp: 10,
		MaxTimestamp: 20,
		CreatedAt:    created,
		Tombstones:   []TombstoneBucket{{DeletionTime: 5, Count: 2}},
	})
	orig.MarkSuspect()

	restored := NewTableInfo(orig.Metadata())
	require.Equal(t, orig.ID(), restored.ID())
	assert.True(t, restored.Suspect())
	assert.Equal(t, orig.Metadata(), restored.Metadata())
}

func TestOverlaps(t *testing.T) {
	ac := NewTableInfo(Metadata{Path: "1", FirstKey: "a", LastKey: "c"})
	bd := NewTableInfo(Metadata{Path: "2", FirstKey: "b", LastKey: "d"})
	xz := NewTableInfo(Metadata{Path: "3", FirstKey: "x", LastKey: "z"})
	empty := NewTableInfo(Metadata{Path: "4"})

	assert.True(t, Overlaps(ac, bd))
	assert.True(t, Overlaps(bd, ac))
	assert.False(t, Overlaps(ac, xz))
	assert.False(t, Overlaps(ac, empty))
}
