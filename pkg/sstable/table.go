// Package sstable describes on-disk tables by their metadata. The compaction
// strategy only needs what the table footer and statistics already record:
// size, key range, timestamp range and tombstone drop times.
package sstable

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// NoDeletionTime marks a table with no tombstones or expiring cells.
const NoDeletionTime int64 = math.MaxInt64

// TombstoneBucket counts tombstones that become purgeable at DeletionTime
// (unix seconds).
type TombstoneBucket struct {
	DeletionTime int64 `yaml:"deletion_time"`
	Count        int64 `yaml:"count"`
}

// Metadata is the persisted description of a table. Timestamps are in the
// table's write timestamp resolution; deletion times are unix seconds.
type Metadata struct {
	Path                 string            `yaml:"path"`
	Generation           uint64            `yaml:"generation"`
	Size                 int64             `yaml:"size"`
	KeyCount             int64             `yaml:"key_count"`
	FirstKey             string            `yaml:"first_key"`
	LastKey              string            `yaml:"last_key"`
	MinTimestamp         int64             `yaml:"min_timestamp"`
	MaxTimestamp         int64             `yaml:"max_timestamp"`
	MaxLocalDeletionTime int64             `yaml:"max_local_deletion_time"`
	CreatedAt            time.Time         `yaml:"created_at"`
	Tombstones           []TombstoneBucket `yaml:"tombstones,omitempty"`
	Suspect              bool              `yaml:"suspect,omitempty"`
}

// TableInfo is an immutable handle to one table. Only the suspect flag can
// change after construction.
type TableInfo struct {
	meta    Metadata
	id      uint64
	suspect atomic.Bool
}

// NewTableInfo builds a handle from metadata. The identity is the xxhash of the
// cleaned path, so two handles for the same file compare equal by ID.
func NewTableInfo(meta Metadata) *TableInfo {
	meta.Path = filepath.Clean(meta.Path)
	meta.Tombstones = append([]TombstoneBucket(nil), meta.Tombstones...)
	sort.Slice(meta.Tombstones, func(i, j int) bool {
		return meta.Tombstones[i].DeletionTime < meta.Tombstones[j].DeletionTime
	})
	if meta.MaxLocalDeletionTime == 0 {
		meta.MaxLocalDeletionTime = NoDeletionTime

		var tombstones int64
		for _, b := range meta.Tombstones {
			tombstones += b.Count
		}
		// Keys that are not tombstones never expire
		if len(meta.Tombstones) > 0 && meta.KeyCount <= tombstones {
			meta.MaxLocalDeletionTime = meta.Tombstones[len(meta.Tombstones)-1].DeletionTime
		}
	}

	t := &TableInfo{
		meta: meta,
		id:   xxhash.Sum64String(meta.Path),
	}
	t.suspect.Store(meta.Suspect)
	return t
}

func (t *TableInfo) ID() uint64 { return t.id }

func (t *TableInfo) Path() string { return t.meta.Path }

func (t *TableInfo) Generation() uint64 { return t.meta.Generation }

// Size returns the approximate on-disk size in bytes.
func (t *TableInfo) Size() int64 { return t.meta.Size }

func (t *TableInfo) KeyCount() int64 { return t.meta.KeyCount }

func (t *TableInfo) FirstKey() string { return t.meta.FirstKey }

func (t *TableInfo) LastKey() string { return t.meta.LastKey }

func (t *TableInfo) MinTimestamp() int64 { return t.meta.MinTimestamp }

func (t *TableInfo) MaxTimestamp() int64 { return t.meta.MaxTimestamp }

// MaxLocalDeletionTime is the latest purge time of any tombstone or expiring
// cell, or NoDeletionTime when the table holds none or still holds live keys.
func (t *TableInfo) MaxLocalDeletionTime() int64 { return t.meta.MaxLocalDeletionTime }

func (t *TableInfo) CreatedAt() time.Time { return t.meta.CreatedAt }

// TombstoneCount returns the number of tracked tombstones.
func (t *TableInfo) TombstoneCount() int64 {
	var n int64
	for _, b := range t.meta.Tombstones {
		n += b.Count
	}
	return n
}

// DroppableTombstoneRatio estimates the fraction of the table's keys that are
// tombstones purgeable before gcBefore (unix seconds).
func (t *TableInfo) DroppableTombstoneRatio(gcBefore int64) float64 {
	if t.meta.KeyCount <= 0 {
		return 0
	}
	var droppable int64
	for _, b := range t.meta.Tombstones {
		if b.DeletionTime >= gcBefore {
			break
		}
		droppable += b.Count
	}
	ratio := float64(droppable) / float64(t.meta.KeyCount)
	if ratio > 1 {
		return 1
	}
	return ratio
}

// Suspect reports whether the table was flagged as possibly corrupt.
func (t *TableInfo) Suspect() bool { return t.suspect.Load() }

// MarkSuspect flags the table so compaction selection skips it.
func (t *TableInfo) MarkSuspect() { t.suspect.Store(true) }

// Metadata returns a copy of the persisted description.
func (t *TableInfo) Metadata() Metadata {
	meta := t.meta
	meta.Tombstones = append([]TombstoneBucket(nil), t.meta.Tombstones...)
	meta.Suspect = t.Suspect()
	return meta
}

// KeyRange is implemented by anything with an inclusive key range.
type KeyRange interface {
	FirstKey() string
	LastKey() string
}

// Overlaps checks if two key ranges overlap. Empty ranges never overlap.
func Overlaps(a, b KeyRange) bool {
	if a.FirstKey() == "" || a.LastKey() == "" || b.FirstKey() == "" || b.LastKey() == "" {
		return false
	}
	return !(a.LastKey() < b.FirstKey() || a.FirstKey() > b.LastKey())
}

// String returns a short description used in log lines
func (t *TableInfo) String() string {
	return fmt.Sprintf("%s[gen=%d size=%d maxTs=%d keys=%d]",
		filepath.Base(t.meta.Path), t.meta.Generation, t.meta.Size, t.meta.MaxTimestamp, t.meta.KeyCount)
}
