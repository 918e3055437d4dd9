package compaction

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/KevoDB/twcs/pkg/sstable"
)

// metadataSource is implemented by tables that expose their full metadata
type metadataSource interface {
	Metadata() sstable.Metadata
}

// MetadataExecutor compacts tables by merging their metadata rather than
// their data. Fully expired inputs are dropped and produce no output;
// tombstones purgeable before the task's gcBefore are removed along with their
// share of the table size.
type MetadataExecutor struct {
	// SSTable directory
	sstableDir string

	// Last generation handed out
	generation atomic.Uint64

	now func() time.Time
}

// NewMetadataExecutor creates an executor writing outputs under sstableDir.
// Output generations start after lastGeneration.
func NewMetadataExecutor(sstableDir string, lastGeneration uint64) *MetadataExecutor {
	e := &MetadataExecutor{
		sstableDir: sstableDir,
		now:        time.Now,
	}
	e.generation.Store(lastGeneration)
	return e
}

// SetClock replaces the clock used for output creation times
func (e *MetadataExecutor) SetClock(now func() time.Time) {
	e.now = now
}

// NextGeneration reserves a generation number for a new table
func (e *MetadataExecutor) NextGeneration() uint64 {
	return e.generation.Add(1)
}

// ObserveGeneration makes sure future generations are above gen
func (e *MetadataExecutor) ObserveGeneration(gen uint64) {
	for {
		cur := e.generation.Load()
		if gen <= cur || e.generation.CompareAndSwap(cur, gen) {
			return
		}
	}
}

// TablePath returns the data file path for a generation
func (e *MetadataExecutor) TablePath(gen uint64) string {
	return filepath.Join(e.sstableDir, fmt.Sprintf("%06d.sst", gen))
}

// CompactFiles merges the task's live inputs into a single output table
func (e *MetadataExecutor) CompactFiles(ctx context.Context, task *CompactionTask) ([]Table, error) {
	var merged *sstable.Metadata

	for _, in := range task.Tables() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if task.IsExpired(in) {
			continue
		}

		meta := purge(metadataOf(in), task.GCBefore)
		if merged == nil {
			merged = &meta
			continue
		}
		mergeInto(merged, meta)
	}

	if merged == nil || (merged.KeyCount <= 0 && merged.Size <= 0) {
		// Everything expired or was purged
		return nil, nil
	}

	gen := e.NextGeneration()
	merged.Generation = gen
	merged.Path = e.TablePath(gen)
	merged.CreatedAt = e.now()
	merged.Suspect = false

	return []Table{sstable.NewTableInfo(*merged)}, nil
}

func metadataOf(t Table) sstable.Metadata {
	if src, ok := t.(metadataSource); ok {
		return src.Metadata()
	}
	return sstable.Metadata{
		Path:                 t.Path(),
		Size:                 t.Size(),
		KeyCount:             1,
		FirstKey:             t.FirstKey(),
		LastKey:              t.LastKey(),
		MinTimestamp:         t.MinTimestamp(),
		MaxTimestamp:         t.MaxTimestamp(),
		MaxLocalDeletionTime: t.MaxLocalDeletionTime(),
		CreatedAt:            t.CreatedAt(),
	}
}

// purge removes tombstones that became purgeable before gcBefore and shrinks
// the size and key count by the same fraction
func purge(meta sstable.Metadata, gcBefore int64) sstable.Metadata {
	var kept []sstable.TombstoneBucket
	var purged int64
	for _, b := range meta.Tombstones {
		if b.DeletionTime < gcBefore {
			purged += b.Count
			continue
		}
		kept = append(kept, b)
	}
	meta.Tombstones = kept

	if purged > 0 && meta.KeyCount > 0 {
		if purged > meta.KeyCount {
			purged = meta.KeyCount
		}
		meta.Size -= meta.Size * purged / meta.KeyCount
		meta.KeyCount -= purged
	}
	return meta
}

func mergeInto(dst *sstable.Metadata, src sstable.Metadata) {
	dst.Size += src.Size
	dst.KeyCount += src.KeyCount
	dst.Tombstones = append(dst.Tombstones, src.Tombstones...)

	if src.MinTimestamp < dst.MinTimestamp {
		dst.MinTimestamp = src.MinTimestamp
	}
	if src.MaxTimestamp > dst.MaxTimestamp {
		dst.MaxTimestamp = src.MaxTimestamp
	}
	// NoDeletionTime is the largest value, so one live input keeps the
	// output live
	if src.MaxLocalDeletionTime > dst.MaxLocalDeletionTime {
		dst.MaxLocalDeletionTime = src.MaxLocalDeletionTime
	}
	if src.FirstKey != "" && (dst.FirstKey == "" || src.FirstKey < dst.FirstKey) {
		dst.FirstKey = src.FirstKey
	}
	if src.LastKey > dst.LastKey {
		dst.LastKey = src.LastKey
	}
}
