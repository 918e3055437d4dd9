package compaction

// SizeTieredSelector groups tables of similar size and picks the largest
// group. It is the default SizeTierSelector.
type SizeTieredSelector struct{}

// sizeTier is a group of tables whose sizes stay close to its running average
type sizeTier struct {
	tables []Table
	total  int64
	avg    int64
}

func (t *sizeTier) add(table Table) {
	t.tables = append(t.tables, table)
	t.total += table.Size()
	t.avg = t.total / int64(len(t.tables))
}

// accepts reports whether a table of the given size belongs in the tier.
// Tables below the minimum size all share one tier regardless of ratio.
func (t *sizeTier) accepts(size int64, opts SizeTierOptions) bool {
	avg := float64(t.avg)
	if float64(size) > avg*opts.BucketLow && float64(size) < avg*opts.BucketHigh {
		return true
	}
	return size < opts.MinSSTableSize && t.avg < opts.MinSSTableSize
}

// GroupBySize sorts tables by size and groups each with the first tier whose
// running average is within [BucketLow, BucketHigh] of it.
func GroupBySize(tables []Table, opts SizeTierOptions) [][]Table {
	sorted := make([]Table, len(tables))
	copy(sorted, tables)
	sortBySize(sorted)

	var tiers []*sizeTier
	for _, table := range sorted {
		placed := false
		for _, tier := range tiers {
			if tier.accepts(table.Size(), opts) {
				tier.add(table)
				placed = true
				break
			}
		}
		if !placed {
			tier := &sizeTier{}
			tier.add(table)
			tiers = append(tiers, tier)
		}
	}

	groups := make([][]Table, 0, len(tiers))
	for _, tier := range tiers {
		groups = append(groups, tier.tables)
	}
	return groups
}

// PickBucket returns the group with the most tables after dropping groups
// smaller than minThreshold and trimming each to maxThreshold. Ties go to the
// group with the smaller total size.
func (SizeTieredSelector) PickBucket(tables []Table, opts SizeTierOptions, minThreshold, maxThreshold int) []Table {
	var best []Table
	var bestSize int64

	for _, group := range GroupBySize(tables, opts) {
		if len(group) < minThreshold {
			continue
		}
		group = TrimToThreshold(group, maxThreshold)
		size := totalSize(group)

		if len(group) > len(best) || (len(group) == len(best) && size < bestSize) {
			best = group
			bestSize = size
		}
	}

	return best
}
