package compaction

import (
	"sort"
	"time"

	"github.com/KevoDB/twcs/pkg/config"
)

// unitSeconds returns the length of one window unit. Unknown units fall back
// to days.
func unitSeconds(unit config.TimeUnit) int64 {
	switch unit {
	case config.Minutes:
		return 60
	case config.Hours:
		return 3600
	default:
		return 86400
	}
}

// WindowLength returns the length of a window of size units in milliseconds
func WindowLength(unit config.TimeUnit, size int) int64 {
	return unitSeconds(unit) * int64(size) * 1000
}

// WindowBounds returns the inclusive [lower, upper] millisecond bounds of the
// window containing tsMillis. Windows are aligned to whole multiples of the
// window length since the epoch, and upper is the last millisecond before the
// next window starts.
//
// Upper is lower+length-1ms rather than the last whole second of the window,
// so consecutive windows tile the timeline with no gap.
func WindowBounds(unit config.TimeUnit, size int, tsMillis int64) (lower, upper int64) {
	windowSecs := unitSeconds(unit) * int64(size)

	secs := floorDiv(tsMillis, 1000)
	lowerSecs := secs - floorMod(secs, windowSecs)

	lower = lowerSecs * 1000
	upper = lower + windowSecs*1000 - 1
	return lower, upper
}

// WindowKey returns the lower bound of the window containing tsMillis
func WindowKey(unit config.TimeUnit, size int, tsMillis int64) int64 {
	lower, _ := WindowBounds(unit, size, tsMillis)
	return lower
}

// CurrentWindowKey returns the key of the window containing now
func CurrentWindowKey(unit config.TimeUnit, size int, now time.Time) int64 {
	return WindowKey(unit, size, now.UnixMilli())
}

// ToMillis rescales a table timestamp written at the given resolution to
// milliseconds. Resolutions are checked by config.Validate.
func ToMillis(ts int64, resolution config.TimeUnit) int64 {
	switch resolution {
	case config.Microseconds:
		return ts / 1000
	case config.Nanoseconds:
		return ts / 1000000
	case config.Seconds:
		return ts * 1000
	default:
		return ts
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}

// Buckets maps a window key to the tables whose max timestamp falls in it
type Buckets map[int64][]Table

// GroupByWindow buckets tables by the window of their max timestamp. Window
// membership is recomputed on every call. A table appears at most once.
func GroupByWindow(tables []Table, unit config.TimeUnit, size int, resolution config.TimeUnit) Buckets {
	buckets := make(Buckets)
	seen := make(map[uint64]struct{}, len(tables))

	for _, t := range tables {
		if _, dup := seen[t.ID()]; dup {
			continue
		}
		seen[t.ID()] = struct{}{}

		key := WindowKey(unit, size, ToMillis(t.MaxTimestamp(), resolution))
		buckets[key] = append(buckets[key], t)
	}

	for _, bucket := range buckets {
		sortByID(bucket)
	}
	return buckets
}

// Keys returns the window keys newest first
func (b Buckets) Keys() []int64 {
	keys := make([]int64, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })
	return keys
}

// Len returns the total number of tables across all windows
func (b Buckets) Len() int {
	n := 0
	for _, bucket := range b {
		n += len(bucket)
	}
	return n
}
