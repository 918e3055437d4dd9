package compaction

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KevoDB/twcs/pkg/common/log"
	"github.com/KevoDB/twcs/pkg/config"
	"github.com/KevoDB/twcs/pkg/sstable"
)

const (
	minute = int64(60 * 1000)
	hour   = 60 * minute
)

// testNow is 12:30 UTC; the current one-hour window starts at 12:00
var testNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

// fakeTable is a Table with every property set directly
type fakeTable struct {
	id      uint64
	path    string
	size    int64
	minTs   int64
	maxTs   int64
	maxLDT  int64
	ratio   float64
	created time.Time
	first   string
	last    string
	suspect bool
}

// newTable returns a table of the given size whose writes all happened at
// tsMillis and that holds no tombstones
func newTable(id uint64, size int64, tsMillis int64) *fakeTable {
	return &fakeTable{
		id:     id,
		size:   size,
		minTs:  tsMillis,
		maxTs:  tsMillis,
		maxLDT: sstable.NoDeletionTime,
	}
}

func (t *fakeTable) ID() uint64 { return t.id }

func (t *fakeTable) Path() string {
	if t.path != "" {
		return t.path
	}
	return fmt.Sprintf("/sst/%06d.sst", t.id)
}

func (t *fakeTable) Size() int64 { return t.size }
func (t *fakeTable) MinTimestamp() int64 { return t.minTs }
func (t *fakeTable) MaxTimestamp() int64 { return t.maxTs }
func (t *fakeTable) MaxLocalDeletionTime() int64 { return t.maxLDT }
func (t *fakeTable) DroppableTombstoneRatio(gcBefore int64) float64 { return t.ratio }
func (t *fakeTable) CreatedAt() time.Time { return t.created }
func (t *fakeTable) FirstKey() string { return t.first }
func (t *fakeTable) LastKey() string { return t.last }
func (t *fakeTable) Suspect() bool { return t.suspect }
func (t *fakeTable) String() string { return fmt.Sprintf("t%d", t.id) }

func ids(tables []Table) []uint64 {
	out := make([]uint64, 0, len(tables))
	for _, t := range tables {
		out = append(out, t.ID())
	}
	return out
}

// currentWindowTables returns n equally sized tables written during the
// current window, with IDs starting at firstID
func currentWindowTables(firstID uint64, n int) []Table {
	out := make([]Table, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, newTable(firstID+uint64(i), 1<<20, testNow.UnixMilli()-int64(i+1)*minute))
	}
	return out
}

// staticTableSet answers TableSet queries from fixed lists
type staticTableSet struct {
	live        []Table
	overlapping []Table
}

func (s staticTableSet) NotAlreadyCompacting() []Table { return s.live }
func (s staticTableSet) Overlapping(tables []Table) []Table { return s.overlapping }
func (s staticTableSet) LiveCount() int { return len(s.live) }

// staticTxn is a Transaction that only remembers its outcome
type staticTxn struct {
	tables    []Table
	committed []Table
	aborted   bool
}

func (t *staticTxn) Tables() []Table { return t.tables }

func (t *staticTxn) Commit(outputs []Table) error {
	t.committed = outputs
	return nil
}

func (t *staticTxn) Abort() { t.aborted = true }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testConfig uses one-hour windows over millisecond timestamps
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.WindowUnit = config.Hours
	cfg.WindowSize = 1
	cfg.TimestampResolution = config.Milliseconds
	return cfg
}

func testPolicy() WindowPolicy {
	cfg := testConfig()
	return WindowPolicy{
		MinThreshold: cfg.MinThreshold,
		MaxThreshold: cfg.MaxThreshold,
		Unit:         cfg.WindowUnit,
		Size:         cfg.WindowSize,
		SizeTier: SizeTierOptions{
			BucketLow:      cfg.BucketLow,
			BucketHigh:     cfg.BucketHigh,
			MinSSTableSize: cfg.MinSSTableSize,
		},
	}
}

// newTestStrategy builds a strategy over a fresh file tracker
func newTestStrategy(t testing.TB, cfg *config.Config, clock *fakeClock, opts ...StrategyOption) (*TimeWindowStrategy, *DefaultFileTracker) {
	t.Helper()

	tracker := NewFileTracker()
	opts = append([]StrategyOption{WithClock(clock.Now), WithLogger(log.NewNopLogger())}, opts...)

	s, err := NewTimeWindowStrategy(cfg, tracker, tracker, opts...)
	require.NoError(t, err)
	tracker.AddListener(s)
	return s, tracker
}
