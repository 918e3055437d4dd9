package compaction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevoDB/twcs/pkg/common/log"
	"github.com/KevoDB/twcs/pkg/config"
)

// ErrMissingComponent is returned when a strategy or coordinator is built
// without a collaborator it cannot default
var ErrMissingComponent = errors.New("missing compaction component")

// StrategyOption configures a TimeWindowStrategy
type StrategyOption func(*TimeWindowStrategy)

// WithClock replaces the wall clock used for the current window, the expiry
// throttle and tombstone ages
func WithClock(now func() time.Time) StrategyOption {
	return func(s *TimeWindowStrategy) {
		s.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) StrategyOption {
	return func(s *TimeWindowStrategy) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics CompactionMetrics) StrategyOption {
	return func(s *TimeWindowStrategy) {
		s.metrics = metrics
	}
}

// WithSizeTierSelector replaces the selector used inside the current window
func WithSizeTierSelector(selector SizeTierSelector) StrategyOption {
	return func(s *TimeWindowStrategy) {
		s.selector = selector
	}
}

// WithExpiryOracle replaces the fully expired table check
func WithExpiryOracle(oracle ExpiryOracle) StrategyOption {
	return func(s *TimeWindowStrategy) {
		s.oracle = oracle
	}
}

// TimeWindowStrategy groups tables into time windows by their newest write
// and compacts one window at a time, newest first. The open window is
// compacted size-tiered once it has MinThreshold tables; closed windows are
// compacted whenever they hold two or more tables. Tables whose content has
// fully expired are dropped alongside whatever else is selected.
type TimeWindowStrategy struct {
	policy           WindowPolicy
	resolution       config.TimeUnit
	expiredCheckFreq time.Duration
	tombstones       TombstonePolicy

	tables      TableSet
	reservation Reservation
	selector    SizeTierSelector
	oracle      ExpiryOracle
	metrics     CompactionMetrics
	logger      log.Logger
	now         func() time.Time

	// mu guards the registry, the expiry throttle and the enabled flag. The
	// strategy may call into the TableSet and Reservation while holding it.
	mu               sync.Mutex
	registry         tableSet
	lastExpiredCheck time.Time
	enabled          bool

	estimated atomic.Int64
}

// NewTimeWindowStrategy creates a strategy from a validated copy of cfg
func NewTimeWindowStrategy(cfg *config.Config, tables TableSet, reservation Reservation, opts ...StrategyOption) (*TimeWindowStrategy, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if tables == nil || reservation == nil {
		return nil, fmt.Errorf("%w: time window strategy requires a table set and a reservation", ErrMissingComponent)
	}

	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &TimeWindowStrategy{
		policy: WindowPolicy{
			MinThreshold: cfg.MinThreshold,
			MaxThreshold: cfg.MaxThreshold,
			Unit:         cfg.WindowUnit,
			Size:         cfg.WindowSize,
			SizeTier: SizeTierOptions{
				BucketLow:      cfg.BucketLow,
				BucketHigh:     cfg.BucketHigh,
				MinSSTableSize: cfg.MinSSTableSize,
			},
		},
		resolution:       cfg.TimestampResolution,
		expiredCheckFreq: cfg.ExpiredCheckFreq,
		tombstones: TombstonePolicy{
			Enabled:   cfg.TombstoneCompactionEnabled,
			Threshold: cfg.TombstoneThreshold,
			Interval:  cfg.TombstoneCompactionInterval,
			Unchecked: cfg.UncheckedTombstoneCompaction,
		},
		tables:      tables,
		reservation: reservation,
		selector:    SizeTieredSelector{},
		oracle:      FullyExpiredOracle{},
		metrics:     NewNoopCompactionMetrics(),
		logger:      log.GetDefaultLogger(),
		now:         time.Now,
		registry:    make(tableSet),
		enabled:     cfg.Enabled,
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "twcs")

	return s, nil
}

// AddTable registers a table. Safe for concurrent use.
func (s *TimeWindowStrategy) AddTable(t Table) {
	if t == nil {
		panic("compaction: AddTable called with nil table")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[t.ID()] = t
}

// RemoveTable unregisters a table. Unknown tables are ignored.
func (s *TimeWindowStrategy) RemoveTable(t Table) {
	if t == nil {
		panic("compaction: RemoveTable called with nil table")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registry, t.ID())
}

// SetEnabled turns background selection on or off
func (s *TimeWindowStrategy) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// IsEnabled reports whether background selection is on
func (s *TimeWindowStrategy) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// EstimatedRemainingTasks returns the task count computed by the most recent
// selection pass. It does not take the strategy lock.
func (s *TimeWindowStrategy) EstimatedRemainingTasks() int {
	return int(s.estimated.Load())
}

// MaxTableBytes is the largest output table the strategy asks for. Output is
// never split by size.
func (s *TimeWindowStrategy) MaxTableBytes() int64 {
	return math.MaxInt64
}

func (s *TimeWindowStrategy) String() string {
	return fmt.Sprintf("TimeWindowCompactionStrategy[%d/%d]", s.policy.MinThreshold, s.policy.MaxThreshold)
}

// candidates is the outcome of one selection pass
type candidates struct {
	tables  []Table
	expired []Table
	kind    TaskKind
}

// NextCandidates runs one selection pass and returns the tables to compact,
// fully expired ones included, or nil when there is no work. Nothing is
// reserved.
func (s *TimeWindowStrategy) NextCandidates(gcBefore int64) []Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(gcBefore).tables
}

// NextBackgroundTask selects and reserves the next compaction. When another
// compaction reserves one of the chosen tables first, selection starts over.
// Returns nil when there is no work.
func (s *TimeWindowStrategy) NextBackgroundTask(gcBefore int64) *CompactionTask {
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		c := s.selectLocked(gcBefore)
		if len(c.tables) == 0 {
			s.metrics.RecordNoWork(ctx)
			return nil
		}

		txn := s.reservation.TryReserve(c.tables)
		if txn == nil {
			s.metrics.RecordReservationConflict(ctx)
			s.logger.Debug("Tables %v already reserved by another compaction, selecting again", c.tables)
			continue
		}

		s.metrics.RecordSelection(ctx, c.kind, len(c.tables), totalSize(c.tables))
		return &CompactionTask{
			Kind:     c.kind,
			Txn:      txn,
			Expired:  c.expired,
			GCBefore: gcBefore,
		}
	}
}

// selectLocked is one pass of selection: drop reserved tables, pull out fully
// expired ones, bucket the rest by window and pick a window or fall back to a
// single-table tombstone compaction.
func (s *TimeWindowStrategy) selectLocked(gcBefore int64) candidates {
	if !s.enabled || len(s.registry) == 0 {
		s.estimated.Store(0)
		return candidates{}
	}

	now := s.now()

	uncompacting := s.uncompactingLocked()
	if len(uncompacting) == 0 {
		s.estimated.Store(0)
		return candidates{}
	}

	var expired []Table
	if now.Sub(s.lastExpiredCheck) > s.expiredCheckFreq {
		overlapping := s.tables.Overlapping(uncompacting)
		expired = s.oracle.FindFullyExpired(uncompacting, overlapping, gcBefore)
		s.lastExpiredCheck = now
		s.metrics.RecordExpiredCheck(context.Background(), true, len(expired))
	} else {
		s.logger.Debug("TWCS expired check sufficiently far in the past, checking for tombstone compaction")
		s.metrics.RecordExpiredCheck(context.Background(), false, 0)
	}

	remaining := uncompacting
	if len(expired) > 0 {
		drop := newTableSet(expired)
		remaining = make([]Table, 0, len(uncompacting))
		for _, t := range uncompacting {
			if !drop.contains(t) {
				remaining = append(remaining, t)
			}
		}
	}

	chosen, kind := s.nonExpiredLocked(remaining, gcBefore, now)

	if len(expired) > 0 {
		s.logger.Debug("Including expired tables: %v", expired)
		if len(chosen) == 0 {
			kind = KindExpiredOnly
		}
		chosen = append(chosen, expired...)
	}

	return candidates{tables: chosen, expired: expired, kind: kind}
}

func (s *TimeWindowStrategy) nonExpiredLocked(tables []Table, gcBefore int64, now time.Time) ([]Table, TaskKind) {
	buckets := GroupByWindow(tables, s.policy.Unit, s.policy.Size, s.resolution)
	estimate := EstimateTasks(buckets, s.policy, now)
	s.estimated.Store(int64(estimate))
	s.metrics.RecordWindows(context.Background(), len(buckets), buckets.Len(), estimate)
	s.logger.Debug("Compaction windows: %d, tables: %d, estimated tasks: %d", len(buckets), buckets.Len(), estimate)

	if sel := NewestBucket(buckets, s.policy, s.selector, now); len(sel.Tables) > 0 {
		return sel.Tables, sel.Kind
	}

	if single := FindTombstoneCandidate(tables, s.tables, s.tombstones, gcBefore, now); len(single) > 0 {
		return single, KindTombstone
	}
	return nil, ""
}

// uncompactingLocked returns registered, non-suspect tables that the table
// set reports as not reserved, ordered by ID
func (s *TimeWindowStrategy) uncompactingLocked() []Table {
	free := newTableSet(s.tables.NotAlreadyCompacting())

	out := make([]Table, 0, len(s.registry))
	for _, t := range s.registry.sorted() {
		if t.Suspect() || !free.contains(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// MaximalCandidates returns every registered table that is not suspect
func (s *TimeWindowStrategy) MaximalCandidates() []Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maximalLocked()
}

func (s *TimeWindowStrategy) maximalLocked() []Table {
	var out []Table
	for _, t := range s.registry.sorted() {
		if !t.Suspect() {
			out = append(out, t)
		}
	}
	return out
}

// MaximalTask reserves every non-suspect registered table for one full
// compaction. Returns nil when there are none or any is already reserved.
func (s *TimeWindowStrategy) MaximalTask(gcBefore int64) *CompactionTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := s.maximalLocked()
	if len(tables) == 0 {
		return nil
	}

	txn := s.reservation.TryReserve(tables)
	if txn == nil {
		s.metrics.RecordReservationConflict(context.Background())
		return nil
	}

	s.metrics.RecordSelection(context.Background(), KindMaximal, len(tables), totalSize(tables))
	return &CompactionTask{Kind: KindMaximal, Txn: txn, GCBefore: gcBefore}
}

// UserDefinedTask reserves exactly the given tables. It returns nil when any of
// them is already being compacted. Panics if tables is empty.
func (s *TimeWindowStrategy) UserDefinedTask(tables []Table, gcBefore int64) *CompactionTask {
	if len(tables) == 0 {
		panic("compaction: UserDefinedTask called with no tables")
	}

	txn := s.reservation.TryReserve(tables)
	if txn == nil {
		s.logger.Debug("Unable to mark %v for compaction; probably a background compaction got to it first. You can disable background compactions temporarily if this is a problem", tables)
		s.metrics.RecordReservationConflict(context.Background())
		return nil
	}

	s.metrics.RecordSelection(context.Background(), KindUserDefined, len(tables), totalSize(tables))
	return &CompactionTask{Kind: KindUserDefined, Txn: txn, GCBefore: gcBefore}
}
