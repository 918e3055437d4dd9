package compaction

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/KevoDB/twcs/pkg/common/log"
	"github.com/KevoDB/twcs/pkg/compaction"
	"github.com/KevoDB/twcs/pkg/config"
	"github.com/KevoDB/twcs/pkg/engine/interfaces"
	"github.com/KevoDB/twcs/pkg/sstable"
	"github.com/KevoDB/twcs/pkg/stats"
	"github.com/KevoDB/twcs/pkg/telemetry"
)

// Option configures a Manager
type Option func(*managerOptions)

type managerOptions struct {
	tel    telemetry.Telemetry
	logger log.Logger
	clock  func() time.Time
}

// WithTelemetry sets the telemetry used for compaction metrics and spans
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *managerOptions) { o.tel = tel }
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(o *managerOptions) { o.logger = logger }
}

// WithClock replaces the wall clock for window selection, expiry checks and gc
// horizons
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) { o.clock = now }
}

// Manager implements the interfaces.CompactionManager interface
type Manager struct {
	// Core compaction coordinator from pkg/compaction
	coordinator *compaction.DefaultCompactionCoordinator
	tracker     *compaction.DefaultFileTracker
	executor    *compaction.MetadataExecutor

	// Configuration and paths
	cfg        *config.Config
	sstableDir string

	// Stats collector
	stats stats.Collector

	logger log.Logger

	// Track whether compaction is running
	started atomic.Bool
}

// NewManager creates a new compaction manager for the tables under sstableDir
func NewManager(cfg *config.Config, sstableDir string, statsCollector stats.Collector, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if statsCollector == nil {
		statsCollector = stats.NewAtomicCollector()
	}

	o := managerOptions{
		logger: log.GetDefaultLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	tracker := compaction.NewFileTracker()
	executor := compaction.NewMetadataExecutor(sstableDir, 0)
	executor.SetClock(o.clock)

	m := &Manager{
		tracker:    tracker,
		executor:   executor,
		cfg:        cfg.Clone(),
		sstableDir: sstableDir,
		stats:      statsCollector,
		logger:     o.logger,
	}

	coordinator, err := compaction.NewCompactionCoordinator(cfg, sstableDir, compaction.CompactionCoordinatorOptions{
		Executor:    executor,
		FileTracker: tracker,
		Telemetry:   o.tel,
		Logger:      o.logger,
		Clock:       o.clock,
		Observer:    m,
	})
	if err != nil {
		return nil, err
	}
	m.coordinator = coordinator

	return m, nil
}

// Open creates a manager from the manifest stored in sstableDir and registers
// the tables it lists. Without a manifest the given config is used and no
// tables are registered.
func Open(cfg *config.Config, sstableDir string, statsCollector stats.Collector, opts ...Option) (*Manager, error) {
	if statsCollector == nil {
		statsCollector = stats.NewAtomicCollector()
	}
	start := statsCollector.StartLoad()

	manifest, err := config.LoadManifest(sstableDir)
	switch {
	case errors.Is(err, config.ErrManifestNotFound):
		manifest = nil
	case err != nil:
		statsCollector.TrackError("manifest_load_error")
		return nil, err
	default:
		cfg = manifest.GetConfig()
	}

	m, err := NewManager(cfg, sstableDir, statsCollector, opts...)
	if err != nil {
		return nil, err
	}

	var loaded uint64
	if manifest != nil {
		tables := make([]compaction.Table, 0, len(manifest.GetTables()))
		for _, meta := range manifest.GetTables() {
			m.executor.ObserveGeneration(meta.Generation)
			tables = append(tables, sstable.NewTableInfo(meta))
		}
		m.AddTables(tables...)
		loaded = uint64(len(tables))
	}

	statsCollector.TrackOperation(stats.OpLoad)
	statsCollector.FinishLoad(start, loaded)
	m.logger.Info("Opened %s with %d tables", sstableDir, loaded)

	return m, nil
}

// Save writes the config and the live tables' metadata to the manifest in
// the sstable directory
func (m *Manager) Save() error {
	start := time.Now()

	manifest, err := config.NewManifest(m.sstableDir, m.cfg)
	if err != nil {
		m.stats.TrackError("manifest_save_error")
		return err
	}

	live := m.tracker.Live()
	metas := make([]sstable.Metadata, 0, len(live))
	for _, t := range live {
		metas = append(metas, metadataOf(t))
	}
	manifest.SetTables(metas)

	err = manifest.Save()
	m.stats.TrackOperationWithLatency(stats.OpSave, uint64(time.Since(start).Nanoseconds()))
	if err != nil {
		m.stats.TrackError("manifest_save_error")
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

func metadataOf(t compaction.Table) sstable.Metadata {
	if src, ok := t.(interface{ Metadata() sstable.Metadata }); ok {
		return src.Metadata()
	}
	return sstable.Metadata{
		Path:                 t.Path(),
		Size:                 t.Size(),
		FirstKey:             t.FirstKey(),
		LastKey:              t.LastKey(),
		MinTimestamp:         t.MinTimestamp(),
		MaxTimestamp:         t.MaxTimestamp(),
		MaxLocalDeletionTime: t.MaxLocalDeletionTime(),
		CreatedAt:            t.CreatedAt(),
		Suspect:              t.Suspect(),
	}
}

// Config returns a copy of the configuration the manager runs with
func (m *Manager) Config() *config.Config {
	return m.cfg.Clone()
}

// Strategy returns the time window strategy driven by the coordinator
func (m *Manager) Strategy() *compaction.TimeWindowStrategy {
	s, _ := m.coordinator.Strategy().(*compaction.TimeWindowStrategy)
	return s
}

// Executor returns the executor producing compaction outputs
func (m *Manager) Executor() *compaction.MetadataExecutor {
	return m.executor
}

// AddTables registers newly flushed tables
func (m *Manager) AddTables(tables ...compaction.Table) {
	for _, t := range tables {
		if info, ok := t.(*sstable.TableInfo); ok {
			m.executor.ObserveGeneration(info.Generation())
		}
		m.stats.TrackOperation(stats.OpAddTable)
	}
	m.tracker.AddTables(tables...)
	m.stats.TrackLiveTables(uint64(m.tracker.LiveCount()))
}

// RemoveTables unregisters tables dropped outside compaction. Tables that a
// compaction has reserved are kept and returned.
func (m *Manager) RemoveTables(tables ...compaction.Table) []compaction.Table {
	busy := m.tracker.RemoveTables(tables...)
	for range tables {
		m.stats.TrackOperation(stats.OpRemoveTable)
	}
	if len(busy) > 0 {
		m.stats.TrackError("remove_reserved_table")
	}
	m.stats.TrackLiveTables(uint64(m.tracker.LiveCount()))
	return busy
}

// LiveTables returns the live tables ordered by ID
func (m *Manager) LiveTables() []compaction.Table {
	return m.tracker.Live()
}

// Start begins background compaction
func (m *Manager) Start() error {
	err := m.coordinator.Start()
	if err == nil {
		m.started.Store(true)
	} else {
		m.stats.TrackError("compaction_start_error")
	}

	return err
}

// Stop halts background compaction and removes the input files of finished
// compactions
func (m *Manager) Stop() error {
	// If not started, nothing to do
	if !m.started.Load() {
		return nil
	}

	err := m.coordinator.Stop()
	if err != nil {
		m.stats.TrackError("compaction_stop_error")
		return err
	}
	m.started.Store(false)

	return m.Cleanup()
}

// Cleanup deletes obsolete input files that no running compaction still reads
func (m *Manager) Cleanup() error {
	start := time.Now()
	err := m.tracker.CleanupObsoleteFiles()
	m.stats.TrackOperationWithLatency(stats.OpCleanup, uint64(time.Since(start).Nanoseconds()))

	if err != nil {
		m.stats.TrackError("cleanup_error")
		m.logger.Warn("Failed to clean up obsolete files: %v", err)
	}
	return err
}

// TriggerCompaction runs one compaction cycle in the calling goroutine
func (m *Manager) TriggerCompaction(ctx context.Context) error {
	// Track operation latency
	start := time.Now()
	err := m.coordinator.TriggerCompaction(ctx)
	latencyNs := uint64(time.Since(start).Nanoseconds())
	m.stats.TrackOperationWithLatency(stats.OpSelect, latencyNs)

	if err != nil {
		m.stats.TrackError("compaction_trigger_error")
	}

	return err
}

// CompactAll compacts every non-suspect live table into one
func (m *Manager) CompactAll(ctx context.Context) error {
	start := time.Now()
	err := m.coordinator.CompactAll(ctx)
	m.stats.TrackOperationWithLatency(stats.OpCompactAll, uint64(time.Since(start).Nanoseconds()))

	if err != nil {
		m.stats.TrackError("compaction_all_error")
	}

	return err
}

// EstimatedRemainingTasks returns the strategy's latest pending task estimate
func (m *Manager) EstimatedRemainingTasks() int {
	return m.coordinator.Strategy().EstimatedRemainingTasks()
}

// CompactionFinished implements compaction.CompactionObserver
func (m *Manager) CompactionFinished(task *compaction.CompactionTask, outputs []compaction.Table, duration time.Duration, err error) {
	m.stats.TrackOperationWithLatency(stats.OpCompact, uint64(duration.Nanoseconds()))
	if err != nil {
		m.stats.TrackError("compaction_error")
		return
	}

	var outputSize int64
	for _, out := range outputs {
		outputSize += out.Size()
	}
	m.stats.TrackCompactedBytes(uint64(task.InputSize()), uint64(outputSize))
	m.stats.TrackCompaction(uint64(len(task.Expired)))
	m.stats.TrackLiveTables(uint64(m.tracker.LiveCount()))
}

// GetCompactionStats returns statistics about the compaction state
func (m *Manager) GetCompactionStats() map[string]interface{} {
	// Get stats from the coordinator
	stats := m.coordinator.GetCompactionStats()

	// Add our own stats
	stats["compaction_running"] = m.started.Load()
	stats["window"] = fmt.Sprintf("%d %s", m.cfg.WindowSize, m.cfg.WindowUnit)

	return stats
}

// Ensure Manager implements the CompactionManager interface
var _ interfaces.CompactionManager = (*Manager)(nil)
var _ compaction.CompactionObserver = (*Manager)(nil)
