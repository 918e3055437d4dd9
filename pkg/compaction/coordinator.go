package compaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/KevoDB/twcs/pkg/common/log"
	"github.com/KevoDB/twcs/pkg/config"
	"github.com/KevoDB/twcs/pkg/telemetry"
)

// ErrCoordinatorStopped is returned by operations on a stopped coordinator
var ErrCoordinatorStopped = errors.New("compaction coordinator stopped")

// CompactionCoordinatorOptions holds configuration options for the coordinator
type CompactionCoordinatorOptions struct {
	// Compaction strategy
	Strategy CompactionStrategy

	// Compaction executor
	Executor CompactionExecutor

	// File tracker
	FileTracker FileTracker

	// Telemetry for spans and metrics; defaults to no-op
	Telemetry telemetry.Telemetry

	Logger log.Logger

	// Clock used to derive gcBefore
	Clock func() time.Time

	// Observer is told about every finished compaction
	Observer CompactionObserver
}

// CompactionObserver receives the outcome of each compaction after its
// transaction was committed or aborted
type CompactionObserver interface {
	CompactionFinished(task *CompactionTask, outputs []Table, duration time.Duration, err error)
}

// DefaultCompactionCoordinator is the default implementation of CompactionCoordinator
type DefaultCompactionCoordinator struct {
	// Configuration
	cfg *config.Config

	strategy    CompactionStrategy
	executor    CompactionExecutor
	fileTracker FileTracker

	tel      telemetry.Telemetry
	metrics  CompactionMetrics
	logger   log.Logger
	now      func() time.Time
	observer CompactionObserver

	// Background worker state
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stateMu sync.Mutex

	// Only one cycle at a time; jobs inside a cycle run concurrently
	cycleMu sync.Mutex

	completed      atomic.Int64
	failed         atomic.Int64
	expiredDropped atomic.Int64

	// Last set of files produced by compaction
	lastCompactionOutputs []string
	resultsMu             sync.RWMutex
}

// NewCompactionCoordinator creates a new compaction coordinator. Missing
// components are filled in with a file tracker, a time window strategy
// listening to it and a metadata executor writing under sstableDir.
func NewCompactionCoordinator(cfg *config.Config, sstableDir string, options CompactionCoordinatorOptions) (*DefaultCompactionCoordinator, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if options.Telemetry == nil {
		options.Telemetry = telemetry.NewNoop()
	}
	if options.Logger == nil {
		options.Logger = log.GetDefaultLogger()
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	metrics := NewCompactionMetrics(options.Telemetry)

	if options.FileTracker == nil {
		options.FileTracker = NewFileTracker()
	}

	if options.Executor == nil {
		options.Executor = NewMetadataExecutor(sstableDir, 0)
	}

	if options.Strategy == nil {
		tracker, ok := options.FileTracker.(*DefaultFileTracker)
		if !ok {
			return nil, fmt.Errorf("%w: a strategy is required with a custom file tracker", ErrMissingComponent)
		}
		strategy, err := NewTimeWindowStrategy(cfg, tracker, tracker,
			WithClock(options.Clock),
			WithLogger(options.Logger),
			WithMetrics(metrics),
		)
		if err != nil {
			return nil, err
		}
		tracker.AddListener(strategy)
		options.Strategy = strategy
	}

	return &DefaultCompactionCoordinator{
		cfg:                   cfg.Clone(),
		strategy:              options.Strategy,
		executor:              options.Executor,
		fileTracker:           options.FileTracker,
		tel:                   options.Telemetry,
		metrics:               metrics,
		logger:                options.Logger.WithField("component", "compaction"),
		now:                   options.Clock,
		observer:              options.Observer,
		lastCompactionOutputs: make([]string, 0),
	}, nil
}

// Strategy returns the strategy the coordinator drives
func (c *DefaultCompactionCoordinator) Strategy() CompactionStrategy {
	return c.strategy
}

// FileTracker returns the tracker of live and obsolete files
func (c *DefaultCompactionCoordinator) FileTracker() FileTracker {
	return c.fileTracker
}

// Start begins background compaction
func (c *DefaultCompactionCoordinator) Start() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.stopped {
		return ErrCoordinatorStopped
	}
	if c.running {
		return nil // Already running
	}

	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	// Start background worker
	go c.compactionWorker(c.stopCh, c.doneCh)

	return nil
}

// Stop halts background compaction and waits for the running cycle
func (c *DefaultCompactionCoordinator) Stop() error {
	c.stateMu.Lock()
	c.stopped = true
	if !c.running {
		c.stateMu.Unlock()
		return nil // Already stopped
	}
	c.running = false
	close(c.stopCh)
	done := c.doneCh
	c.stateMu.Unlock()

	<-done
	return nil
}

func (c *DefaultCompactionCoordinator) isStopped() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.stopped
}

// compactionWorker runs the compaction loop
func (c *DefaultCompactionCoordinator) compactionWorker(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(c.cfg.CompactionInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.cycleMu.Lock()
			if err := c.runCompactionCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("Compaction cycle failed: %v", err)
			}
			c.cycleMu.Unlock()
		}
	}
}

// gcBefore is the tombstone purge horizon in unix seconds
func (c *DefaultCompactionCoordinator) gcBefore() int64 {
	return c.now().Add(-c.cfg.GCGrace).Unix()
}

// runCompactionCycle reserves tasks until the strategy runs out of work,
// running up to CompactionThreads of them at once
func (c *DefaultCompactionCoordinator) runCompactionCycle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.CompactionThreads)

	gcBefore := c.gcBefore()
	for gctx.Err() == nil {
		task := c.strategy.NextBackgroundTask(gcBefore)
		if task == nil {
			break
		}

		g.Go(func() error {
			if err := c.execute(gctx, task); err != nil {
				cancel()
				return err
			}
			return nil
		})
	}

	err := g.Wait()

	// Try to clean up obsolete files
	if cleanupErr := c.fileTracker.CleanupObsoleteFiles(); cleanupErr != nil {
		c.logger.Warn("Failed to clean up obsolete files: %v", cleanupErr)
	}

	if err != nil {
		return err
	}
	return ctx.Err()
}

// execute runs one reserved task and commits or aborts its transaction
func (c *DefaultCompactionCoordinator) execute(ctx context.Context, task *CompactionTask) error {
	inputs := task.Tables()
	inputSize := task.InputSize()

	ctx, span := c.tel.StartSpan(ctx, "twcs.compaction",
		attribute.String(telemetry.AttrReason, string(task.Kind)),
		attribute.Int("tables", len(inputs)),
		attribute.Int("expired", len(task.Expired)),
		attribute.Int64("input_bytes", inputSize),
	)
	defer span.End()

	start := time.Now()
	c.metrics.RecordCompactionStart(ctx, task.Kind, len(inputs), inputSize)
	c.logger.Debug("Compacting %s", task)

	outputs, err := c.executor.CompactFiles(ctx, task)
	if err == nil {
		err = task.Txn.Commit(outputs)
	} else {
		task.Txn.Abort()
	}

	duration := time.Since(start)
	outputSize := totalSize(outputs)
	c.metrics.RecordCompactionComplete(ctx, task.Kind, duration, inputSize, outputSize, len(task.Expired), err == nil)
	if c.observer != nil {
		c.observer.CompactionFinished(task, outputs, duration, err)
	}

	if err != nil {
		c.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("compaction of %d tables failed: %w", len(inputs), err)
	}

	c.completed.Add(1)
	c.expiredDropped.Add(int64(len(task.Expired)))

	paths := make([]string, 0, len(outputs))
	for _, out := range outputs {
		paths = append(paths, out.Path())
	}
	c.resultsMu.Lock()
	c.lastCompactionOutputs = paths
	c.resultsMu.Unlock()

	c.logger.Info("Compacted %d tables (%d expired, %d bytes) into %d", len(inputs), len(task.Expired), inputSize, len(outputs))
	return nil
}

// TriggerCompaction forces a compaction cycle
func (c *DefaultCompactionCoordinator) TriggerCompaction(ctx context.Context) error {
	if c.isStopped() {
		return ErrCoordinatorStopped
	}

	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	return c.runCompactionCycle(ctx)
}

// CompactAll compacts every eligible table into one. Returns nil without
// doing anything when the tables cannot all be reserved.
func (c *DefaultCompactionCoordinator) CompactAll(ctx context.Context) error {
	if c.isStopped() {
		return ErrCoordinatorStopped
	}

	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	task := c.strategy.MaximalTask(c.gcBefore())
	if task == nil {
		return nil
	}
	if err := c.execute(ctx, task); err != nil {
		return err
	}
	return c.fileTracker.CleanupObsoleteFiles()
}

// GetCompactionStats returns statistics about the compaction state
func (c *DefaultCompactionCoordinator) GetCompactionStats() map[string]interface{} {
	stats := make(map[string]interface{})

	stats["strategy"] = fmt.Sprint(c.strategy)
	stats["estimated_remaining_tasks"] = c.strategy.EstimatedRemainingTasks()
	stats["completed"] = c.completed.Load()
	stats["failed"] = c.failed.Load()
	stats["expired_dropped"] = c.expiredDropped.Load()

	c.stateMu.Lock()
	stats["running"] = c.running
	c.stateMu.Unlock()

	if tracker, ok := c.fileTracker.(*DefaultFileTracker); ok {
		stats["live_tables"] = tracker.LiveCount()
		stats["pending_tables"] = tracker.PendingCount()
		stats["obsolete_files"] = tracker.ObsoleteCount()
	}

	c.resultsMu.RLock()
	defer c.resultsMu.RUnlock()

	// Include info about last compaction
	stats["last_outputs_count"] = len(c.lastCompactionOutputs)
	if len(c.lastCompactionOutputs) > 0 {
		stats["last_outputs"] = append([]string(nil), c.lastCompactionOutputs...)
	}

	return stats
}
