// ABOUTME: This file defines telemetry metrics for time-window compaction
// ABOUTME: covering selection outcomes, expiry scans, reservation races and execution results

package compaction

import (
	"context"
	"time"

	"github.com/KevoDB/twcs/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// CompactionMetrics interface defines telemetry methods for compaction operations
type CompactionMetrics interface {
	telemetry.ComponentMetrics

	// RecordSelection records a selection pass that found work
	RecordSelection(ctx context.Context, kind TaskKind, tableCount int, inputSize int64)

	// RecordNoWork records a selection pass that found nothing to do
	RecordNoWork(ctx context.Context)

	// RecordExpiredCheck records a throttled expiry scan. ran is false when the
	// scan was skipped because the check frequency had not elapsed.
	RecordExpiredCheck(ctx context.Context, ran bool, expiredCount int)

	// RecordReservationConflict records a selection lost to another compaction
	RecordReservationConflict(ctx context.Context)

	// RecordWindows records the shape of the bucket map seen by a selection pass
	RecordWindows(ctx context.Context, windowCount int, tableCount int, estimatedTasks int)

	// RecordCompactionStart records the start of a compaction operation
	RecordCompactionStart(ctx context.Context, kind TaskKind, inputFileCount int, inputSize int64)

	// RecordCompactionComplete records the completion of a compaction operation
	RecordCompactionComplete(ctx context.Context, kind TaskKind, duration time.Duration, inputSize int64, outputSize int64, expiredDropped int, success bool)
}

// compactionMetrics implements CompactionMetrics using the telemetry package
type compactionMetrics struct {
	tel telemetry.Telemetry
}

// NewCompactionMetrics creates a new CompactionMetrics implementation
func NewCompactionMetrics(tel telemetry.Telemetry) CompactionMetrics {
	if tel == nil {
		return NewNoopCompactionMetrics()
	}
	return &compactionMetrics{
		tel: tel,
	}
}

// NewNoopCompactionMetrics creates a no-op CompactionMetrics for testing/disabled scenarios
func NewNoopCompactionMetrics() CompactionMetrics {
	return &noopCompactionMetrics{}
}

func componentAttr() attribute.KeyValue {
	return attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction)
}

func (m *compactionMetrics) RecordSelection(ctx context.Context, kind TaskKind, tableCount int, inputSize int64) {
	m.tel.RecordCounter(ctx, "twcs.selection.count", 1,
		componentAttr(),
		attribute.String(telemetry.AttrReason, string(kind)),
	)

	m.tel.RecordHistogram(ctx, "twcs.selection.tables", float64(tableCount),
		componentAttr(),
		attribute.String(telemetry.AttrReason, string(kind)),
	)

	m.tel.RecordHistogram(ctx, "twcs.selection.bytes", float64(inputSize),
		componentAttr(),
		attribute.String(telemetry.AttrReason, string(kind)),
	)
}

func (m *compactionMetrics) RecordNoWork(ctx context.Context) {
	m.tel.RecordCounter(ctx, "twcs.selection.empty.count", 1, componentAttr())
}

func (m *compactionMetrics) RecordExpiredCheck(ctx context.Context, ran bool, expiredCount int) {
	status := "skipped"
	if ran {
		status = "ran"
	}
	m.tel.RecordCounter(ctx, "twcs.expired_check.count", 1,
		componentAttr(),
		attribute.String(telemetry.AttrStatus, status),
	)

	if ran && expiredCount > 0 {
		m.tel.RecordCounter(ctx, "twcs.expired_check.tables", int64(expiredCount), componentAttr())
	}
}

func (m *compactionMetrics) RecordReservationConflict(ctx context.Context) {
	m.tel.RecordCounter(ctx, "twcs.reservation.conflict.count", 1, componentAttr())
}

func (m *compactionMetrics) RecordWindows(ctx context.Context, windowCount int, tableCount int, estimatedTasks int) {
	m.tel.RecordHistogram(ctx, "twcs.windows.count", float64(windowCount), componentAttr())
	m.tel.RecordHistogram(ctx, "twcs.windows.tables", float64(tableCount), componentAttr())
	m.tel.RecordHistogram(ctx, "twcs.estimated_tasks", float64(estimatedTasks), componentAttr())
}

// RecordCompactionStart records the start of a compaction operation
func (m *compactionMetrics) RecordCompactionStart(ctx context.Context, kind TaskKind, inputFileCount int, inputSize int64) {
	m.tel.RecordCounter(ctx, "twcs.compaction.start.count", 1,
		componentAttr(),
		attribute.String(telemetry.AttrReason, string(kind)),
	)

	m.tel.RecordCounter(ctx, "twcs.compaction.input.files", int64(inputFileCount),
		componentAttr(),
		attribute.String(telemetry.AttrReason, string(kind)),
	)

	telemetry.RecordBytes(ctx, m.tel, "twcs.compaction.input.bytes", inputSize,
		componentAttr(),
		attribute.String(telemetry.AttrReason, string(kind)),
	)
}

// RecordCompactionComplete records the completion of a compaction operation
func (m *compactionMetrics) RecordCompactionComplete(ctx context.Context, kind TaskKind, duration time.Duration, inputSize int64, outputSize int64, expiredDropped int, success bool) {
	m.tel.RecordHistogram(ctx, "twcs.compaction.execution.duration", duration.Seconds(),
		componentAttr(),
		attribute.String(telemetry.AttrReason, string(kind)),
		attribute.String(telemetry.AttrStatus, statusToString(success)),
	)

	if !success {
		return
	}

	telemetry.RecordBytes(ctx, m.tel, "twcs.compaction.output.bytes", outputSize, componentAttr())

	if expiredDropped > 0 {
		m.tel.RecordCounter(ctx, "twcs.compaction.expired.dropped", int64(expiredDropped), componentAttr())
	}

	// Space reclaimed by dropping data and expired tables
	if reclaimed := inputSize - outputSize; reclaimed > 0 {
		telemetry.RecordBytes(ctx, m.tel, "twcs.compaction.space.reclaimed.bytes", reclaimed, componentAttr())
	}
}

// Close cleans up any resources used by the metrics
func (m *compactionMetrics) Close() error {
	// No resources to clean up for this implementation
	return nil
}

// noopCompactionMetrics provides a no-op implementation for testing/disabled scenarios
type noopCompactionMetrics struct{}

func (n *noopCompactionMetrics) RecordSelection(ctx context.Context, kind TaskKind, tableCount int, inputSize int64) {
}
func (n *noopCompactionMetrics) RecordNoWork(ctx context.Context) {}
func (n *noopCompactionMetrics) RecordExpiredCheck(ctx context.Context, ran bool, expiredCount int) {
}
func (n *noopCompactionMetrics) RecordReservationConflict(ctx context.Context) {}
func (n *noopCompactionMetrics) RecordWindows(ctx context.Context, windowCount int, tableCount int, estimatedTasks int) {
}
func (n *noopCompactionMetrics) RecordCompactionStart(ctx context.Context, kind TaskKind, inputFileCount int, inputSize int64) {
}
func (n *noopCompactionMetrics) RecordCompactionComplete(ctx context.Context, kind TaskKind, duration time.Duration, inputSize int64, outputSize int64, expiredDropped int, success bool) {
}
func (n *noopCompactionMetrics) Close() error { return nil }

// statusToString converts success/failure to string representation
func statusToString(success bool) string {
	if success {
		return telemetry.StatusSuccess
	}
	return telemetry.StatusError
}
