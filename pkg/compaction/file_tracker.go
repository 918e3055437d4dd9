package compaction

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/KevoDB/twcs/pkg/sstable"
)

// ErrTransactionDone is returned when a transaction is committed twice or
// after it was aborted
var ErrTransactionDone = errors.New("compaction transaction already finished")

// DefaultFileTracker is the default implementation of FileTracker. It owns the
// live table set, hands out reservations and tells listeners when tables come
// and go.
type DefaultFileTracker struct {
	// Live tables by ID
	live map[uint64]Table

	// Map of table ID -> true for tables reserved by a compaction
	pending map[uint64]bool

	// Map of file path -> true for files that have been obsoleted by compaction
	obsoleteFiles map[string]bool

	listeners []TableListener

	// Mutex for file tracking maps. Listeners are always called without it.
	filesMu sync.RWMutex
}

// NewFileTracker creates a new file tracker
func NewFileTracker() *DefaultFileTracker {
	return &DefaultFileTracker{
		live:          make(map[uint64]Table),
		pending:       make(map[uint64]bool),
		obsoleteFiles: make(map[string]bool),
	}
}

// AddListener registers l for table additions and removals. Tables already
// live are replayed to it.
func (f *DefaultFileTracker) AddListener(l TableListener) {
	f.filesMu.Lock()
	f.listeners = append(f.listeners, l)
	existing := f.sortedLiveLocked()
	f.filesMu.Unlock()

	for _, t := range existing {
		l.AddTable(t)
	}
}

// AddTables makes tables live, e.g. after a flush
func (f *DefaultFileTracker) AddTables(tables ...Table) {
	f.filesMu.Lock()
	for _, t := range tables {
		f.live[t.ID()] = t
	}
	listeners := f.listeners
	f.filesMu.Unlock()

	notify(listeners, nil, tables)
}

// RemoveTables drops tables from the live set without compacting them.
// Reserved tables are left alone and reported back.
func (f *DefaultFileTracker) RemoveTables(tables ...Table) []Table {
	var removed, busy []Table

	f.filesMu.Lock()
	for _, t := range tables {
		if f.pending[t.ID()] {
			busy = append(busy, t)
			continue
		}
		if _, ok := f.live[t.ID()]; ok {
			delete(f.live, t.ID())
			removed = append(removed, t)
		}
	}
	listeners := f.listeners
	f.filesMu.Unlock()

	notify(listeners, removed, nil)
	return busy
}

func notify(listeners []TableListener, removed, added []Table) {
	for _, l := range listeners {
		for _, t := range removed {
			l.RemoveTable(t)
		}
		for _, t := range added {
			l.AddTable(t)
		}
	}
}

// Live returns the live tables ordered by ID
func (f *DefaultFileTracker) Live() []Table {
	f.filesMu.RLock()
	defer f.filesMu.RUnlock()
	return f.sortedLiveLocked()
}

func (f *DefaultFileTracker) sortedLiveLocked() []Table {
	out := make([]Table, 0, len(f.live))
	for _, t := range f.live {
		out = append(out, t)
	}
	sortByID(out)
	return out
}

// NotAlreadyCompacting implements TableSet
func (f *DefaultFileTracker) NotAlreadyCompacting() []Table {
	f.filesMu.RLock()
	defer f.filesMu.RUnlock()

	out := make([]Table, 0, len(f.live))
	for id, t := range f.live {
		if !f.pending[id] {
			out = append(out, t)
		}
	}
	sortByID(out)
	return out
}

// Overlapping implements TableSet
func (f *DefaultFileTracker) Overlapping(tables []Table) []Table {
	exclude := newTableSet(tables)

	f.filesMu.RLock()
	defer f.filesMu.RUnlock()

	var out []Table
	for _, candidate := range f.live {
		if exclude.contains(candidate) {
			continue
		}
		for _, t := range tables {
			if sstable.Overlaps(candidate, t) {
				out = append(out, candidate)
				break
			}
		}
	}
	sortByID(out)
	return out
}

// LiveCount implements TableSet
func (f *DefaultFileTracker) LiveCount() int {
	f.filesMu.RLock()
	defer f.filesMu.RUnlock()
	return len(f.live)
}

// TryReserve implements Reservation. Either every table is marked pending or
// none is.
func (f *DefaultFileTracker) TryReserve(tables []Table) Transaction {
	if len(tables) == 0 {
		return nil
	}

	f.filesMu.Lock()
	defer f.filesMu.Unlock()

	for _, t := range tables {
		if _, ok := f.live[t.ID()]; !ok || f.pending[t.ID()] {
			return nil
		}
	}
	for _, t := range tables {
		f.pending[t.ID()] = true
	}

	return &trackerTxn{
		tracker: f,
		tables:  append([]Table(nil), tables...),
	}
}

// MarkFileObsolete marks a file as obsolete (can be deleted)
func (f *DefaultFileTracker) MarkFileObsolete(path string) {
	f.filesMu.Lock()
	defer f.filesMu.Unlock()

	f.obsoleteFiles[path] = true
}

// IsFileObsolete checks if a file is marked as obsolete
func (f *DefaultFileTracker) IsFileObsolete(path string) bool {
	f.filesMu.RLock()
	defer f.filesMu.RUnlock()

	return f.obsoleteFiles[path]
}

// IsFilePending checks if the live table at path is reserved by a compaction
func (f *DefaultFileTracker) IsFilePending(path string) bool {
	f.filesMu.RLock()
	defer f.filesMu.RUnlock()

	return f.isPathPendingLocked(path)
}

func (f *DefaultFileTracker) isPathPendingLocked(path string) bool {
	for id, t := range f.live {
		if t.Path() == path && f.pending[id] {
			return true
		}
	}
	return false
}

// PendingCount returns the number of reserved tables
func (f *DefaultFileTracker) PendingCount() int {
	f.filesMu.RLock()
	defer f.filesMu.RUnlock()
	return len(f.pending)
}

// ObsoleteCount returns the number of files awaiting deletion
func (f *DefaultFileTracker) ObsoleteCount() int {
	f.filesMu.RLock()
	defer f.filesMu.RUnlock()
	return len(f.obsoleteFiles)
}

// CleanupObsoleteFiles removes files that are no longer needed
func (f *DefaultFileTracker) CleanupObsoleteFiles() error {
	f.filesMu.Lock()
	defer f.filesMu.Unlock()

	// Safely remove obsolete files that aren't pending
	for path := range f.obsoleteFiles {
		if f.isPathPendingLocked(path) {
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete obsolete file %s: %w", path, err)
		}
		delete(f.obsoleteFiles, path)
	}

	return nil
}

// trackerTxn is the Transaction handed out by DefaultFileTracker
type trackerTxn struct {
	tracker *DefaultFileTracker
	tables  []Table

	mu   sync.Mutex
	done bool
}

func (t *trackerTxn) Tables() []Table {
	return t.tables
}

// Commit swaps the reserved tables for outputs in the live set. Input files
// become obsolete.
func (t *trackerTxn) Commit(outputs []Table) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTransactionDone
	}
	t.done = true

	f := t.tracker
	f.filesMu.Lock()
	for _, in := range t.tables {
		delete(f.pending, in.ID())
		delete(f.live, in.ID())
		f.obsoleteFiles[in.Path()] = true
	}
	for _, out := range outputs {
		f.live[out.ID()] = out
	}
	listeners := f.listeners
	f.filesMu.Unlock()

	notify(listeners, t.tables, outputs)
	return nil
}

// Abort releases the reservation. Calling it after Commit does nothing.
func (t *trackerTxn) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true

	f := t.tracker
	f.filesMu.Lock()
	for _, in := range t.tables {
		delete(f.pending, in.ID())
	}
	f.filesMu.Unlock()
}
