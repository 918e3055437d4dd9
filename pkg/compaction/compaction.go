package compaction

import (
	"fmt"
	"sort"
	"strings"
)

// TaskKind says why a task was selected
type TaskKind string

const (
	KindCurrentWindow    TaskKind = "current_window"
	KindHistoricalWindow TaskKind = "historical_window"
	KindTombstone        TaskKind = "tombstone"
	KindExpiredOnly      TaskKind = "expired_only"
	KindMaximal          TaskKind = "maximal"
	KindUserDefined      TaskKind = "user_defined"
)

// CompactionTask represents a reserved set of tables to be compacted
type CompactionTask struct {
	// Kind records which branch of selection produced the task
	Kind TaskKind

	// Txn holds the reservation; the executor's caller commits or aborts it
	Txn Transaction

	// Expired lists inputs that are fully expired and produce no output
	Expired []Table

	// GCBefore is the purge horizon in unix seconds
	GCBefore int64
}

// Tables returns every reserved input, expired ones included
func (t *CompactionTask) Tables() []Table {
	if t == nil || t.Txn == nil {
		return nil
	}
	return t.Txn.Tables()
}

// InputSize is the total size of the inputs in bytes
func (t *CompactionTask) InputSize() int64 {
	var size int64
	for _, table := range t.Tables() {
		size += table.Size()
	}
	return size
}

// IsExpired reports whether the table is one of the task's expired inputs
func (t *CompactionTask) IsExpired(table Table) bool {
	for _, e := range t.Expired {
		if e.ID() == table.ID() {
			return true
		}
	}
	return false
}

func (t *CompactionTask) String() string {
	tables := t.Tables()
	names := make([]string, 0, len(tables))
	for _, table := range tables {
		names = append(names, fmt.Sprint(table))
	}
	return fmt.Sprintf("%s{tables=%d expired=%d gcBefore=%d [%s]}",
		t.Kind, len(tables), len(t.Expired), t.GCBefore, strings.Join(names, " "))
}

// tableSet is a set of tables keyed by ID
type tableSet map[uint64]Table

func newTableSet(tables []Table) tableSet {
	s := make(tableSet, len(tables))
	for _, t := range tables {
		s[t.ID()] = t
	}
	return s
}

func (s tableSet) contains(t Table) bool {
	_, ok := s[t.ID()]
	return ok
}

// sorted returns the members ordered by ID so callers see a stable order
func (s tableSet) sorted() []Table {
	out := make([]Table, 0, len(s))
	for _, t := range s {
		out = append(out, t)
	}
	sortByID(out)
	return out
}

func sortByID(tables []Table) {
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID() < tables[j].ID() })
}

// sortBySize orders tables ascending by size, breaking ties by ID
func sortBySize(tables []Table) {
	sort.Slice(tables, func(i, j int) bool {
		if tables[i].Size() != tables[j].Size() {
			return tables[i].Size() < tables[j].Size()
		}
		return tables[i].ID() < tables[j].ID()
	})
}

func totalSize(tables []Table) int64 {
	var n int64
	for _, t := range tables {
		n += t.Size()
	}
	return n
}
