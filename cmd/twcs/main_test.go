package main

import (
	"testing"
	"time"

	"github.com/KevoDB/twcs/pkg/common/log"
	"github.com/KevoDB/twcs/pkg/config"
	"github.com/KevoDB/twcs/pkg/sstable"
	"github.com/KevoDB/twcs/pkg/stats"
	"github.com/KevoDB/twcs/pkg/telemetry"
)

func newTestSession(t *testing.T) *session {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.WindowUnit = config.Hours
	cfg.WindowSize = 1

	s := &session{
		opts:      Options{Dir: t.TempDir()},
		cfg:       cfg,
		collector: stats.NewAtomicCollector(),
		tel:       telemetry.NewNoop(),
		logger:    log.NewNopLogger(),
		clock:     &simClock{},
	}
	if err := s.open(); err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	t.Cleanup(func() { s.manager.Stop() })
	return s
}

func TestAtResolution(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		resolution config.TimeUnit
		want       int64
	}{
		{config.Seconds, ts.Unix()},
		{config.Milliseconds, ts.UnixMilli()},
		{config.Microseconds, ts.UnixMicro()},
		{config.Nanoseconds, ts.UnixNano()},
	}

	for _, tt := range tests {
		if got := atResolution(ts, tt.resolution); got != tt.want {
			t.Errorf("atResolution(%s) = %d, want %d", tt.resolution, got, tt.want)
		}
	}
}

func TestSimClockAdvance(t *testing.T) {
	c := &simClock{}
	before := c.Now()
	c.Advance(24 * time.Hour)

	if d := c.Now().Sub(before); d < 24*time.Hour {
		t.Errorf("Expected the clock to move at least 24h, moved %s", d)
	}
}

func TestSessionAddTable(t *testing.T) {
	s := newTestSession(t)

	s.addTable([]string{"3", "1048576", "90m", "a", "m"})
	s.addTable([]string{"4", "2048", "720h", "EXPIRED"})
	s.addTable([]string{"3", "10", "1m"})    // duplicate generation
	s.addTable([]string{"5", "big", "1m"})   // invalid size
	s.addTable([]string{"6", "10", "later"}) // invalid age

	if n := len(s.manager.LiveTables()); n != 2 {
		t.Fatalf("Expected 2 live tables, got %d", n)
	}

	info, ok := s.findTable(3).(*sstable.TableInfo)
	if !ok {
		t.Fatal("Expected table 3 to be registered")
	}
	if info.FirstKey() != "a" || info.LastKey() != "m" {
		t.Errorf("Expected key range a-m, got %s-%s", info.FirstKey(), info.LastKey())
	}
	if info.MaxLocalDeletionTime() != sstable.NoDeletionTime {
		t.Errorf("Expected no deletion time, got %d", info.MaxLocalDeletionTime())
	}

	expired := s.findTable(4)
	if expired == nil {
		t.Fatal("Expected table 4 to be registered")
	}
	if expired.MaxLocalDeletionTime() >= s.gcBefore() {
		t.Errorf("Expected table 4 to be purgeable before %d, got %d", s.gcBefore(), expired.MaxLocalDeletionTime())
	}

	if s.findTable(5) != nil || s.findTable(6) != nil {
		t.Error("Expected invalid tables to be rejected")
	}
}
