package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Version != CurrentConfigVersion {
		t.Errorf("expected version %d, got %d", CurrentConfigVersion, cfg.Version)
	}

	if cfg.WindowUnit != Days || cfg.WindowSize != 1 {
		t.Errorf("expected a 1 DAYS window, got %d %s", cfg.WindowSize, cfg.WindowUnit)
	}

	if cfg.TimestampResolution != Microseconds {
		t.Errorf("expected MICROSECONDS resolution, got %s", cfg.TimestampResolution)
	}

	if cfg.ExpiredCheckFreq != 10*time.Minute {
		t.Errorf("expected expired check frequency 10m, got %v", cfg.ExpiredCheckFreq)
	}

	if cfg.MinThreshold != 4 || cfg.MaxThreshold != 32 {
		t.Errorf("expected thresholds 4/32, got %d/%d", cfg.MinThreshold, cfg.MaxThreshold)
	}

	if cfg.TombstoneCompactionEnabled {
		t.Error("expected tombstone compactions to be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{
			name:     "invalid version",
			mutate:   func(c *Config) { c.Version = 0 },
			expected: "invalid version 0",
		},
		{
			name:     "min threshold below two",
			mutate:   func(c *Config) { c.MinThreshold = 1 },
			expected: "min_threshold must be at least 2",
		},
		{
			name:     "max below min",
			mutate:   func(c *Config) { c.MaxThreshold = 3 },
			expected: "max_threshold 3 is below min_threshold 4",
		},
		{
			name:     "seconds window unit",
			mutate:   func(c *Config) { c.WindowUnit = Seconds },
			expected: "compaction_window_unit",
		},
		{
			name:     "zero window size",
			mutate:   func(c *Config) { c.WindowSize = 0 },
			expected: "compaction_window_size must be positive",
		},
		{
			name:     "unknown resolution",
			mutate:   func(c *Config) { c.TimestampResolution = Hours },
			expected: "timestamp_resolution",
		},
		{
			name:     "negative expired check frequency",
			mutate:   func(c *Config) { c.ExpiredCheckFreq = -time.Second },
			expected: "expired_sstable_check_frequency",
		},
		{
			name:     "bucket low out of range",
			mutate:   func(c *Config) { c.BucketLow = 1 },
			expected: "bucket_low",
		},
		{
			name:     "bucket high out of range",
			mutate:   func(c *Config) { c.BucketHigh = 1 },
			expected: "bucket_high",
		},
		{
			name:     "tombstone threshold above one",
			mutate:   func(c *Config) { c.TombstoneThreshold = 1.5 },
			expected: "tombstone_threshold",
		},
		{
			name:     "zero compaction threads",
			mutate:   func(c *Config) { c.CompactionThreads = 0 },
			expected: "compaction_threads must be positive",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}

			if !strings.Contains(err.Error(), tc.expected) {
				t.Errorf("expected error containing %q, got %q", tc.expected, err.Error())
			}
		})
	}
}

func TestConfigLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
compaction_window_unit: HOURS
compaction_window_size: 6
expired_sstable_check_frequency: 1m
`))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.WindowUnit != Hours || cfg.WindowSize != 6 {
		t.Errorf("expected a 6 HOURS window, got %d %s", cfg.WindowSize, cfg.WindowUnit)
	}

	if cfg.ExpiredCheckFreq != time.Minute {
		t.Errorf("expected expired check frequency 1m, got %v", cfg.ExpiredCheckFreq)
	}

	if cfg.MinThreshold != 4 {
		t.Errorf("expected default min threshold, got %d", cfg.MinThreshold)
	}
}

func TestConfigLoadRejectsInvalid(t *testing.T) {
	if _, err := Load(strings.NewReader("compaction_window_size: 0\n")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for zero window size, got %v", err)
	}

	if _, err := Load(strings.NewReader("min_threshold: [1, 2]\n")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for malformed yaml, got %v", err)
	}
}

func TestConfigSaveLoad(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "conf", DefaultConfigFileName)

	cfg := NewDefaultConfig()
	cfg.WindowUnit = Minutes
	cfg.WindowSize = 30
	cfg.CompactionThreads = 4

	if err := cfg.Save(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected temporary file to be renamed away, got %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.WindowUnit != Minutes || loaded.WindowSize != 30 {
		t.Errorf("expected a 30 MINUTES window, got %d %s", loaded.WindowSize, loaded.WindowUnit)
	}

	if loaded.CompactionThreads != 4 {
		t.Errorf("expected compaction threads 4, got %d", loaded.CompactionThreads)
	}

	if loaded.GCGrace != cfg.GCGrace {
		t.Errorf("expected gc grace %v, got %v", cfg.GCGrace, loaded.GCGrace)
	}

	if _, err := LoadFile(filepath.Join(tempDir, "missing.yaml")); err == nil {
		t.Error("expected an error loading a missing file")
	}
}

func TestConfigUpdate(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Update(func(c *Config) {
		c.MinThreshold = 2
		c.MaxThreshold = 8
	})

	if cfg.MinThreshold != 2 {
		t.Errorf("expected min threshold 2, got %d", cfg.MinThreshold)
	}

	if cfg.MaxThreshold != 8 {
		t.Errorf("expected max threshold 8, got %d", cfg.MaxThreshold)
	}
}

func TestConfigClone(t *testing.T) {
	cfg := NewDefaultConfig()
	clone := cfg.Clone()

	clone.WindowSize = 7
	if cfg.WindowSize != 1 {
		t.Errorf("expected clone changes not to leak, got window size %d", cfg.WindowSize)
	}
}
