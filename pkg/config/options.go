package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Table option keys understood by ParseOptions.
const (
	OptEnabled                      = "enabled"
	OptMinThreshold                 = "min_threshold"
	OptMaxThreshold                 = "max_threshold"
	OptWindowUnit                   = "compaction_window_unit"
	OptWindowSize                   = "compaction_window_size"
	OptTimestampResolution          = "timestamp_resolution"
	OptExpiredCheckFrequencySeconds = "expired_sstable_check_frequency_seconds"
	OptBucketLow                    = "bucket_low"
	OptBucketHigh                   = "bucket_high"
	OptMinSSTableSize               = "min_sstable_size"
	OptTombstoneThreshold           = "tombstone_threshold"
	OptTombstoneCompactionInterval  = "tombstone_compaction_interval"
	OptUncheckedTombstoneCompaction = "unchecked_tombstone_compaction"
)

// ParseOptions builds a validated Config from string table options applied on
// top of the defaults. Keys it does not recognize are returned as unchecked so
// the caller can pass them to other validators or reject them.
//
// Tombstone compactions stay disabled unless tombstone_threshold or
// tombstone_compaction_interval is present.
func ParseOptions(options map[string]string) (*Config, map[string]string, error) {
	cfg := NewDefaultConfig()
	unchecked := make(map[string]string)

	for key, raw := range options {
		value := strings.TrimSpace(raw)
		var err error

		switch key {
		case OptEnabled:
			cfg.Enabled, err = strconv.ParseBool(value)
		case OptMinThreshold:
			cfg.MinThreshold, err = strconv.Atoi(value)
		case OptMaxThreshold:
			cfg.MaxThreshold, err = strconv.Atoi(value)
		case OptWindowUnit:
			cfg.WindowUnit = TimeUnit(strings.ToUpper(value))
		case OptWindowSize:
			cfg.WindowSize, err = strconv.Atoi(value)
		case OptTimestampResolution:
			cfg.TimestampResolution = TimeUnit(strings.ToUpper(value))
		case OptExpiredCheckFrequencySeconds:
			var secs int64
			secs, err = strconv.ParseInt(value, 10, 64)
			cfg.ExpiredCheckFreq = time.Duration(secs) * time.Second
		case OptBucketLow:
			cfg.BucketLow, err = strconv.ParseFloat(value, 64)
		case OptBucketHigh:
			cfg.BucketHigh, err = strconv.ParseFloat(value, 64)
		case OptMinSSTableSize:
			cfg.MinSSTableSize, err = strconv.ParseInt(value, 10, 64)
		case OptTombstoneThreshold:
			cfg.TombstoneThreshold, err = strconv.ParseFloat(value, 64)
			cfg.TombstoneCompactionEnabled = true
		case OptTombstoneCompactionInterval:
			var secs int64
			secs, err = strconv.ParseInt(value, 10, 64)
			cfg.TombstoneCompactionInterval = time.Duration(secs) * time.Second
			cfg.TombstoneCompactionEnabled = true
		case OptUncheckedTombstoneCompaction:
			cfg.UncheckedTombstoneCompaction, err = strconv.ParseBool(value)
		default:
			unchecked[key] = raw
			continue
		}

		if err != nil {
			return nil, nil, fmt.Errorf("%w: option %s=%q: %v", ErrInvalidConfig, key, raw, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, unchecked, nil
}

// LoadFromEnv overrides fields from TWCS_* environment variables. Malformed
// values are ignored and left to Validate.
func (c *Config) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val := os.Getenv("TWCS_WINDOW_UNIT"); val != "" {
		c.WindowUnit = TimeUnit(strings.ToUpper(val))
	}

	if val := os.Getenv("TWCS_WINDOW_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.WindowSize = size
		}
	}

	if val := os.Getenv("TWCS_TIMESTAMP_RESOLUTION"); val != "" {
		c.TimestampResolution = TimeUnit(strings.ToUpper(val))
	}

	if val := os.Getenv("TWCS_EXPIRED_CHECK_FREQUENCY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.ExpiredCheckFreq = d
		}
	}

	if val := os.Getenv("TWCS_COMPACTION_THREADS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.CompactionThreads = n
		}
	}

	if val := os.Getenv("TWCS_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
}
