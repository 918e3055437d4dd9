package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFileName = "twcs.yaml"
	CurrentConfigVersion  = 1
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// TimeUnit names a window unit or a timestamp resolution. Values use the
// upper-case spelling accepted in table options (e.g. "HOURS").
type TimeUnit string

const (
	Nanoseconds  TimeUnit = "NANOSECONDS"
	Microseconds TimeUnit = "MICROSECONDS"
	Milliseconds TimeUnit = "MILLISECONDS"
	Seconds      TimeUnit = "SECONDS"
	Minutes      TimeUnit = "MINUTES"
	Hours        TimeUnit = "HOURS"
	Days         TimeUnit = "DAYS"
)

// Window units accepted by Validate.
var validWindowUnits = map[TimeUnit]bool{
	Minutes: true,
	Hours:   true,
	Days:    true,
}

// Timestamp resolutions accepted by Validate.
var validTimestampResolutions = map[TimeUnit]bool{
	Seconds:      true,
	Milliseconds: true,
	Microseconds: true,
	Nanoseconds:  true,
}

type Config struct {
	Version int  `yaml:"version"`
	Enabled bool `yaml:"enabled"`

	// Participant thresholds shared with the engine's general compaction settings
	MinThreshold int `yaml:"min_threshold"`
	MaxThreshold int `yaml:"max_threshold"`

	// Window configuration
	WindowUnit          TimeUnit      `yaml:"compaction_window_unit"`
	WindowSize          int           `yaml:"compaction_window_size"`
	TimestampResolution TimeUnit      `yaml:"timestamp_resolution"`
	ExpiredCheckFreq    time.Duration `yaml:"expired_sstable_check_frequency"`

	// Size-tiered selection inside the current window
	BucketLow      float64 `yaml:"bucket_low"`
	BucketHigh     float64 `yaml:"bucket_high"`
	MinSSTableSize int64   `yaml:"min_sstable_size"`

	// Single-table tombstone compaction
	TombstoneCompactionEnabled   bool          `yaml:"tombstone_compaction_enabled"`
	TombstoneThreshold           float64       `yaml:"tombstone_threshold"`
	TombstoneCompactionInterval  time.Duration `yaml:"tombstone_compaction_interval"`
	UncheckedTombstoneCompaction bool          `yaml:"unchecked_tombstone_compaction"`

	// Background scheduling
	GCGrace            time.Duration `yaml:"gc_grace"`
	CompactionInterval time.Duration `yaml:"compaction_interval"`
	CompactionThreads  int           `yaml:"compaction_threads"`

	LogLevel string `yaml:"log_level"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Enabled: true,

		MinThreshold: 4,
		MaxThreshold: 32,

		WindowUnit:          Days,
		WindowSize:          1,
		TimestampResolution: Microseconds,
		ExpiredCheckFreq:    10 * time.Minute,

		BucketLow:      0.5,
		BucketHigh:     1.5,
		MinSSTableSize: 50 * 1024 * 1024, // 50MB

		TombstoneCompactionEnabled:  false, // off unless a tombstone option is set
		TombstoneThreshold:          0.2,
		TombstoneCompactionInterval: 24 * time.Hour,

		GCGrace:            10 * 24 * time.Hour,
		CompactionInterval: 30 * time.Second,
		CompactionThreads:  2,

		LogLevel: "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.validateLocked()
}

func (c *Config) validateLocked() error {
	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.MinThreshold < 2 {
		return fmt.Errorf("%w: min_threshold must be at least 2, got %d", ErrInvalidConfig, c.MinThreshold)
	}

	if c.MaxThreshold < c.MinThreshold {
		return fmt.Errorf("%w: max_threshold %d is below min_threshold %d", ErrInvalidConfig, c.MaxThreshold, c.MinThreshold)
	}

	if !validWindowUnits[c.WindowUnit] {
		return fmt.Errorf("%w: compaction_window_unit %q must be MINUTES, HOURS or DAYS", ErrInvalidConfig, c.WindowUnit)
	}

	if c.WindowSize < 1 {
		return fmt.Errorf("%w: compaction_window_size must be positive, got %d", ErrInvalidConfig, c.WindowSize)
	}

	if !validTimestampResolutions[c.TimestampResolution] {
		return fmt.Errorf("%w: timestamp_resolution %q is not supported", ErrInvalidConfig, c.TimestampResolution)
	}

	if c.ExpiredCheckFreq < 0 {
		return fmt.Errorf("%w: expired_sstable_check_frequency must not be negative", ErrInvalidConfig)
	}

	if c.BucketLow <= 0 || c.BucketLow >= 1 {
		return fmt.Errorf("%w: bucket_low must be in (0, 1), got %v", ErrInvalidConfig, c.BucketLow)
	}

	if c.BucketHigh <= 1 {
		return fmt.Errorf("%w: bucket_high must be greater than 1, got %v", ErrInvalidConfig, c.BucketHigh)
	}

	if c.MinSSTableSize < 0 {
		return fmt.Errorf("%w: min_sstable_size must not be negative", ErrInvalidConfig)
	}

	if c.TombstoneThreshold < 0 || c.TombstoneThreshold > 1 {
		return fmt.Errorf("%w: tombstone_threshold must be in [0, 1], got %v", ErrInvalidConfig, c.TombstoneThreshold)
	}

	if c.TombstoneCompactionInterval < 0 {
		return fmt.Errorf("%w: tombstone_compaction_interval must not be negative", ErrInvalidConfig)
	}

	if c.GCGrace < 0 {
		return fmt.Errorf("%w: gc_grace must not be negative", ErrInvalidConfig)
	}

	if c.CompactionInterval <= 0 {
		return fmt.Errorf("%w: compaction_interval must be positive", ErrInvalidConfig)
	}

	if c.CompactionThreads <= 0 {
		return fmt.Errorf("%w: compaction_threads must be positive", ErrInvalidConfig)
	}

	return nil
}

// Load decodes YAML from r on top of the defaults and validates the result.
func Load(r io.Reader) (*Config, error) {
	cfg := NewDefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads the configuration stored at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Save writes the configuration to path through a temporary file
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.validateLocked(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// Clone returns a copy that does not share the lock.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:                      c.Version,
		Enabled:                      c.Enabled,
		MinThreshold:                 c.MinThreshold,
		MaxThreshold:                 c.MaxThreshold,
		WindowUnit:                   c.WindowUnit,
		WindowSize:                   c.WindowSize,
		TimestampResolution:          c.TimestampResolution,
		ExpiredCheckFreq:             c.ExpiredCheckFreq,
		BucketLow:                    c.BucketLow,
		BucketHigh:                   c.BucketHigh,
		MinSSTableSize:               c.MinSSTableSize,
		TombstoneCompactionEnabled:   c.TombstoneCompactionEnabled,
		TombstoneThreshold:           c.TombstoneThreshold,
		TombstoneCompactionInterval:  c.TombstoneCompactionInterval,
		UncheckedTombstoneCompaction: c.UncheckedTombstoneCompaction,
		GCGrace:                      c.GCGrace,
		CompactionInterval:           c.CompactionInterval,
		CompactionThreads:            c.CompactionThreads,
		LogLevel:                     c.LogLevel,
	}
}
