package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/KevoDB/twcs/pkg/sstable"
)

const (
	DefaultManifestFileName = "MANIFEST.yaml.zst"
	CurrentManifestVersion  = 1
)

// ManifestEntry is one version of the strategy configuration together with
// the tables that were live when it was written
type ManifestEntry struct {
	Timestamp int64              `yaml:"timestamp"`
	Version   int                `yaml:"version"`
	Config    *Config            `yaml:"config"`
	Tables    []sstable.Metadata `yaml:"tables,omitempty"`
}

// Manifest is stored as zstd-compressed YAML in its directory
type Manifest struct {
	Dir        string
	Entries    []ManifestEntry
	Current    *ManifestEntry
	LastUpdate time.Time
	mu         sync.RWMutex
}

// NewManifest creates a new manifest in dir
func NewManifest(dir string, config *Config) (*Manifest, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    config.Clone(),
	}

	m := &Manifest{
		Dir:        dir,
		Entries:    []ManifestEntry{entry},
		LastUpdate: time.Now(),
	}
	m.Current = &m.Entries[0]

	return m, nil
}

// LoadManifest loads an existing manifest from dir
func LoadManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, DefaultManifestFileName)
	compressed, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	defer decoder.Close()

	data, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var entries []ManifestEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries in manifest", ErrInvalidManifest)
	}

	current := &entries[len(entries)-1]
	if current.Config == nil {
		return nil, fmt.Errorf("%w: current entry has no config", ErrInvalidManifest)
	}
	if err := current.Config.Validate(); err != nil {
		return nil, err
	}

	m := &Manifest{
		Dir:        dir,
		Entries:    entries,
		Current:    current,
		LastUpdate: time.Now(),
	}

	return m, nil
}

// Save persists the manifest to disk
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Current.Config.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(m.Entries)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	compressed := encoder.EncodeAll(data, nil)
	encoder.Close()

	manifestPath := filepath.Join(m.Dir, DefaultManifestFileName)
	tempPath := manifestPath + ".tmp"

	if err := os.WriteFile(tempPath, compressed, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	m.LastUpdate = time.Now()
	return nil
}

// UpdateConfig creates a new configuration entry carrying the current tables
func (m *Manifest) UpdateConfig(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newConfig := m.Current.Config.Clone()
	fn(newConfig)

	if err := newConfig.Validate(); err != nil {
		return err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    newConfig,
		Tables:    append([]sstable.Metadata(nil), m.Current.Tables...),
	}

	m.Entries = append(m.Entries, entry)
	m.Current = &m.Entries[len(m.Entries)-1]

	return nil
}

// SetTables replaces the tables recorded in the current entry
func (m *Manifest) SetTables(tables []sstable.Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := append([]sstable.Metadata(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	m.Current.Tables = sorted
}

// AddTable registers a table in the manifest, replacing any entry with the
// same path
func (m *Manifest) AddTable(meta sstable.Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range m.Current.Tables {
		if t.Path == meta.Path {
			m.Current.Tables[i] = meta
			return
		}
	}
	m.Current.Tables = append(m.Current.Tables, meta)
}

// RemoveTable removes a table from the manifest
func (m *Manifest) RemoveTable(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.Current.Tables[:0]
	for _, t := range m.Current.Tables {
		if t.Path != path {
			kept = append(kept, t)
		}
	}
	m.Current.Tables = kept
}

// GetConfig returns a copy of the current configuration
func (m *Manifest) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Current.Config.Clone()
}

// GetTables returns the tables registered in the current entry
func (m *Manifest) GetTables() []sstable.Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to prevent concurrent slice access
	return append([]sstable.Metadata(nil), m.Current.Tables...)
}
