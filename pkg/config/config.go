// Package config holds the engine configuration for SSTable writing: block
// sealing thresholds, component access modes and filter/summary tuning.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrInvalidConfig indicates a configuration that fails validation
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config controls how SSTables are written. Zero values are not meaningful;
// start from NewDefaultConfig and override.
type Config struct {
	// ColumnIndexSizeBytes is the minimum atoms-region span of one row index
	// block; a block seals once it reaches this size.
	ColumnIndexSizeBytes int64 `json:"column_index_size_bytes"`

	// BloomFilterFpChance is the target false positive chance of the FILTER
	// component. A value >= 1.0 disables the filter entirely.
	BloomFilterFpChance float64 `json:"bloom_filter_fp_chance"`

	// SummaryIndexInterval samples one primary index record in this many
	// into the SUMMARY component.
	SummaryIndexInterval int `json:"summary_index_interval"`

	// DiskAccessMode and IndexAccessMode are forwarded to the segmented-file
	// boundary builders of the data and primary index files ("standard" or
	// "mmap").
	DiskAccessMode  string `json:"disk_access_mode"`
	IndexAccessMode string `json:"index_access_mode"`

	// SegmentSizeBytes is the mmap segment length of a component file: a new
	// segment starts at the first boundary candidate at least this far past
	// the previous boundary
	SegmentSizeBytes int64 `json:"segment_size_bytes"`

	// PopulateIoCacheOnFlush keeps written pages in the OS cache; when false
	// the writers advise the kernel to drop them.
	PopulateIoCacheOnFlush bool `json:"populate_io_cache_on_flush"`

	// Compression selects the data file encoding: "none" produces DIGEST and
	// CRC components, "snappy" produces COMPRESSION_INFO.
	Compression string `json:"compression"`

	// CompressionChunkSizeBytes is the uncompressed span of one compressed
	// chunk.
	CompressionChunkSizeBytes int `json:"compression_chunk_size_bytes"`

	// ChecksumChunkSizeBytes is the span each CRC record covers for
	// uncompressed tables.
	ChecksumChunkSizeBytes int `json:"checksum_chunk_size_bytes"`
}

// NewDefaultConfig returns the recommended defaults
func NewDefaultConfig() *Config {
	return &Config{
		ColumnIndexSizeBytes:      64 * 1024,
		BloomFilterFpChance:       0.01,
		SummaryIndexInterval:      128,
		DiskAccessMode:            "mmap",
		IndexAccessMode:           "mmap",
		SegmentSizeBytes:          1 << 30,
		PopulateIoCacheOnFlush:    false,
		Compression:               "none",
		CompressionChunkSizeBytes: 64 * 1024,
		ChecksumChunkSizeBytes:    32 * 1024,
	}
}

// Validate checks the configuration for usable values
func (c *Config) Validate() error {
	if c.ColumnIndexSizeBytes <= 0 {
		return fmt.Errorf("%w: column index size must be positive", ErrInvalidConfig)
	}
	if c.BloomFilterFpChance <= 0 {
		return fmt.Errorf("%w: bloom filter fp chance must be positive", ErrInvalidConfig)
	}
	if c.SummaryIndexInterval <= 0 {
		return fmt.Errorf("%w: summary index interval must be positive", ErrInvalidConfig)
	}
	if c.SegmentSizeBytes <= 0 {
		return fmt.Errorf("%w: segment size must be positive", ErrInvalidConfig)
	}
	switch c.DiskAccessMode {
	case "standard", "mmap":
	default:
		return fmt.Errorf("%w: unknown disk access mode %q", ErrInvalidConfig, c.DiskAccessMode)
	}
	switch c.IndexAccessMode {
	case "standard", "mmap":
	default:
		return fmt.Errorf("%w: unknown index access mode %q", ErrInvalidConfig, c.IndexAccessMode)
	}
	switch c.Compression {
	case "none", "snappy":
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, c.Compression)
	}
	if c.Compression == "snappy" && c.CompressionChunkSizeBytes <= 0 {
		return fmt.Errorf("%w: compression chunk size must be positive", ErrInvalidConfig)
	}
	if c.Compression == "none" && c.ChecksumChunkSizeBytes <= 0 {
		return fmt.Errorf("%w: checksum chunk size must be positive", ErrInvalidConfig)
	}
	return nil
}

// SaveConfig writes the configuration as JSON, atomically via a temp file
func SaveConfig(c *Config, path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.tmp", filepath.Base(path)))
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config: %w", err)
	}
	return nil
}

// LoadConfig reads and validates a JSON configuration
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c := NewDefaultConfig()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
