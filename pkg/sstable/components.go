// Package sstable assembles the write pipeline of one sorted string table:
// the partition appender driving the row index builder, the primary index
// writer feeding the Bloom filter and summary, and the component lifecycle
// from temporary files to the committed table.
package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Component identifies one file of an SSTable
type Component string

const (
	// ComponentData is the partition data file
	ComponentData Component = "Data"
	// ComponentPrimaryIndex is the partition key index file
	ComponentPrimaryIndex Component = "Index"
	// ComponentStats holds the table's metadata aggregates
	ComponentStats Component = "Stats"
	// ComponentSummary is the sampled index loaded at open
	ComponentSummary Component = "Summary"
	// ComponentTOC lists the table's components
	ComponentTOC Component = "TOC"
	// ComponentFilter is the Bloom filter over partition keys
	ComponentFilter Component = "Filter"
	// ComponentCompressionInfo maps compressed chunks of the data file
	ComponentCompressionInfo Component = "CompressionInfo"
	// ComponentDigest is the whole-file checksum of the data file
	ComponentDigest Component = "Digest"
	// ComponentCRC holds per-chunk checksums of the data file
	ComponentCRC Component = "CRC"
)

// Descriptor names one SSTable: its directory, table name and generation
type Descriptor struct {
	Dir        string
	Table      string
	Generation int
}

// FilenameFor returns the final path of a component
func (d Descriptor) FilenameFor(c Component) string {
	return filepath.Join(d.Dir, fmt.Sprintf("%s-%d-%s.db", d.Table, d.Generation, c))
}

// TempFilenameFor returns the in-progress path of a component. Temporary
// names carry a tmp marker so a crashed write never masquerades as a table.
func (d Descriptor) TempFilenameFor(c Component) string {
	return filepath.Join(d.Dir, fmt.Sprintf("%s-%d-tmp-%s.db", d.Table, d.Generation, c))
}

// LockFilename returns the path of the writer's directory lock
func (d Descriptor) LockFilename() string {
	return filepath.Join(d.Dir, fmt.Sprintf("%s-%d.lock", d.Table, d.Generation))
}

// String formats the descriptor for logs
func (d Descriptor) String() string {
	return fmt.Sprintf("%s-%d(%s)", d.Table, d.Generation, d.Dir)
}

// writeTOC writes the table-of-contents component listing every component of
// the finished table, itself included.
func writeTOC(path string, components []Component) error {
	names := make([]string, 0, len(components))
	for _, c := range components {
		names = append(names, string(c))
	}
	sort.Strings(names)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create TOC: %w", err)
	}
	if _, err := file.WriteString(strings.Join(names, "\n") + "\n"); err != nil {
		file.Close()
		return fmt.Errorf("failed to write TOC: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync TOC: %w", err)
	}
	return file.Close()
}
