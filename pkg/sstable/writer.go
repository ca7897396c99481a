package sstable

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/StrataDB/strata/pkg/common/log"
	"github.com/StrataDB/strata/pkg/config"
	"github.com/StrataDB/strata/pkg/sstable/atom"
	"github.com/StrataDB/strata/pkg/sstable/clustering"
	"github.com/StrataDB/strata/pkg/sstable/rowindex"
	"github.com/StrataDB/strata/pkg/sstable/sequential"
)

// MaxKeyLength is the largest partition key the 16-bit length prefix admits
const MaxKeyLength = 0xFFFF

var (
	// ErrOrderViolation indicates an appended key not strictly greater than
	// the previous one. It is fatal to the table being written.
	ErrOrderViolation = errors.New("partition keys must be appended in strictly increasing order")
	// ErrKeyTooLarge indicates a partition key beyond MaxKeyLength. The
	// partition is skipped; the writer remains usable.
	ErrKeyTooLarge = errors.New("partition key exceeds maximum length")
	// ErrWriterLocked indicates another writer holds the table's directory lock
	ErrWriterLocked = errors.New("sstable directory is locked by another writer")
)

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// Options tune a Writer beyond the engine configuration
type Options struct {
	// Logger receives skip and cleanup diagnostics; defaults to the process logger
	Logger log.Logger
	// Metrics receives operational counters; defaults to a process-wide
	// registry-backed instance.
	Metrics *Metrics
	// ExpectedKeys sizes the Bloom filter; defaults to 1024
	ExpectedKeys int64
}

// Writer streams sorted partitions into one SSTable. It owns every component
// file for its lifetime and is single-owner: a given writer is driven by
// exactly one goroutine, and cross-partition key ordering is the caller's
// contract.
type Writer struct {
	desc    Descriptor
	cfg     *config.Config
	schema  *clustering.Schema
	logger  log.Logger
	metrics *Metrics

	lock       *flock.Flock
	dataFile   sequential.DataWriter
	checksums  *sequential.ChecksumWriter
	compressed *sequential.CompressedWriter
	boundaries *sequential.BoundaryBuilder
	iwriter    *IndexWriter
	stats      *StatsCollector

	firstKey *PartitionKey
	lastKey  *PartitionKey
	dataMark sequential.Mark

	closed bool
}

// NewWriter opens a writer for the described table. The directory is locked
// for the writer's lifetime; all components are written under temporary names
// and only renamed by Close.
func NewWriter(desc Descriptor, schema *clustering.Schema, cfg *config.Config, opts *Options) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
		})
		metrics = defaultMetrics
	}
	expectedKeys := opts.ExpectedKeys
	if expectedKeys <= 0 {
		expectedKeys = 1024
	}

	if err := os.MkdirAll(desc.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sstable directory: %w", err)
	}

	lock := flock.New(desc.LockFilename())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock sstable directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrWriterLocked, desc.Dir)
	}

	w := &Writer{
		desc:    desc,
		cfg:     cfg,
		schema:  schema,
		logger:  logger.WithField("sstable", desc.String()),
		metrics: metrics,
		lock:    lock,
		stats:   NewStatsCollector(),
	}

	if err := w.openDataFile(); err != nil {
		w.releaseLock()
		return nil, err
	}

	diskMode, err := sequential.ParseAccessMode(cfg.DiskAccessMode)
	if err != nil {
		w.dataFile.Abort()
		w.releaseLock()
		return nil, err
	}
	w.boundaries = sequential.NewBoundaryBuilder(diskMode, cfg.SegmentSizeBytes)

	iw, err := newIndexWriter(desc, cfg, schema, expectedKeys)
	if err != nil {
		w.dataFile.Abort()
		w.releaseLock()
		return nil, err
	}
	w.iwriter = iw
	return w, nil
}

func (w *Writer) openDataFile() error {
	path := w.desc.TempFilenameFor(ComponentData)
	if w.cfg.Compression == "snappy" {
		cw, err := sequential.NewCompressedWriter(path, w.cfg.CompressionChunkSizeBytes)
		if err != nil {
			return err
		}
		cw.SetPopulateIoCache(w.cfg.PopulateIoCacheOnFlush)
		w.compressed = cw
		w.dataFile = cw
		return nil
	}

	sw, err := sequential.NewWriter(path)
	if err != nil {
		return err
	}
	sw.SetPopulateIoCache(w.cfg.PopulateIoCacheOnFlush)
	w.checksums = sequential.NewChecksumWriter(w.cfg.ChecksumChunkSizeBytes)
	sw.SetIntegrityWriter(w.checksums)
	w.dataFile = sw
	return nil
}

// components returns the component set this writer produces
func (w *Writer) components() []Component {
	components := []Component{
		ComponentData, ComponentPrimaryIndex, ComponentStats,
		ComponentSummary, ComponentTOC,
	}
	if w.cfg.BloomFilterFpChance < 1.0 {
		components = append(components, ComponentFilter)
	}
	if w.cfg.Compression == "snappy" {
		components = append(components, ComponentCompressionInfo)
	} else {
		components = append(components, ComponentDigest, ComponentCRC)
	}
	return components
}

// mark snapshots both files before a partition
func (w *Writer) mark() {
	w.dataMark = w.dataFile.Mark()
	w.iwriter.Mark()
}

// resetAndTruncate rolls both files back to the pre-partition snapshot
func (w *Writer) resetAndTruncate() error {
	if err := w.dataFile.ResetAndTruncate(w.dataMark); err != nil {
		return err
	}
	return w.iwriter.ResetAndTruncate()
}

// Append writes one partition: key ordering is asserted, the row index
// builder streams the atoms to the data file, and the resulting entry is
// recorded in the primary index. Returns the entry describing the partition.
//
// A key longer than MaxKeyLength skips the partition with ErrKeyTooLarge; the
// writer stays usable. Any I/O failure rolls both files back to their
// pre-partition marks before propagating.
func (w *Writer) Append(key PartitionKey, partitionDeletion clustering.DeletionTime,
	staticRow *atom.Row, stream atom.Stream) (rowindex.Entry, error) {

	if len(key.Key) > MaxKeyLength {
		w.logger.Error("key size %d exceeds maximum of %d, skipping partition", len(key.Key), MaxKeyLength)
		w.metrics.PartitionsSkipped.Inc()
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key.Key))
	}
	if w.lastKey != nil && w.lastKey.Compare(key) >= 0 {
		return nil, fmt.Errorf("%w: last written key %x, appended key %x",
			ErrOrderViolation, w.lastKey.Key, key.Key)
	}

	w.mark()
	position := w.dataFile.FilePointer()

	builder, err := rowindex.NewBuilder(position, key.Key, partitionDeletion,
		staticRow, stream, w.dataFile, w.schema, w.cfg.ColumnIndexSizeBytes)
	if err != nil {
		return nil, err
	}

	entry, err := builder.Build()
	if err != nil {
		if truncErr := w.resetAndTruncate(); truncErr != nil {
			w.logger.Error("failed to roll back partition: %v", truncErr)
		}
		return nil, err
	}

	if err := w.iwriter.Append(key, entry); err != nil {
		if truncErr := w.resetAndTruncate(); truncErr != nil {
			w.logger.Error("failed to roll back partition: %v", truncErr)
		}
		return nil, err
	}

	k := key
	w.lastKey = &k
	if w.firstKey == nil {
		w.firstKey = &k
	}
	w.boundaries.AddPotentialBoundary(position)

	partitionSize := w.dataFile.FilePointer() - position
	minTs, maxTs := builder.MinTimestamp(), builder.MaxTimestamp()
	if !partitionDeletion.IsLive() {
		if partitionDeletion.MarkedForDeletionAt < minTs {
			minTs = partitionDeletion.MarkedForDeletionAt
		}
		if partitionDeletion.MarkedForDeletionAt > maxTs {
			maxTs = partitionDeletion.MarkedForDeletionAt
		}
	}
	w.stats.Update(partitionSize, builder.WrittenAtoms(), partitionDeletion.LocalDeletionTime, minTs, maxTs)
	w.metrics.PartitionsAppended.Inc()
	w.metrics.BlocksSealed.Add(float64(entry.ColumnsCount()))
	w.metrics.BytesWritten.Add(float64(partitionSize))
	return entry, nil
}

// First returns the first appended key, or nil before any append
func (w *Writer) First() *PartitionKey { return w.firstKey }

// Last returns the most recently appended key, or nil before any append
func (w *Writer) Last() *PartitionKey { return w.lastKey }

// FilePointer returns the data file's logical write position
func (w *Writer) FilePointer() int64 {
	return w.dataFile.FilePointer()
}

// Close commits the table: seals every component under its temporary name,
// then renames them all to their final names with DATA last, so a visible
// data file means a completely committed table.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.iwriter.Close(); err != nil {
		return err
	}
	if err := w.dataFile.Close(); err != nil {
		return err
	}

	if w.compressed != nil {
		if err := w.compressed.WriteCompressionInfo(w.desc.TempFilenameFor(ComponentCompressionInfo)); err != nil {
			return err
		}
	} else {
		if err := w.checksums.Finish(
			w.desc.TempFilenameFor(ComponentData),
			w.desc.TempFilenameFor(ComponentCRC),
			w.desc.TempFilenameFor(ComponentDigest)); err != nil {
			return err
		}
	}

	if w.firstKey != nil {
		w.stats.SetKeys(w.firstKey.Key, w.lastKey.Key)
	}
	if err := w.stats.WriteTo(w.desc.TempFilenameFor(ComponentStats)); err != nil {
		return err
	}

	components := w.components()
	if err := writeTOC(w.desc.TempFilenameFor(ComponentTOC), components); err != nil {
		return err
	}

	// Rename DATA last: its presence under the final name is the commit marker
	for _, c := range components {
		if c == ComponentData {
			continue
		}
		if err := os.Rename(w.desc.TempFilenameFor(c), w.desc.FilenameFor(c)); err != nil {
			return fmt.Errorf("failed to commit component %s: %w", c, err)
		}
	}
	if err := os.Rename(w.desc.TempFilenameFor(ComponentData), w.desc.FilenameFor(ComponentData)); err != nil {
		return fmt.Errorf("failed to commit component %s: %w", ComponentData, err)
	}

	w.metrics.TablesCommitted.Inc()
	w.releaseLock()
	return nil
}

// Abort discards the table: every temporary component file is deleted and
// the filter resources are released. Safe to call after a failed Append.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	if err := w.iwriter.Abort(); err != nil {
		firstErr = err
	}
	if err := w.dataFile.Abort(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, c := range w.components() {
		if err := os.Remove(w.desc.TempFilenameFor(c)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}

	w.metrics.TablesAborted.Inc()
	w.releaseLock()
	return firstErr
}

func (w *Writer) releaseLock() {
	if w.lock == nil {
		return
	}
	if err := w.lock.Unlock(); err != nil {
		w.logger.Error("failed to release sstable directory lock: %v", err)
	}
	os.Remove(w.desc.LockFilename())
	w.lock = nil
}
