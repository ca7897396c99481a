package sstable

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/StrataDB/strata/pkg/config"
	"github.com/StrataDB/strata/pkg/sstable/clustering"
	"github.com/StrataDB/strata/pkg/sstable/filter"
	"github.com/StrataDB/strata/pkg/sstable/rowindex"
	"github.com/StrataDB/strata/pkg/sstable/sequential"
	"github.com/StrataDB/strata/pkg/sstable/summary"
)

// IndexWriter writes the primary index: one (key, RowIndexEntry) record per
// partition. It feeds the Bloom filter and the index summary as a side effect
// of every append and offers the index file's positions to the segmented-file
// boundary builder. Its public state is not valid until Close.
type IndexWriter struct {
	desc       Descriptor
	file       *sequential.Writer
	boundaries *sequential.BoundaryBuilder
	summary    *summary.Builder
	bf         *filter.BloomFilter
	serializer *rowindex.EntrySerializer
	mark       sequential.Mark
}

func newIndexWriter(desc Descriptor, cfg *config.Config, schema *clustering.Schema, expectedKeys int64) (*IndexWriter, error) {
	file, err := sequential.NewWriter(desc.TempFilenameFor(ComponentPrimaryIndex))
	if err != nil {
		return nil, err
	}
	file.SetPopulateIoCache(cfg.PopulateIoCacheOnFlush)

	mode, err := sequential.ParseAccessMode(cfg.IndexAccessMode)
	if err != nil {
		file.Abort()
		return nil, err
	}

	serializer, err := rowindex.NewEntrySerializer(rowindex.LatestVersion, schema)
	if err != nil {
		file.Abort()
		return nil, err
	}

	iw := &IndexWriter{
		desc:       desc,
		file:       file,
		boundaries: sequential.NewBoundaryBuilder(mode, cfg.SegmentSizeBytes),
		summary:    summary.NewBuilder(cfg.SummaryIndexInterval),
		serializer: serializer,
	}
	if cfg.BloomFilterFpChance < 1.0 {
		iw.bf = filter.NewBloomFilter(expectedKeys, cfg.BloomFilterFpChance)
	}
	return iw, nil
}

// Append writes one primary index record and updates the filter and summary
func (iw *IndexWriter) Append(key PartitionKey, entry rowindex.Entry) error {
	if iw.bf != nil {
		iw.bf.Add(key.Key)
	}

	indexPosition := iw.file.FilePointer()

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(key.Key)))
	if _, err := iw.file.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := iw.file.Write(key.Key); err != nil {
		return err
	}
	if err := iw.serializer.Serialize(entry, iw.file); err != nil {
		return err
	}

	iw.summary.MaybeAddEntry(key.Key, indexPosition)
	iw.boundaries.AddPotentialBoundary(indexPosition)
	return nil
}

// FilePointer returns the index file's current write position
func (iw *IndexWriter) FilePointer() int64 {
	return iw.file.FilePointer()
}

// Mark snapshots the index file position for a partition-level rollback
func (iw *IndexWriter) Mark() {
	iw.mark = iw.file.Mark()
}

// ResetAndTruncate rolls the index file back to the last mark. The Bloom
// filter addition cannot be unset; the extra key is a harmless false
// positive.
func (iw *IndexWriter) ResetAndTruncate() error {
	return iw.file.ResetAndTruncate(iw.mark)
}

// Close seals the filter and summary components and closes the index file,
// truncating it to the last valid record.
func (iw *IndexWriter) Close() error {
	if iw.bf != nil {
		if err := writeFilterComponent(iw.bf, iw.desc.TempFilenameFor(ComponentFilter)); err != nil {
			return err
		}
	}

	if err := writeSummaryComponent(iw.summary, iw.desc.TempFilenameFor(ComponentSummary)); err != nil {
		return err
	}

	position := iw.file.FilePointer()
	path := iw.file.Path()
	if err := iw.file.Close(); err != nil {
		return err
	}
	return sequential.TruncateTo(path, position)
}

// Abort discards the index file and releases the filter
func (iw *IndexWriter) Abort() error {
	iw.bf = nil
	return iw.file.Abort()
}

func writeFilterComponent(bf *filter.BloomFilter, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create filter component: %w", err)
	}
	if _, err := bf.WriteTo(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync filter component: %w", err)
	}
	return file.Close()
}

func writeSummaryComponent(sb *summary.Builder, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary component: %w", err)
	}
	if _, err := sb.WriteTo(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync summary component: %w", err)
	}
	return file.Close()
}
