package sstable

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"
)

// StatsCollector accumulates the per-table aggregates that land in the STATS
// component: partition and atom counts, byte totals, the write-timestamp and
// deletion-time extremes a reader needs for tombstone-aware planning, and the
// table's first and last partition keys.
type StatsCollector struct {
	partitions       int64
	atoms            int64
	atomBytes        int64
	maxPartitionSize int64
	minDeletionTime  int32
	maxDeletionTime  int32
	minTimestamp     int64
	maxTimestamp     int64
	firstKey         []byte
	lastKey          []byte
}

// NewStatsCollector creates an empty collector
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		minDeletionTime: math.MaxInt32,
		maxDeletionTime: math.MinInt32,
		minTimestamp:    math.MaxInt64,
		maxTimestamp:    math.MinInt64,
	}
}

// Update records one appended partition. The live deletion sentinel is not
// folded into the deletion-time extremes; an empty timestamp range
// (min > max) leaves the timestamp extremes untouched.
func (s *StatsCollector) Update(partitionSize int64, atoms int, localDeletionTime int32,
	minTimestamp, maxTimestamp int64) {

	s.partitions++
	s.atoms += int64(atoms)
	s.atomBytes += partitionSize
	if partitionSize > s.maxPartitionSize {
		s.maxPartitionSize = partitionSize
	}

	if localDeletionTime < math.MaxInt32 {
		if localDeletionTime < s.minDeletionTime {
			s.minDeletionTime = localDeletionTime
		}
		if localDeletionTime > s.maxDeletionTime {
			s.maxDeletionTime = localDeletionTime
		}
	}

	if minTimestamp <= maxTimestamp {
		if minTimestamp < s.minTimestamp {
			s.minTimestamp = minTimestamp
		}
		if maxTimestamp > s.maxTimestamp {
			s.maxTimestamp = maxTimestamp
		}
	}
}

// SetKeys records the table's first and last partition keys before the
// component is written.
func (s *StatsCollector) SetKeys(first, last []byte) {
	s.firstKey = append([]byte(nil), first...)
	s.lastKey = append([]byte(nil), last...)
}

// Partitions returns the number of partitions recorded
func (s *StatsCollector) Partitions() int64 { return s.partitions }

// WriteTo writes the STATS component: the fixed aggregates, the
// length-prefixed first and last keys, and a trailing checksum.
func (s *StatsCollector) WriteTo(path string) error {
	buf := make([]byte, 0, 64+len(s.firstKey)+len(s.lastKey))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.partitions))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.atoms))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.atomBytes))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.maxPartitionSize))
	buf = binary.BigEndian.AppendUint32(buf, uint32(s.minDeletionTime))
	buf = binary.BigEndian.AppendUint32(buf, uint32(s.maxDeletionTime))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.minTimestamp))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.maxTimestamp))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s.firstKey)))
	buf = append(buf, s.firstKey...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s.lastKey)))
	buf = append(buf, s.lastKey...)
	buf = binary.BigEndian.AppendUint64(buf, xxhash.Sum64(buf))

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create stats component: %w", err)
	}
	if _, err := file.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("failed to write stats component: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync stats component: %w", err)
	}
	return file.Close()
}
