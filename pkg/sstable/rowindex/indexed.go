package rowindex

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/StrataDB/strata/pkg/sstable/clustering"
)

// payloadHeaderSize is the partition deletion plus the block count field
const payloadHeaderSize = clustering.DeletionTimeSize + 4

// IndexedEntry is the column-indexed variant. The payload layout is
// partitionDeletion(12) || columnsCount(i32) || IndexInfo records, always in
// the latest format version. The payload is immutable and safe to share; the
// only mutable state is the offset memoization and a one-slot decode cache,
// guarded by a per-entry mutex so concurrent readers never observe a
// half-initialized descriptor. offsets[i] only ever transitions from zero to
// the start offset of record i.
type IndexedEntry struct {
	position int64
	payload  []byte
	codec    *IndexInfoCodec

	mu           sync.Mutex
	offsets      []int32
	currentIndex int
	currentInfo  IndexInfo
}

// NewIndexedEntry wraps a latest-version payload buffer. The payload must
// carry at least the partition deletion and block count header.
func NewIndexedEntry(position int64, payload []byte, codec *IndexInfoCodec) (*IndexedEntry, error) {
	if len(payload) < payloadHeaderSize {
		return nil, fmt.Errorf("%w: row index payload of %d bytes", clustering.ErrTruncated, len(payload))
	}
	count := int(int32(binary.BigEndian.Uint32(payload[clustering.DeletionTimeSize:payloadHeaderSize])))
	if count < 2 {
		return nil, fmt.Errorf("%w: indexed entry with %d blocks", clustering.ErrMalformed, count)
	}
	return &IndexedEntry{
		position:     position,
		payload:      payload,
		codec:        codec,
		offsets:      make([]int32, count),
		currentIndex: -1,
	}, nil
}

// Position returns the partition's data file position
func (e *IndexedEntry) Position() int64 { return e.position }

// IsIndexed returns true
func (e *IndexedEntry) IsIndexed() bool { return true }

// DeletionTime decodes the partition-level deletion from the payload head
func (e *IndexedEntry) DeletionTime() (clustering.DeletionTime, error) {
	d, _, err := clustering.DecodeDeletionTime(e.payload, 0)
	return d, err
}

// ColumnsCount reads the block count field
func (e *IndexedEntry) ColumnsCount() int {
	return int(int32(binary.BigEndian.Uint32(e.payload[clustering.DeletionTimeSize:payloadHeaderSize])))
}

// IndexInfo returns the i-th block descriptor, decoding lazily. Callers tend
// to hit the same index repeatedly and otherwise advance nearly in order, so
// the one-slot cache and the memoized record offsets make repeated access
// O(1) and a first-time jump proportional to its distance from the nearest
// known record.
func (e *IndexedEntry) IndexInfo(i int) (IndexInfo, error) {
	if i < 0 || i >= len(e.offsets) {
		return IndexInfo{}, fmt.Errorf("row index block %d out of range [0,%d)", i, len(e.offsets))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if i == e.currentIndex {
		return e.currentInfo, nil
	}

	off := int(e.offsets[i])
	if off == 0 {
		// Walk forward from the last record whose offset is already known,
		// skipping records without materializing them.
		j := 0
		for j < i && e.offsets[j] != 0 {
			j++
		}
		if j == 0 {
			off = payloadHeaderSize
		} else {
			j--
			off = int(e.offsets[j])
		}

		for ; ; j++ {
			e.offsets[j] = int32(off)
			if j == i {
				break
			}
			next, err := e.codec.Skip(e.payload, off)
			if err != nil {
				return IndexInfo{}, fmt.Errorf("failed to skip row index block %d: %w", j, err)
			}
			off = next
		}
	}

	info, next, err := e.codec.Decode(e.payload, off)
	if err != nil {
		return IndexInfo{}, fmt.Errorf("failed to decode row index block %d: %w", i, err)
	}
	if i+1 < len(e.offsets) {
		e.offsets[i+1] = int32(next)
	}

	e.currentIndex = i
	e.currentInfo = info
	return info, nil
}

// IndexOf returns the block in which a scan starting at name should begin
func (e *IndexedEntry) IndexOf(name clustering.Prefix, cmp *clustering.Comparator, reversed bool, lastIndex int) (int, error) {
	return searchBlocks(e, name, cmp, reversed, lastIndex)
}

// NativeSize is position, payload length field and payload
func (e *IndexedEntry) NativeSize() int { return 12 + len(e.payload) }

// payloadBytes exposes the raw payload to the wire serializer
func (e *IndexedEntry) payloadBytes() []byte { return e.payload }
