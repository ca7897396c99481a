package rowindex

import (
	"errors"
	"fmt"

	"github.com/StrataDB/strata/pkg/sstable/clustering"
)

var (
	// ErrNotIndexed is returned for operations that require an indexed entry
	ErrNotIndexed = errors.New("row index entry carries no block index")
	// ErrVersionMismatch indicates an on-disk format that is neither
	// native-compatible nor transcodable
	ErrVersionMismatch = errors.New("unsupported row index version")
)

// Entry is a primary-index record for one partition. The bare variant carries
// only the partition's data file position; the indexed variant additionally
// carries the partition-level deletion and a serialized list of block
// descriptors with lazy random access.
type Entry interface {
	// Position is the partition's start offset in the data file
	Position() int64
	// IsIndexed reports whether the entry carries block descriptors and the
	// partition-level deletion; when false, callers read those from the
	// partition header in the data file.
	IsIndexed() bool
	// DeletionTime returns the partition-level deletion carried by an indexed
	// entry, or ErrNotIndexed for the bare variant.
	DeletionTime() (clustering.DeletionTime, error)
	// ColumnsCount is the number of index blocks; zero for the bare variant
	ColumnsCount() int
	// IndexInfo returns the i-th block descriptor
	IndexInfo(i int) (IndexInfo, error)
	// IndexOf returns the index of the block in which a scan starting at name
	// should begin. lastIndex is a monotonically advancing hint from the
	// caller narrowing the search window. A reversed scan returns -1 when name
	// sorts before the first block; a forward scan past the last block
	// returns the last block.
	IndexOf(name clustering.Prefix, cmp *clustering.Comparator, reversed bool, lastIndex int) (int, error)
	// NativeSize is the entry's serialized size in bytes
	NativeSize() int
}

// BareEntry is the unindexed variant: just the partition's position
type BareEntry struct {
	position int64
}

// NewBareEntry creates a bare entry at the given data file position
func NewBareEntry(position int64) *BareEntry {
	return &BareEntry{position: position}
}

// Position returns the partition's data file position
func (e *BareEntry) Position() int64 { return e.position }

// IsIndexed returns false
func (e *BareEntry) IsIndexed() bool { return false }

// DeletionTime returns ErrNotIndexed; the partition header holds the deletion
func (e *BareEntry) DeletionTime() (clustering.DeletionTime, error) {
	return clustering.DeletionTime{}, ErrNotIndexed
}

// ColumnsCount returns 0
func (e *BareEntry) ColumnsCount() int { return 0 }

// IndexInfo always fails for the bare variant
func (e *BareEntry) IndexInfo(i int) (IndexInfo, error) {
	return IndexInfo{}, fmt.Errorf("%w: block %d requested", ErrNotIndexed, i)
}

// IndexOf degenerates to the empty search window
func (e *BareEntry) IndexOf(name clustering.Prefix, cmp *clustering.Comparator, reversed bool, lastIndex int) (int, error) {
	return searchBlocks(e, name, cmp, reversed, lastIndex)
}

// NativeSize is position plus the zero-length payload marker
func (e *BareEntry) NativeSize() int { return 12 }

// searchBlocks is the binary search shared by both variants. Forward scans
// compare the probe against block lastNames and answer "first block whose
// lastName >= name"; reversed scans compare firstNames and answer "last block
// whose firstName <= name". On a miss, forward therefore yields the block
// containing or following name (clamped to the last block when name sorts
// after every block) and reversed the block containing or preceding it (-1
// when name sorts before every block).
func searchBlocks(e Entry, name clustering.Prefix, cmp *clustering.Comparator, reversed bool, lastIndex int) (int, error) {
	probe := IndexInfo{FirstName: name, LastName: name}

	size := e.ColumnsCount()
	startIdx, endIdx := 0, size
	if reversed {
		if lastIndex < size-1 {
			endIdx = lastIndex + 1
		}
	} else {
		if lastIndex > 0 {
			startIdx = lastIndex
		}
	}

	idx, err := binarySearchBlocks(e, probe, cmp, reversed, startIdx, endIdx)
	if err != nil {
		return 0, err
	}
	if idx < 0 {
		if reversed {
			return -idx - 2, nil
		}
		ins := -idx - 1
		if ins >= size && size > 0 {
			// past the last block's lastName: clamp to the last block
			return size - 1, nil
		}
		return ins, nil
	}
	return idx, nil
}

func binarySearchBlocks(e Entry, probe IndexInfo, cmp *clustering.Comparator, reversed bool, fromIndex, toIndex int) (int, error) {
	low, high := fromIndex, toIndex-1

	for low <= high {
		mid := int(uint(low+high) >> 1)
		midVal, err := e.IndexInfo(mid)
		if err != nil {
			return 0, err
		}

		var c int
		if reversed {
			c = cmp.Compare(midVal.FirstName, probe.FirstName)
		} else {
			c = cmp.Compare(midVal.LastName, probe.LastName)
		}

		switch {
		case c < 0:
			low = mid + 1
		case c > 0:
			high = mid - 1
		default:
			return mid, nil
		}
	}
	return -(low + 1), nil
}
