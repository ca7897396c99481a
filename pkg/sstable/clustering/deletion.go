package clustering

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// DeletionTimeSize is the fixed wire size of a DeletionTime
const DeletionTimeSize = 12

// DeletionTime is a deletion marker: the local server time the deletion was
// applied and the timestamp it shadows writes up to.
type DeletionTime struct {
	LocalDeletionTime   int32
	MarkedForDeletionAt int64
}

// LiveDeletionTime is the sentinel meaning "no deletion". It serializes to the
// same 12 bytes as any other value.
var LiveDeletionTime = DeletionTime{
	LocalDeletionTime:   math.MaxInt32,
	MarkedForDeletionAt: math.MinInt64,
}

// IsLive reports whether the value is the no-deletion sentinel
func (d DeletionTime) IsLive() bool {
	return d == LiveDeletionTime
}

// String formats the deletion time for logs
func (d DeletionTime) String() string {
	if d.IsLive() {
		return "live"
	}
	return fmt.Sprintf("deleted@%d/%d", d.MarkedForDeletionAt, d.LocalDeletionTime)
}

// MarshalDeletionTime writes the fixed 12-byte encoding into buf
func MarshalDeletionTime(buf []byte, d DeletionTime) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(d.LocalDeletionTime))
	binary.BigEndian.PutUint64(buf[4:12], uint64(d.MarkedForDeletionAt))
}

// WriteDeletionTime writes the fixed 12-byte encoding to w
func WriteDeletionTime(w io.Writer, d DeletionTime) error {
	var buf [DeletionTimeSize]byte
	MarshalDeletionTime(buf[:], d)
	n, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("failed to write deletion time: %w", err)
	}
	if n != DeletionTimeSize {
		return fmt.Errorf("wrote incomplete deletion time: %d of %d bytes", n, DeletionTimeSize)
	}
	return nil
}

// DecodeDeletionTime reads a deletion time from buf at off and returns it with
// the offset just past it.
func DecodeDeletionTime(buf []byte, off int) (DeletionTime, int, error) {
	if off+DeletionTimeSize > len(buf) {
		return DeletionTime{}, off, fmt.Errorf("%w: deletion time at offset %d", ErrTruncated, off)
	}
	d := DeletionTime{
		LocalDeletionTime:   int32(binary.BigEndian.Uint32(buf[off : off+4])),
		MarkedForDeletionAt: int64(binary.BigEndian.Uint64(buf[off+4 : off+12])),
	}
	return d, off + DeletionTimeSize, nil
}
