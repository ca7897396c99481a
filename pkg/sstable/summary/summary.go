// Package summary builds the in-memory sample of the primary index that a
// reader loads up front: every interval-th partition key with its offset in
// the index file.
package summary

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultIndexInterval samples one primary index record in this many
const DefaultIndexInterval = 128

// Entry is one summary sample
type Entry struct {
	Key         []byte
	IndexOffset int64
}

// Builder samples primary index records as they are appended
type Builder struct {
	interval int
	seen     int64
	entries  []Entry
}

// NewBuilder creates a builder sampling every interval-th record
func NewBuilder(interval int) *Builder {
	if interval <= 0 {
		interval = DefaultIndexInterval
	}
	return &Builder{interval: interval}
}

// MaybeAddEntry offers a record; the first of every interval is kept
func (b *Builder) MaybeAddEntry(key []byte, indexOffset int64) {
	if b.seen%int64(b.interval) == 0 {
		b.entries = append(b.entries, Entry{
			Key:         append([]byte(nil), key...),
			IndexOffset: indexOffset,
		})
	}
	b.seen++
}

// Entries returns the samples collected so far
func (b *Builder) Entries() []Entry {
	return b.entries
}

// WriteTo serializes the summary: interval, sample count, then each sample as
// a length-prefixed key and its index offset.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	var written int64

	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(b.interval))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(b.entries)))
	n, err := w.Write(header[:])
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("failed to write summary header: %w", err)
	}

	for _, e := range b.entries {
		rec := make([]byte, 2+len(e.Key)+8)
		binary.BigEndian.PutUint16(rec[0:2], uint16(len(e.Key)))
		copy(rec[2:], e.Key)
		binary.BigEndian.PutUint64(rec[2+len(e.Key):], uint64(e.IndexOffset))
		n, err := w.Write(rec)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("failed to write summary entry: %w", err)
		}
	}
	return written, nil
}

// ReadFrom deserializes a summary written by WriteTo
func ReadFrom(r io.Reader) (*Builder, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read summary header: %w", err)
	}
	interval := int(binary.BigEndian.Uint32(header[0:4]))
	count := int(binary.BigEndian.Uint32(header[4:8]))
	if interval <= 0 {
		return nil, fmt.Errorf("invalid summary interval %d", interval)
	}

	b := &Builder{interval: interval}
	for i := 0; i < count; i++ {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("failed to read summary entry %d: %w", i, err)
		}
		key := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("failed to read summary entry %d: %w", i, err)
		}
		var offBuf [8]byte
		if _, err := io.ReadFull(r, offBuf[:]); err != nil {
			return nil, fmt.Errorf("failed to read summary entry %d: %w", i, err)
		}
		b.entries = append(b.entries, Entry{
			Key:         key,
			IndexOffset: int64(binary.BigEndian.Uint64(offBuf[:])),
		})
	}
	b.seen = int64(count) * int64(interval)
	return b, nil
}
