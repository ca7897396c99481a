// Package sequential provides the append-only file writers under the SSTable
// components: a plain sequential writer with mark/reset-and-truncate support,
// an integrity layer producing digest and per-chunk checksum components, a
// snappy-compressed variant, and the segmented-file boundary builder.
package sequential

import (
	"fmt"
	"io"
	"os"
)

// Mark is an opaque position snapshot a writer can be rolled back to
type Mark struct {
	pos int64
}

// DataWriter is the sequential sink shared by the data and index files.
// FilePointer reports the logical (uncompressed) position; OnDiskFilePointer
// the physical one. The two differ only for compressed writers.
type DataWriter interface {
	io.Writer
	FilePointer() int64
	OnDiskFilePointer() int64
	Mark() Mark
	ResetAndTruncate(m Mark) error
	Sync() error
	Close() error
	Abort() error
	Path() string
}

// Writer appends to a file, tracking the write position so callers never need
// to stat or seek. An optional integrity writer observes every byte written
// and survives truncation.
type Writer struct {
	path          string
	file          *os.File
	pos           int64
	integrity     *ChecksumWriter
	populateCache bool
}

// NewWriter creates the file (truncating an existing one) and returns a
// writer positioned at zero.
func NewWriter(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &Writer{path: path, file: file, populateCache: true}, nil
}

// SetIntegrityWriter attaches a checksum observer. Must be called before the
// first write.
func (w *Writer) SetIntegrityWriter(cw *ChecksumWriter) {
	w.integrity = cw
}

// SetPopulateIoCache controls whether the written pages stay in the OS cache
// after Close; when false the kernel is advised to drop them.
func (w *Writer) SetPopulateIoCache(populate bool) {
	w.populateCache = populate
}

// Write appends data at the current position
func (w *Writer) Write(data []byte) (int, error) {
	n, err := w.file.Write(data)
	w.pos += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to write to %s: %w", w.path, err)
	}
	if w.integrity != nil {
		w.integrity.observe(data[:n])
	}
	return n, nil
}

// FilePointer returns the current write position
func (w *Writer) FilePointer() int64 { return w.pos }

// OnDiskFilePointer equals FilePointer for the uncompressed writer
func (w *Writer) OnDiskFilePointer() int64 { return w.pos }

// Mark snapshots the current position
func (w *Writer) Mark() Mark { return Mark{pos: w.pos} }

// ResetAndTruncate rolls the file back to a mark taken earlier, discarding
// everything written since.
func (w *Writer) ResetAndTruncate(m Mark) error {
	if m.pos > w.pos {
		return fmt.Errorf("cannot reset %s forward from %d to %d", w.path, w.pos, m.pos)
	}
	if err := w.file.Truncate(m.pos); err != nil {
		return fmt.Errorf("failed to truncate %s to %d: %w", w.path, m.pos, err)
	}
	if _, err := w.file.Seek(m.pos, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s to %d: %w", w.path, m.pos, err)
	}
	w.pos = m.pos
	if w.integrity != nil {
		if err := w.integrity.resetTo(w.file, m.pos); err != nil {
			return err
		}
	}
	return nil
}

// Sync flushes the file to stable storage
func (w *Writer) Sync() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", w.path, err)
	}
	return nil
}

// Close syncs and closes the file
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		w.file = nil
		return fmt.Errorf("failed to sync %s: %w", w.path, err)
	}
	if !w.populateCache {
		dropFromCache(w.file.Fd())
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Abort closes and removes the file
func (w *Writer) Abort() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", w.path, err)
	}
	return nil
}

// Path returns the file path the writer appends to
func (w *Writer) Path() string { return w.path }

// TruncateTo shrinks the file to the given length after the writer is done
// appending. The primary index writer uses this on close to drop anything
// past the last valid record.
func TruncateTo(path string, length int64) error {
	if err := os.Truncate(path, length); err != nil {
		return fmt.Errorf("failed to truncate %s to %d: %w", path, length, err)
	}
	return nil
}
