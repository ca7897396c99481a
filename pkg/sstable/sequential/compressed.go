package sequential

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/snappy"
)

// DefaultCompressionChunkSize is the uncompressed span of one snappy chunk
const DefaultCompressionChunkSize = 64 * 1024

// CompressedWriter is a DataWriter compressing its output in fixed-size
// snappy chunks. FilePointer reports the logical (uncompressed) position, so
// row index offsets and widths are identical whether or not the table is
// compressed; OnDiskFilePointer reports the physical position. Each chunk is
// written as a u32 compressed length followed by the snappy block; chunk
// start offsets become the COMPRESSION_INFO component.
type CompressedWriter struct {
	path          string
	file          *os.File
	chunkSize     int
	populateCache bool

	buf          []byte  // current uncompressed chunk, < chunkSize after Write returns
	flushed      int64   // uncompressed bytes already compressed to disk
	diskPos      int64   // physical write position
	chunkOffsets []int64 // disk offset of each flushed chunk
}

// NewCompressedWriter creates the file and returns a writer with the given
// uncompressed chunk size.
func NewCompressedWriter(path string, chunkSize int) (*CompressedWriter, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultCompressionChunkSize
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &CompressedWriter{
		path:          path,
		file:          file,
		chunkSize:     chunkSize,
		populateCache: true,
		buf:           make([]byte, 0, chunkSize),
	}, nil
}

// SetPopulateIoCache controls whether the written pages stay in the OS cache
// after Close; when false the kernel is advised to drop them.
func (w *CompressedWriter) SetPopulateIoCache(populate bool) {
	w.populateCache = populate
}

// Write buffers data and flushes every completed chunk
func (w *CompressedWriter) Write(data []byte) (int, error) {
	total := len(data)
	for len(data) > 0 {
		room := w.chunkSize - len(w.buf)
		if room > len(data) {
			room = len(data)
		}
		w.buf = append(w.buf, data[:room]...)
		data = data[room:]

		if len(w.buf) == w.chunkSize {
			if err := w.flushChunk(); err != nil {
				return total - len(data), err
			}
		}
	}
	return total, nil
}

func (w *CompressedWriter) flushChunk() error {
	compressed := snappy.Encode(nil, w.buf)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
	if _, err := w.file.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write chunk header to %s: %w", w.path, err)
	}
	if _, err := w.file.Write(compressed); err != nil {
		return fmt.Errorf("failed to write chunk to %s: %w", w.path, err)
	}

	w.chunkOffsets = append(w.chunkOffsets, w.diskPos)
	w.diskPos += int64(4 + len(compressed))
	w.flushed += int64(len(w.buf))
	w.buf = w.buf[:0]
	return nil
}

// FilePointer returns the logical uncompressed position
func (w *CompressedWriter) FilePointer() int64 {
	return w.flushed + int64(len(w.buf))
}

// OnDiskFilePointer returns the physical position in the compressed file
func (w *CompressedWriter) OnDiskFilePointer() int64 {
	return w.diskPos
}

// Mark snapshots the logical position
func (w *CompressedWriter) Mark() Mark {
	return Mark{pos: w.FilePointer()}
}

// ResetAndTruncate rolls back to a mark. A mark inside the buffered tail just
// shortens the buffer; a mark inside a flushed chunk re-reads and decompresses
// that chunk, truncates the file to the chunk start and re-buffers the prefix.
func (w *CompressedWriter) ResetAndTruncate(m Mark) error {
	target := m.pos
	if target > w.FilePointer() {
		return fmt.Errorf("cannot reset %s forward from %d to %d", w.path, w.FilePointer(), target)
	}

	if target >= w.flushed {
		w.buf = w.buf[:target-w.flushed]
		return nil
	}

	chunkIdx := target / int64(w.chunkSize)
	chunkStart := chunkIdx * int64(w.chunkSize)

	var within []byte
	if target > chunkStart {
		chunk, err := w.readChunk(int(chunkIdx))
		if err != nil {
			return err
		}
		within = chunk[:target-chunkStart]
	}

	diskStart := w.chunkOffsets[chunkIdx]
	if err := w.file.Truncate(diskStart); err != nil {
		return fmt.Errorf("failed to truncate %s to %d: %w", w.path, diskStart, err)
	}
	if _, err := w.file.Seek(diskStart, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s to %d: %w", w.path, diskStart, err)
	}

	w.chunkOffsets = w.chunkOffsets[:chunkIdx]
	w.diskPos = diskStart
	w.flushed = chunkStart
	w.buf = append(w.buf[:0], within...)
	return nil
}

func (w *CompressedWriter) readChunk(idx int) ([]byte, error) {
	start := w.chunkOffsets[idx]
	var lenBuf [4]byte
	if _, err := w.file.ReadAt(lenBuf[:], start); err != nil {
		return nil, fmt.Errorf("failed to read chunk header from %s: %w", w.path, err)
	}
	clen := binary.BigEndian.Uint32(lenBuf[:])

	compressed := make([]byte, clen)
	if _, err := w.file.ReadAt(compressed, start+4); err != nil {
		return nil, fmt.Errorf("failed to read chunk from %s: %w", w.path, err)
	}
	chunk, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress chunk %d of %s: %w", idx, w.path, err)
	}
	return chunk, nil
}

// Sync flushes the file to stable storage
func (w *CompressedWriter) Sync() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", w.path, err)
	}
	return nil
}

// Close flushes the partial chunk, syncs and closes the file
func (w *CompressedWriter) Close() error {
	if w.file == nil {
		return nil
	}
	if len(w.buf) > 0 {
		if err := w.flushChunk(); err != nil {
			w.file.Close()
			w.file = nil
			return err
		}
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
func (w *CompressedWriter) Abort() error {
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
func (w *CompressedWriter) Path() string { return w.path }

// WriteCompressionInfo writes the COMPRESSION_INFO component: chunk size,
// uncompressed data length and the disk offset of every chunk, with a
// trailing checksum of the record itself. Call after Close.
func (w *CompressedWriter) WriteCompressionInfo(path string) error {
	buf := make([]byte, 16+8*len(w.chunkOffsets)+8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(w.chunkSize))
	binary.BigEndian.PutUint64(buf[4:12], uint64(w.flushed))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(w.chunkOffsets)))
	for i, off := range w.chunkOffsets {
		binary.BigEndian.PutUint64(buf[16+8*i:], uint64(off))
	}
	payloadEnd := len(buf) - 8
	binary.BigEndian.PutUint64(buf[payloadEnd:], xxhash.Sum64(buf[:payloadEnd]))

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create compression info component: %w", err)
	}
	if _, err := file.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("failed to write compression info component: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync compression info component: %w", err)
	}
	return file.Close()
}
