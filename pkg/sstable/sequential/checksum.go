package sequential

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// DefaultChecksumChunkSize is the span each CRC record covers
const DefaultChecksumChunkSize = 32 * 1024

// ChecksumWriter observes a sequential writer's output and produces the two
// integrity components of an uncompressed SSTable: a per-chunk checksum file
// (CRC) and a whole-file digest (DIGEST). Chunk hashes are kept in memory
// until Finish; a rollback recomputes the partial chunk from the file, so
// truncation and checksumming compose.
type ChecksumWriter struct {
	chunkSize int
	chunks    []uint64
	current   *xxhash.Digest
	inChunk   int
}

// NewChecksumWriter creates a checksum observer with the given chunk size
func NewChecksumWriter(chunkSize int) *ChecksumWriter {
	if chunkSize <= 0 {
		chunkSize = DefaultChecksumChunkSize
	}
	return &ChecksumWriter{
		chunkSize: chunkSize,
		current:   xxhash.New(),
	}
}

func (c *ChecksumWriter) observe(data []byte) {
	for len(data) > 0 {
		room := c.chunkSize - c.inChunk
		if room > len(data) {
			room = len(data)
		}
		c.current.Write(data[:room])
		c.inChunk += room
		data = data[room:]

		if c.inChunk == c.chunkSize {
			c.chunks = append(c.chunks, c.current.Sum64())
			c.current.Reset()
			c.inChunk = 0
		}
	}
}

// resetTo rebuilds the checksum state for a file rolled back to pos: complete
// chunks before pos keep their hashes, the partial chunk is re-read.
func (c *ChecksumWriter) resetTo(file *os.File, pos int64) error {
	whole := pos / int64(c.chunkSize)
	if int(whole) < len(c.chunks) {
		c.chunks = c.chunks[:whole]
	}

	c.current.Reset()
	c.inChunk = 0
	partial := pos - whole*int64(c.chunkSize)
	if partial == 0 {
		return nil
	}

	buf := make([]byte, partial)
	if _, err := file.ReadAt(buf, whole*int64(c.chunkSize)); err != nil {
		return fmt.Errorf("failed to re-read chunk for checksum reset: %w", err)
	}
	c.current.Write(buf)
	c.inChunk = int(partial)
	return nil
}

// Finish writes the CRC component for everything observed and the DIGEST
// component computed over the finished data file.
func (c *ChecksumWriter) Finish(dataPath, crcPath, digestPath string) error {
	if err := c.writeChunkFile(crcPath); err != nil {
		return err
	}
	return writeDigest(dataPath, digestPath)
}

func (c *ChecksumWriter) writeChunkFile(path string) error {
	chunks := c.chunks
	if c.inChunk > 0 {
		chunks = append(append([]uint64(nil), chunks...), c.current.Sum64())
	}

	buf := make([]byte, 8+8*len(chunks))
	binary.BigEndian.PutUint32(buf[0:4], uint32(c.chunkSize))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(chunks)))
	for i, h := range chunks {
		binary.BigEndian.PutUint64(buf[8+8*i:], h)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checksum component: %w", err)
	}
	if _, err := file.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("failed to write checksum component: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync checksum component: %w", err)
	}
	return file.Close()
}

func writeDigest(dataPath, digestPath string) error {
	data, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("failed to open data file for digest: %w", err)
	}
	defer data.Close()

	digest := xxhash.New()
	if _, err := io.Copy(digest, data); err != nil {
		return fmt.Errorf("failed to digest data file: %w", err)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], digest.Sum64())

	file, err := os.Create(digestPath)
	if err != nil {
		return fmt.Errorf("failed to create digest component: %w", err)
	}
	if _, err := file.Write(buf[:]); err != nil {
		file.Close()
		return fmt.Errorf("failed to write digest component: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync digest component: %w", err)
	}
	return file.Close()
}
