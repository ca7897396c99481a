package rowindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/StrataDB/strata/pkg/sstable/clustering"
)

// EntrySerializer reads and writes row index entries for one on-disk version.
// Writing is only supported for the latest version; reading a foreign version
// transcodes record-by-record into a latest-version payload.
type EntrySerializer struct {
	version Version
	schema  *clustering.Schema
	latest  *IndexInfoCodec
}

// NewEntrySerializer creates a serializer for entries stored under version.
// Fails with ErrVersionMismatch when the version's codecs cannot be built.
func NewEntrySerializer(version Version, schema *clustering.Schema) (*EntrySerializer, error) {
	latest, err := NewIndexInfoCodec(LatestVersion, schema)
	if err != nil {
		return nil, err
	}
	if !version.NativeCompatible() {
		// Probe the foreign codec now so an unreadable version surfaces at
		// construction rather than on the first deserialize.
		if _, err := NewIndexInfoCodec(version, schema); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrVersionMismatch, version.Name)
		}
	}
	return &EntrySerializer{version: version, schema: schema, latest: latest}, nil
}

// Serialize writes the entry's wire form: position, payload size, payload.
// Entries always serialize in the latest version.
func (s *EntrySerializer) Serialize(e Entry, w io.Writer) error {
	var header [12]byte
	binary.BigEndian.PutUint64(header[0:8], uint64(e.Position()))

	switch e := e.(type) {
	case *BareEntry:
		// payload size stays zero
		if _, err := w.Write(header[:]); err != nil {
			return fmt.Errorf("failed to write row index entry: %w", err)
		}
		return nil
	case *IndexedEntry:
		payload := e.payloadBytes()
		binary.BigEndian.PutUint32(header[8:12], uint32(len(payload)))
		if _, err := w.Write(header[:]); err != nil {
			return fmt.Errorf("failed to write row index entry: %w", err)
		}
		n, err := w.Write(payload)
		if err != nil {
			return fmt.Errorf("failed to write row index payload: %w", err)
		}
		if n != len(payload) {
			return fmt.Errorf("wrote incomplete row index payload: %d of %d bytes", n, len(payload))
		}
		return nil
	default:
		return fmt.Errorf("cannot serialize row index entry of type %T", e)
	}
}

// Deserialize reads one entry. A native-compatible indexed payload is adopted
// without decoding; a foreign payload is decoded with the on-disk version's
// codecs and re-encoded against the latest version.
func (s *EntrySerializer) Deserialize(r io.Reader) (Entry, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read row index entry header: %w", err)
	}
	position := int64(binary.BigEndian.Uint64(header[0:8]))
	size := int32(binary.BigEndian.Uint32(header[8:12]))

	if size <= 0 {
		return NewBareEntry(position), nil
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read row index payload: %w", err)
	}

	if s.version.NativeCompatible() {
		return NewIndexedEntry(position, payload, s.latest)
	}
	return s.transcode(position, payload)
}

// transcode rebuilds a foreign-version payload in the latest format
func (s *EntrySerializer) transcode(position int64, payload []byte) (Entry, error) {
	foreign, err := NewIndexInfoCodec(s.version, s.schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionMismatch, s.version.Name)
	}

	deletion, off, err := clustering.DecodeDeletionTime(payload, 0)
	if err != nil {
		return nil, err
	}
	if off+4 > len(payload) {
		return nil, fmt.Errorf("%w: row index block count", clustering.ErrTruncated)
	}
	entries := int(int32(binary.BigEndian.Uint32(payload[off : off+4])))
	if entries < 0 {
		return nil, fmt.Errorf("%w: row index block count %d", clustering.ErrMalformed, entries)
	}
	off += 4

	var out bytes.Buffer
	out.Grow(len(payload))
	if err := clustering.WriteDeletionTime(&out, deletion); err != nil {
		return nil, err
	}
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(entries))
	out.Write(countBuf[:])

	for i := 0; i < entries; i++ {
		info, next, err := foreign.Decode(payload, off)
		if err != nil {
			return nil, fmt.Errorf("failed to transcode row index block %d: %w", i, err)
		}
		if err := s.latest.Encode(info, &out); err != nil {
			return nil, err
		}
		off = next
	}

	return NewIndexedEntry(position, out.Bytes(), s.latest)
}

// SkipEntry advances r past one serialized entry, reading only the position
// and payload size fields and discarding the payload.
func SkipEntry(r io.Reader) error {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("failed to read row index entry header: %w", err)
	}
	size := int32(binary.BigEndian.Uint32(header[8:12]))
	if size <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
		return fmt.Errorf("failed to skip row index payload: %w", err)
	}
	return nil
}
