package rowindex

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/StrataDB/strata/pkg/sstable/clustering"
)

// IndexInfo describes one index block: a contiguous byte range of a
// partition's atoms region, bounded (inclusively) by the clusterings of its
// first and last atom. Offset is relative to the start of the atoms region.
// OpenMarker, when set, is the range tombstone still open at the end of the
// block.
type IndexInfo struct {
	FirstName  clustering.Prefix
	LastName   clustering.Prefix
	Offset     int64
	Width      int64
	OpenMarker *clustering.DeletionTime
}

// Equal reports structural equality of two block descriptors
func (i IndexInfo) Equal(other IndexInfo) bool {
	if i.Offset != other.Offset || i.Width != other.Width {
		return false
	}
	if (i.OpenMarker == nil) != (other.OpenMarker == nil) {
		return false
	}
	if i.OpenMarker != nil && *i.OpenMarker != *other.OpenMarker {
		return false
	}
	return i.FirstName.Equal(other.FirstName) && i.LastName.Equal(other.LastName)
}

// IndexInfoCodec encodes and decodes block descriptors for one format
// version. The open-marker fields exist on the wire only for versions that
// store rows.
type IndexInfoCodec struct {
	version  Version
	prefixes *clustering.PrefixCodec
}

// NewIndexInfoCodec creates a codec for the given version against the
// schema's clustering types.
func NewIndexInfoCodec(version Version, schema *clustering.Schema) (*IndexInfoCodec, error) {
	prefixes, err := clustering.NewPrefixCodec(version.MessagingVersion, schema.ClusteringTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to create clustering codec for version %q: %w", version.Name, err)
	}
	return &IndexInfoCodec{version: version, prefixes: prefixes}, nil
}

// Encode writes one block descriptor
func (c *IndexInfoCodec) Encode(info IndexInfo, w io.Writer) error {
	if err := c.prefixes.Encode(info.FirstName, w); err != nil {
		return err
	}
	if err := c.prefixes.Encode(info.LastName, w); err != nil {
		return err
	}

	var fixed [16]byte
	binary.BigEndian.PutUint64(fixed[0:8], uint64(info.Offset))
	binary.BigEndian.PutUint64(fixed[8:16], uint64(info.Width))
	if _, err := w.Write(fixed[:]); err != nil {
		return fmt.Errorf("failed to write index block extent: %w", err)
	}

	if !c.version.StoreRows {
		return nil
	}

	if info.OpenMarker == nil {
		_, err := w.Write([]byte{0})
		if err != nil {
			return fmt.Errorf("failed to write open marker flag: %w", err)
		}
		return nil
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return fmt.Errorf("failed to write open marker flag: %w", err)
	}
	return clustering.WriteDeletionTime(w, *info.OpenMarker)
}

// SerializedSize returns the number of bytes Encode writes for info
func (c *IndexInfoCodec) SerializedSize(info IndexInfo) int {
	size := c.prefixes.SerializedSize(info.FirstName) +
		c.prefixes.SerializedSize(info.LastName) + 16
	if c.version.StoreRows {
		size++
		if info.OpenMarker != nil {
			size += clustering.DeletionTimeSize
		}
	}
	return size
}

// Decode reads one block descriptor from buf at off
func (c *IndexInfoCodec) Decode(buf []byte, off int) (IndexInfo, int, error) {
	firstName, off, err := c.prefixes.Decode(buf, off)
	if err != nil {
		return IndexInfo{}, off, err
	}
	lastName, off, err := c.prefixes.Decode(buf, off)
	if err != nil {
		return IndexInfo{}, off, err
	}

	if off+16 > len(buf) {
		return IndexInfo{}, off, fmt.Errorf("%w: index block extent at offset %d", clustering.ErrTruncated, off)
	}
	info := IndexInfo{
		FirstName: firstName,
		LastName:  lastName,
		Offset:    int64(binary.BigEndian.Uint64(buf[off : off+8])),
		Width:     int64(binary.BigEndian.Uint64(buf[off+8 : off+16])),
	}
	off += 16

	if !c.version.StoreRows {
		return info, off, nil
	}

	if off >= len(buf) {
		return IndexInfo{}, off, fmt.Errorf("%w: open marker flag at offset %d", clustering.ErrTruncated, off)
	}
	switch buf[off] {
	case 0:
		off++
	case 1:
		off++
		marker, next, err := clustering.DecodeDeletionTime(buf, off)
		if err != nil {
			return IndexInfo{}, off, err
		}
		info.OpenMarker = &marker
		off = next
	default:
		return IndexInfo{}, off, fmt.Errorf("%w: open marker flag %d", clustering.ErrMalformed, buf[off])
	}
	return info, off, nil
}

// Skip advances past one block descriptor without materializing its
// clustering prefixes. The lazy reader uses this to walk to a record without
// allocating the intervening ones.
func (c *IndexInfoCodec) Skip(buf []byte, off int) (int, error) {
	off, err := c.prefixes.Skip(buf, off)
	if err != nil {
		return off, err
	}
	off, err = c.prefixes.Skip(buf, off)
	if err != nil {
		return off, err
	}

	if off+16 > len(buf) {
		return off, fmt.Errorf("%w: index block extent at offset %d", clustering.ErrTruncated, off)
	}
	off += 16

	if !c.version.StoreRows {
		return off, nil
	}
	if off >= len(buf) {
		return off, fmt.Errorf("%w: open marker flag at offset %d", clustering.ErrTruncated, off)
	}
	hasMarker := buf[off]
	off++
	if hasMarker == 1 {
		off += clustering.DeletionTimeSize
		if off > len(buf) {
			return off, fmt.Errorf("%w: open marker at offset %d", clustering.ErrTruncated, off)
		}
	} else if hasMarker != 0 {
		return off, fmt.Errorf("%w: open marker flag %d", clustering.ErrMalformed, hasMarker)
	}
	return off, nil
}
