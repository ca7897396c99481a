package atom

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/StrataDB/strata/pkg/sstable/clustering"
)

// Atom framing on the data file. Every atom starts with a flag byte; the zero
// flag doubles as the end-of-partition sentinel so a reader streaming atoms
// stops on a single byte.
const (
	// EndOfPartition is the sentinel flag closing a partition's atom region
	EndOfPartition byte = 0x00
	flagRow        byte = 0x01
	flagMarker     byte = 0x02
)

// Serializer writes atoms in the fixed wire framing for one schema and
// messaging version.
type Serializer struct {
	prefixes *clustering.PrefixCodec
}

// NewSerializer creates an atom serializer against the schema's clustering
// types and the given messaging version.
func NewSerializer(schema *clustering.Schema, messagingVersion int) (*Serializer, error) {
	codec, err := clustering.NewPrefixCodec(messagingVersion, schema.ClusteringTypes)
	if err != nil {
		return nil, err
	}
	return &Serializer{prefixes: codec}, nil
}

// Serialize writes one atom: flag byte, clustering prefix, then the
// kind-specific body.
func (s *Serializer) Serialize(a Atom, w io.Writer) error {
	switch a := a.(type) {
	case *Row:
		return s.serializeRow(a, w)
	case *RangeTombstoneMarker:
		return s.serializeMarker(a, w)
	default:
		return fmt.Errorf("cannot serialize atom of kind %s", a.Kind())
	}
}

func (s *Serializer) serializeRow(r *Row, w io.Writer) error {
	if err := writeByte(w, flagRow); err != nil {
		return err
	}
	if err := s.prefixes.Encode(r.Clustering(), w); err != nil {
		return err
	}

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(r.Timestamp))
	if _, err := w.Write(tsBuf[:]); err != nil {
		return fmt.Errorf("failed to write row timestamp: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r.Payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write row payload length: %w", err)
	}
	n, err := w.Write(r.Payload)
	if err != nil {
		return fmt.Errorf("failed to write row payload: %w", err)
	}
	if n != len(r.Payload) {
		return fmt.Errorf("wrote incomplete row payload: %d of %d bytes", n, len(r.Payload))
	}
	return nil
}

func (s *Serializer) serializeMarker(m *RangeTombstoneMarker, w io.Writer) error {
	if err := writeByte(w, flagMarker); err != nil {
		return err
	}
	if err := s.prefixes.Encode(m.Clustering(), w); err != nil {
		return err
	}
	side := byte(0)
	if m.IsOpen() {
		side = 1
	}
	if err := writeByte(w, side); err != nil {
		return err
	}
	return clustering.WriteDeletionTime(w, m.DeletionTime())
}

// SerializeStaticRow writes the static row in row framing. The static row has
// an empty clustering and sits between the partition header and the first
// atom.
func (s *Serializer) SerializeStaticRow(r *Row, w io.Writer) error {
	return s.serializeRow(r, w)
}

// WriteEndOfPartition writes the end-of-partition sentinel
func (s *Serializer) WriteEndOfPartition(w io.Writer) error {
	return writeByte(w, EndOfPartition)
}

func writeByte(w io.Writer, b byte) error {
	n, err := w.Write([]byte{b})
	if err != nil {
		return fmt.Errorf("failed to write atom flag: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("wrote incomplete atom flag")
	}
	return nil
}
