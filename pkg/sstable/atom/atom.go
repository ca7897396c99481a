// Package atom models the unfiltered items of a partition's data stream: rows
// and range-tombstone markers, together with their on-disk serializer. The
// engine never interprets atom contents beyond the clustering prefix and the
// open/close state of markers; cell payloads are opaque bytes produced
// upstream.
package atom

import (
	"fmt"

	"github.com/StrataDB/strata/pkg/sstable/clustering"
)

// Kind distinguishes the two atom shapes
type Kind uint8

const (
	// KindRow is a regular or static row
	KindRow Kind = iota + 1
	// KindRangeTombstoneMarker is one side of a range tombstone
	KindRangeTombstoneMarker
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindRow:
		return "ROW"
	case KindRangeTombstoneMarker:
		return "RANGE_TOMBSTONE_MARKER"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Atom is one unfiltered item of a partition's sorted stream
type Atom interface {
	Kind() Kind
	Clustering() clustering.Prefix
}

// Row is a row atom: a clustering position, the write timestamp shared by its
// cells, and an opaque cell payload.
type Row struct {
	clustering clustering.Prefix
	Timestamp  int64
	Payload    []byte
}

// NewRow creates a row atom at the given clustering with a zero timestamp
func NewRow(prefix clustering.Prefix, payload []byte) *Row {
	return &Row{clustering: prefix, Payload: payload}
}

// NewRowAt creates a row atom written at the given timestamp
func NewRowAt(prefix clustering.Prefix, timestamp int64, payload []byte) *Row {
	return &Row{clustering: prefix, Timestamp: timestamp, Payload: payload}
}

// Kind returns KindRow
func (r *Row) Kind() Kind { return KindRow }

// Clustering returns the row's clustering prefix
func (r *Row) Clustering() clustering.Prefix { return r.clustering }

// RangeTombstoneMarker is one side of a range tombstone: a bound prefix, the
// side it represents and the deletion it carries.
type RangeTombstoneMarker struct {
	bound    clustering.Prefix
	open     bool
	deletion clustering.DeletionTime
}

// NewOpenMarker creates the opening side of a range tombstone
func NewOpenMarker(bound clustering.Prefix, deletion clustering.DeletionTime) *RangeTombstoneMarker {
	return &RangeTombstoneMarker{bound: bound, open: true, deletion: deletion}
}

// NewCloseMarker creates the closing side of a range tombstone
func NewCloseMarker(bound clustering.Prefix, deletion clustering.DeletionTime) *RangeTombstoneMarker {
	return &RangeTombstoneMarker{bound: bound, open: false, deletion: deletion}
}

// Kind returns KindRangeTombstoneMarker
func (m *RangeTombstoneMarker) Kind() Kind { return KindRangeTombstoneMarker }

// Clustering returns the marker's bound prefix
func (m *RangeTombstoneMarker) Clustering() clustering.Prefix { return m.bound }

// IsOpen reports whether the marker opens a range
func (m *RangeTombstoneMarker) IsOpen() bool { return m.open }

// DeletionTime returns the deletion the marker carries
func (m *RangeTombstoneMarker) DeletionTime() clustering.DeletionTime { return m.deletion }

// Stream yields a partition's atoms in clustering order
type Stream interface {
	// NextAtom returns the next atom, or false when the stream is exhausted
	NextAtom() (Atom, bool)
}

// SliceStream adapts a pre-built atom slice into a Stream
type SliceStream struct {
	atoms []Atom
	pos   int
}

// NewSliceStream creates a stream over the given atoms
func NewSliceStream(atoms ...Atom) *SliceStream {
	return &SliceStream{atoms: atoms}
}

// NextAtom returns the next atom in the slice
func (s *SliceStream) NextAtom() (Atom, bool) {
	if s.pos >= len(s.atoms) {
		return nil, false
	}
	a := s.atoms[s.pos]
	s.pos++
	return a, true
}
