// Package clustering defines the clustering key model for wide partitions:
// prefixes, the comparator that orders them, and the bit-exact wire codecs
// shared by the row index writer and reader.
package clustering

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind identifies what a prefix positions within a partition: a range bound
// opening a slice, a full row clustering, or a range bound closing a slice.
// The numeric order matters: for equal values a start bound sorts before the
// row, which sorts before the end bound.
type Kind uint8

const (
	// KindRangeStart is the open side of a clustering range.
	KindRangeStart Kind = iota
	// KindRow is the clustering of a regular row.
	KindRow
	// KindRangeEnd is the close side of a clustering range.
	KindRangeEnd
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindRangeStart:
		return "RANGE_START"
	case KindRow:
		return "ROW"
	case KindRangeEnd:
		return "RANGE_END"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// ColumnType compares raw column values of one clustering column
type ColumnType interface {
	// Name returns the type's name as used in schema descriptions
	Name() string
	// Compare orders two serialized values of this type
	Compare(a, b []byte) int
}

// BytesType orders values lexicographically
type BytesType struct{}

func (BytesType) Name() string            { return "bytes" }
func (BytesType) Compare(a, b []byte) int { return bytes.Compare(a, b) }

// Int32Type orders 4-byte big-endian signed integers
type Int32Type struct{}

func (Int32Type) Name() string { return "int32" }

func (Int32Type) Compare(a, b []byte) int {
	av := int32(binary.BigEndian.Uint32(a))
	bv := int32(binary.BigEndian.Uint32(b))
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// Int64Type orders 8-byte big-endian signed integers
type Int64Type struct{}

func (Int64Type) Name() string { return "int64" }

func (Int64Type) Compare(a, b []byte) int {
	av := int64(binary.BigEndian.Uint64(a))
	bv := int64(binary.BigEndian.Uint64(b))
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// ParseType resolves a type name to its ColumnType
func ParseType(name string) (ColumnType, error) {
	switch name {
	case "bytes":
		return BytesType{}, nil
	case "int32":
		return Int32Type{}, nil
	case "int64":
		return Int64Type{}, nil
	default:
		return nil, fmt.Errorf("unknown clustering column type %q", name)
	}
}

// Prefix is an ordered tuple of clustering column values positioning an atom
// within its partition. A nil value is a null column. Prefixes are treated as
// immutable once built; Clone before mutating a shared one.
type Prefix struct {
	Kind   Kind
	Values [][]byte
}

// NewRow builds a row clustering from the given column values
func NewRow(values ...[]byte) Prefix {
	return Prefix{Kind: KindRow, Values: values}
}

// NewRangeStart builds an opening range bound from the given column values
func NewRangeStart(values ...[]byte) Prefix {
	return Prefix{Kind: KindRangeStart, Values: values}
}

// NewRangeEnd builds a closing range bound from the given column values
func NewRangeEnd(values ...[]byte) Prefix {
	return Prefix{Kind: KindRangeEnd, Values: values}
}

// Size returns the number of components in the prefix
func (p Prefix) Size() int {
	return len(p.Values)
}

// Clone returns a deep copy of the prefix
func (p Prefix) Clone() Prefix {
	values := make([][]byte, len(p.Values))
	for i, v := range p.Values {
		if v != nil {
			values[i] = append([]byte(nil), v...)
		}
	}
	return Prefix{Kind: p.Kind, Values: values}
}

// Equal reports whether two prefixes have the same kind and byte-equal values
func (p Prefix) Equal(other Prefix) bool {
	if p.Kind != other.Kind || len(p.Values) != len(other.Values) {
		return false
	}
	for i := range p.Values {
		if (p.Values[i] == nil) != (other.Values[i] == nil) {
			return false
		}
		if !bytes.Equal(p.Values[i], other.Values[i]) {
			return false
		}
	}
	return true
}

// String formats the prefix for logs and error messages
func (p Prefix) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s(", p.Kind)
	for i, v := range p.Values {
		if i > 0 {
			buf.WriteByte(',')
		}
		if v == nil {
			buf.WriteString("null")
		} else {
			fmt.Fprintf(&buf, "%x", v)
		}
	}
	buf.WriteByte(')')
	return buf.String()
}

// Schema describes the clustering shape of a table: the ordered clustering
// column types and whether the table declares a static row.
type Schema struct {
	ClusteringTypes []ColumnType
	HasStatic       bool
}

// Comparator returns the comparator ordering prefixes under this schema
func (s *Schema) Comparator() *Comparator {
	return NewComparator(s.ClusteringTypes...)
}
