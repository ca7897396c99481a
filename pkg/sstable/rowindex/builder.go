package rowindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/StrataDB/strata/pkg/sstable/atom"
	"github.com/StrataDB/strata/pkg/sstable/clustering"
)

// AtomWriter is the sequential data sink the builder streams atoms into. The
// file pointer is absolute; the builder measures block offsets relative to
// the pointer observed once the partition header is written.
type AtomWriter interface {
	io.Writer
	FilePointer() int64
}

// Builder consumes one partition's sorted atom stream, writes the partition
// frame to the data sink and partitions the atoms region into index blocks of
// at least columnIndexSize bytes (the trailing block may be smaller). It is
// single-use: any write error aborts
// the entry and the builder makes no attempt to recover partial state.
//
// The first sealed block is parked in a one-slot buffer; the payload is only
// allocated once a second block seals, so single-block partitions never
// allocate payload. The block count is back-patched at close.
type Builder struct {
	partitionKey []byte
	deletion     clustering.DeletionTime
	staticRow    *atom.Row
	stream       atom.Stream
	writer       AtomWriter
	schema       *clustering.Schema
	serializer   *atom.Serializer
	infoCodec    *IndexInfoCodec

	columnIndexSize int64
	position        int64
	initialPosition int64
	startOffset     int64

	written      int
	minTimestamp int64
	maxTimestamp int64

	firstClustering *clustering.Prefix
	lastClustering  *clustering.Prefix
	openMarker      *clustering.DeletionTime

	payload           *bytes.Buffer
	columnsIndexCount int
	firstIndex        *IndexInfo
}

// NewBuilder creates a builder for one partition. position is the partition's
// start in the data file; staticRow is written only when the schema declares
// one.
func NewBuilder(position int64, partitionKey []byte, deletion clustering.DeletionTime,
	staticRow *atom.Row, stream atom.Stream, writer AtomWriter,
	schema *clustering.Schema, columnIndexSize int64) (*Builder, error) {

	serializer, err := atom.NewSerializer(schema, LatestVersion.MessagingVersion)
	if err != nil {
		return nil, err
	}
	infoCodec, err := NewIndexInfoCodec(LatestVersion, schema)
	if err != nil {
		return nil, err
	}

	return &Builder{
		partitionKey:    partitionKey,
		deletion:        deletion,
		staticRow:       staticRow,
		stream:          stream,
		writer:          writer,
		schema:          schema,
		serializer:      serializer,
		infoCodec:       infoCodec,
		columnIndexSize: columnIndexSize,
		position:        position,
		minTimestamp:    math.MaxInt64,
		maxTimestamp:    math.MinInt64,
	}, nil
}

// Build writes the partition frame and returns the entry describing it
func (b *Builder) Build() (Entry, error) {
	if err := b.writePartitionHeader(); err != nil {
		return nil, err
	}

	// Block offsets are measured from the start of the atoms region, so the
	// first block always sits at offset zero.
	b.initialPosition = b.writer.FilePointer()

	for {
		a, ok := b.stream.NextAtom()
		if !ok {
			break
		}
		if err := b.add(a); err != nil {
			return nil, err
		}
	}

	return b.close()
}

// WrittenAtoms returns the number of atoms streamed so far
func (b *Builder) WrittenAtoms() int {
	return b.written
}

// MinTimestamp returns the smallest write timestamp observed across the
// partition's atoms, or math.MaxInt64 when no atom carried one.
func (b *Builder) MinTimestamp() int64 {
	return b.minTimestamp
}

// MaxTimestamp returns the largest write timestamp observed across the
// partition's atoms, or math.MinInt64 when no atom carried one.
func (b *Builder) MaxTimestamp() int64 {
	return b.maxTimestamp
}

func (b *Builder) observeTimestamp(ts int64) {
	if ts < b.minTimestamp {
		b.minTimestamp = ts
	}
	if ts > b.maxTimestamp {
		b.maxTimestamp = ts
	}
}

func (b *Builder) writePartitionHeader() error {
	if len(b.partitionKey) > maxKeyLength {
		return fmt.Errorf("partition key of %d bytes exceeds %d", len(b.partitionKey), maxKeyLength)
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b.partitionKey)))
	if _, err := b.writer.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write partition key length: %w", err)
	}
	n, err := b.writer.Write(b.partitionKey)
	if err != nil {
		return fmt.Errorf("failed to write partition key: %w", err)
	}
	if n != len(b.partitionKey) {
		return fmt.Errorf("wrote incomplete partition key: %d of %d bytes", n, len(b.partitionKey))
	}

	if err := clustering.WriteDeletionTime(b.writer, b.deletion); err != nil {
		return err
	}

	if b.schema.HasStatic && b.staticRow != nil {
		return b.serializer.SerializeStaticRow(b.staticRow, b.writer)
	}
	return nil
}

func (b *Builder) currentPosition() int64 {
	return b.writer.FilePointer() - b.initialPosition
}

func (b *Builder) add(a atom.Atom) error {
	if b.firstClustering == nil {
		// Beginning of an index block: remember where it starts
		c := a.Clustering()
		b.firstClustering = &c
		b.startOffset = b.currentPosition()
	}

	if err := b.serializer.Serialize(a, b.writer); err != nil {
		return err
	}
	c := a.Clustering()
	b.lastClustering = &c
	b.written++

	switch a := a.(type) {
	case *atom.Row:
		b.observeTimestamp(a.Timestamp)
	case *atom.RangeTombstoneMarker:
		b.observeTimestamp(a.DeletionTime().MarkedForDeletionAt)
		if a.IsOpen() {
			d := a.DeletionTime()
			b.openMarker = &d
		} else {
			b.openMarker = nil
		}
	}

	if b.currentPosition()-b.startOffset >= b.columnIndexSize {
		return b.addIndexBlock()
	}
	return nil
}

func (b *Builder) addIndexBlock() error {
	info := IndexInfo{
		FirstName: *b.firstClustering,
		LastName:  *b.lastClustering,
		Offset:    b.startOffset,
		Width:     b.currentPosition() - b.startOffset,
	}
	if b.openMarker != nil {
		marker := *b.openMarker
		info.OpenMarker = &marker
	}

	if b.payload == nil {
		if b.firstIndex == nil {
			b.firstIndex = &info
			b.columnsIndexCount++
			b.firstClustering = nil
			return nil
		}

		// Second block: now the payload is worth allocating. The deletion is
		// final; the count field is a placeholder back-patched at close.
		b.payload = bytes.NewBuffer(make([]byte, 0, 4096))
		if err := clustering.WriteDeletionTime(b.payload, b.deletion); err != nil {
			return err
		}
		var countBuf [4]byte
		b.payload.Write(countBuf[:])

		if err := b.infoCodec.Encode(*b.firstIndex, b.payload); err != nil {
			return err
		}
		b.firstIndex = nil
	}

	if err := b.infoCodec.Encode(info, b.payload); err != nil {
		return err
	}
	b.columnsIndexCount++
	b.firstClustering = nil
	return nil
}

func (b *Builder) close() (Entry, error) {
	// The last atom may have landed exactly on a block boundary; if not, the
	// open block is sealed here, before the sentinel, so the blocks cover
	// exactly the atom bytes.
	if b.firstClustering != nil {
		if err := b.addIndexBlock(); err != nil {
			return nil, err
		}
	}

	if err := b.serializer.WriteEndOfPartition(b.writer); err != nil {
		return nil, err
	}

	// A partition may carry no atoms at all, just a top level deletion
	if b.written == 0 {
		return NewBareEntry(b.position), nil
	}

	// A single block means a read seeks to the partition start and streams
	// anyway; materializing a one-entry index wastes bytes and heap.
	if b.columnsIndexCount > 1 {
		buf := b.payload.Bytes()
		binary.BigEndian.PutUint32(buf[clustering.DeletionTimeSize:payloadHeaderSize], uint32(b.columnsIndexCount))
		return NewIndexedEntry(b.position, buf, b.infoCodec)
	}
	return NewBareEntry(b.position), nil
}

// maxKeyLength is the largest partition key the 16-bit length prefix admits
const maxKeyLength = 0xFFFF
