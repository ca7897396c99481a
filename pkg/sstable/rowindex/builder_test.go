package rowindex

import (
	"bytes"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrataDB/strata/pkg/sstable/atom"
	"github.com/StrataDB/strata/pkg/sstable/clustering"
)

// bufferWriter is an in-memory atom sink with a file pointer
type bufferWriter struct {
	bytes.Buffer
}

func (b *bufferWriter) FilePointer() int64 {
	return int64(b.Len())
}

func buildPartition(t *testing.T, key []byte, deletion clustering.DeletionTime,
	blockSize int64, atoms ...atom.Atom) (Entry, *bufferWriter) {
	t.Helper()
	out := &bufferWriter{}
	builder, err := NewBuilder(out.FilePointer(), key, deletion, nil,
		atom.NewSliceStream(atoms...), out, testSchema(), blockSize)
	require.NoError(t, err)
	entry, err := builder.Build()
	require.NoError(t, err)
	return entry, out
}

func rowAtom(c int32, payloadLen int) atom.Atom {
	return atom.NewRow(row(c), make([]byte, payloadLen))
}

func TestBuildEmptyPartition(t *testing.T) {
	entry, out := buildPartition(t, []byte("k"), clustering.DeletionTime{}, 64*1024)

	assert.False(t, entry.IsIndexed())
	assert.Equal(t, int64(0), entry.Position())
	assert.Equal(t, 0, entry.ColumnsCount())

	// key length prefix, key, 12-byte zero deletion, end-of-partition sentinel
	expected := append([]byte{0x00, 0x01, 'k'}, make([]byte, 12)...)
	expected = append(expected, atom.EndOfPartition)
	assert.Equal(t, expected, out.Bytes())
}

func TestBuildSingleSmallRowIsBare(t *testing.T) {
	entry, _ := buildPartition(t, []byte("k"), clustering.LiveDeletionTime,
		64*1024, rowAtom(1, 30))

	assert.False(t, entry.IsIndexed())
	assert.Equal(t, 0, entry.ColumnsCount())
}

func TestBuildTwoBlocks(t *testing.T) {
	// 32 bytes per atom against a 64-byte threshold
	atoms := make([]atom.Atom, 10)
	for i := range atoms {
		atoms[i] = rowAtom(int32(i), 8)
	}
	entry, out := buildPartition(t, []byte("k"), clustering.LiveDeletionTime, 64, atoms...)

	require.True(t, entry.IsIndexed())
	require.GreaterOrEqual(t, entry.ColumnsCount(), 2)

	// key length, key, partition deletion up front; sentinel at the back
	headerSize := int64(2 + 1 + 12)
	atomsRegion := int64(out.Len()) - headerSize - 1

	var total int64
	for i := 0; i < entry.ColumnsCount(); i++ {
		info, err := entry.IndexInfo(i)
		require.NoError(t, err)

		assert.Equal(t, total, info.Offset, "block %d is contiguous", i)
		total += info.Width

		if i < entry.ColumnsCount()-1 {
			assert.GreaterOrEqual(t, info.Width, int64(64), "block %d honors the threshold", i)
		}
	}
	assert.Equal(t, atomsRegion, total, "blocks cover the atoms region")
}

func TestBuildKeepsPartitionDeletion(t *testing.T) {
	deletion := clustering.DeletionTime{LocalDeletionTime: 3, MarkedForDeletionAt: 30}
	atoms := make([]atom.Atom, 10)
	for i := range atoms {
		atoms[i] = rowAtom(int32(i), 8)
	}
	entry, _ := buildPartition(t, []byte("k"), deletion, 64, atoms...)

	require.True(t, entry.IsIndexed())
	got, err := entry.DeletionTime()
	require.NoError(t, err)
	assert.Equal(t, deletion, got)
}

func TestOpenMarkerAcrossBlockBoundaries(t *testing.T) {
	deletion := clustering.DeletionTime{LocalDeletionTime: 11, MarkedForDeletionAt: 1100}

	// rows are 32 bytes and markers 25 against a 40-byte threshold, so the
	// tombstone opens in the first block and closes in the third
	entry, _ := buildPartition(t, []byte("k"), clustering.LiveDeletionTime, 40,
		rowAtom(1, 8),
		atom.NewOpenMarker(clustering.NewRangeStart(int32Value(2)), deletion),
		rowAtom(3, 8),
		rowAtom(4, 8),
		atom.NewCloseMarker(clustering.NewRangeEnd(int32Value(5)), deletion),
		rowAtom(6, 8),
		rowAtom(7, 8),
	)

	require.True(t, entry.IsIndexed())
	require.Equal(t, 4, entry.ColumnsCount())

	b1, err := entry.IndexInfo(0)
	require.NoError(t, err)
	require.NotNil(t, b1.OpenMarker)
	assert.Equal(t, deletion, *b1.OpenMarker)

	b2, err := entry.IndexInfo(1)
	require.NoError(t, err)
	require.NotNil(t, b2.OpenMarker)
	assert.Equal(t, deletion, *b2.OpenMarker)

	b3, err := entry.IndexInfo(2)
	require.NoError(t, err)
	assert.Nil(t, b3.OpenMarker)

	b4, err := entry.IndexInfo(3)
	require.NoError(t, err)
	assert.Nil(t, b4.OpenMarker)
}

func TestBuilderTracksTimestamps(t *testing.T) {
	deletion := clustering.DeletionTime{LocalDeletionTime: 1, MarkedForDeletionAt: 500}

	out := &bufferWriter{}
	builder, err := NewBuilder(0, []byte("k"), clustering.LiveDeletionTime, nil,
		atom.NewSliceStream(
			atom.NewRowAt(row(1), 200, nil),
			atom.NewOpenMarker(clustering.NewRangeStart(int32Value(2)), deletion),
			atom.NewRowAt(row(3), 900, nil),
		), out, testSchema(), 64*1024)
	require.NoError(t, err)
	_, err = builder.Build()
	require.NoError(t, err)

	assert.Equal(t, int64(200), builder.MinTimestamp())
	assert.Equal(t, int64(900), builder.MaxTimestamp())

	// no atoms leaves the extremes at their sentinels
	empty := &bufferWriter{}
	eb, err := NewBuilder(0, []byte("k"), clustering.LiveDeletionTime, nil,
		atom.NewSliceStream(), empty, testSchema(), 64*1024)
	require.NoError(t, err)
	_, err = eb.Build()
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), eb.MinTimestamp())
	assert.Equal(t, int64(math.MinInt64), eb.MaxTimestamp())
}

func TestBuildPositionOffset(t *testing.T) {
	out := &bufferWriter{}
	out.Write(make([]byte, 100)) // an earlier partition's bytes

	builder, err := NewBuilder(out.FilePointer(), []byte("k"), clustering.LiveDeletionTime,
		nil, atom.NewSliceStream(rowAtom(1, 8)), out, testSchema(), 64*1024)
	require.NoError(t, err)
	entry, err := builder.Build()
	require.NoError(t, err)

	assert.Equal(t, int64(100), entry.Position())
}

func TestBuildStaticRow(t *testing.T) {
	schema := &clustering.Schema{
		ClusteringTypes: []clustering.ColumnType{clustering.Int32Type{}},
		HasStatic:       true,
	}
	static := atom.NewRow(clustering.Prefix{Kind: clustering.KindRow}, []byte("static"))

	out := &bufferWriter{}
	builder, err := NewBuilder(0, []byte("k"), clustering.LiveDeletionTime,
		static, atom.NewSliceStream(rowAtom(1, 8)), out, schema, 64*1024)
	require.NoError(t, err)
	entry, err := builder.Build()
	require.NoError(t, err)

	assert.False(t, entry.IsIndexed())

	// header now carries the static row between the deletion and first atom
	withoutStatic := &bufferWriter{}
	plain, err := NewBuilder(0, []byte("k"), clustering.LiveDeletionTime,
		nil, atom.NewSliceStream(rowAtom(1, 8)), withoutStatic, testSchema(), 64*1024)
	require.NoError(t, err)
	_, err = plain.Build()
	require.NoError(t, err)
	assert.Greater(t, out.Len(), withoutStatic.Len())
}

func TestBuildRejectsOversizedKey(t *testing.T) {
	out := &bufferWriter{}
	builder, err := NewBuilder(0, make([]byte, maxKeyLength+1), clustering.LiveDeletionTime,
		nil, atom.NewSliceStream(), out, testSchema(), 64*1024)
	require.NoError(t, err)
	_, err = builder.Build()
	assert.Error(t, err)
}

func TestBuilderProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("blocks partition the atoms region", prop.ForAll(
		func(atomCount int, payloadLen int, blockSize int64) bool {
			atoms := make([]atom.Atom, atomCount)
			for i := range atoms {
				atoms[i] = rowAtom(int32(i), payloadLen)
			}
			entry, out := buildPartition(t, []byte("pk"), clustering.LiveDeletionTime, blockSize, atoms...)

			if atomCount == 0 {
				return !entry.IsIndexed()
			}
			if !entry.IsIndexed() {
				return entry.ColumnsCount() == 0
			}

			headerSize := int64(2 + 2 + 12)
			atomsRegion := int64(out.Len()) - headerSize - 1
			cmp := clustering.NewComparator(clustering.Int32Type{})

			var expectedOffset int64
			var prev *IndexInfo
			for i := 0; i < entry.ColumnsCount(); i++ {
				info, err := entry.IndexInfo(i)
				if err != nil {
					return false
				}
				// coverage: contiguous, starting at zero
				if info.Offset != expectedOffset || info.Width <= 0 {
					return false
				}
				expectedOffset += info.Width

				// monotone bounds under the comparator
				if cmp.Compare(info.FirstName, info.LastName) > 0 {
					return false
				}
				if prev != nil && cmp.Compare(prev.LastName, info.FirstName) >= 0 {
					return false
				}

				// size discipline for all blocks but the last
				if i < entry.ColumnsCount()-1 && info.Width < blockSize {
					return false
				}
				p := info
				prev = &p
			}
			return expectedOffset == atomsRegion
		},
		gen.IntRange(0, 40),
		gen.IntRange(0, 50),
		gen.Int64Range(16, 256),
	))

	properties.Property("entries round-trip through the wire form", prop.ForAll(
		func(atomCount int, blockSize int64) bool {
			atoms := make([]atom.Atom, atomCount)
			for i := range atoms {
				atoms[i] = rowAtom(int32(i), 16)
			}
			entry, _ := buildPartition(t, []byte("pk"), clustering.LiveDeletionTime, blockSize, atoms...)

			serializer, err := NewEntrySerializer(LatestVersion, testSchema())
			if err != nil {
				return false
			}
			var wire bytes.Buffer
			if err := serializer.Serialize(entry, &wire); err != nil {
				return false
			}
			if wire.Len() != entry.NativeSize() {
				return false
			}

			decoded, err := serializer.Deserialize(&wire)
			if err != nil {
				return false
			}
			if decoded.Position() != entry.Position() ||
				decoded.IsIndexed() != entry.IsIndexed() ||
				decoded.ColumnsCount() != entry.ColumnsCount() {
				return false
			}
			for i := 0; i < entry.ColumnsCount(); i++ {
				want, err1 := entry.IndexInfo(i)
				got, err2 := decoded.IndexInfo(i)
				if err1 != nil || err2 != nil || !want.Equal(got) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 30),
		gen.Int64Range(16, 128),
	))

	properties.TestingRun(t)
}
