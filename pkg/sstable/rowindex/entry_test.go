package rowindex

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrataDB/strata/pkg/sstable/clustering"
)

// threeBlockInfos is the reference index of the search fixtures:
// [0..5][10..15][20..25]
func threeBlockInfos() []IndexInfo {
	return []IndexInfo{
		{FirstName: row(0), LastName: row(5), Offset: 0, Width: 100},
		{FirstName: row(10), LastName: row(15), Offset: 100, Width: 100},
		{FirstName: row(20), LastName: row(25), Offset: 200, Width: 80},
	}
}

// buildIndexedEntry assembles a latest-version payload by hand
func buildIndexedEntry(t *testing.T, position int64, deletion clustering.DeletionTime, infos []IndexInfo) *IndexedEntry {
	t.Helper()
	codec, err := NewIndexInfoCodec(LatestVersion, testSchema())
	require.NoError(t, err)

	var payload bytes.Buffer
	require.NoError(t, clustering.WriteDeletionTime(&payload, deletion))
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(infos)))
	payload.Write(countBuf[:])
	for _, info := range infos {
		require.NoError(t, codec.Encode(info, &payload))
	}

	entry, err := NewIndexedEntry(position, payload.Bytes(), codec)
	require.NoError(t, err)
	return entry
}

func TestBareEntry(t *testing.T) {
	e := NewBareEntry(4711)
	assert.Equal(t, int64(4711), e.Position())
	assert.False(t, e.IsIndexed())
	assert.Equal(t, 0, e.ColumnsCount())
	assert.Equal(t, 12, e.NativeSize())

	_, err := e.DeletionTime()
	assert.ErrorIs(t, err, ErrNotIndexed)
	_, err = e.IndexInfo(0)
	assert.ErrorIs(t, err, ErrNotIndexed)
}

func TestIndexedEntryBasics(t *testing.T) {
	deletion := clustering.DeletionTime{LocalDeletionTime: 77, MarkedForDeletionAt: 8888}
	e := buildIndexedEntry(t, 1000, deletion, threeBlockInfos())

	assert.True(t, e.IsIndexed())
	assert.Equal(t, int64(1000), e.Position())
	assert.Equal(t, 3, e.ColumnsCount())

	got, err := e.DeletionTime()
	require.NoError(t, err)
	assert.Equal(t, deletion, got)
}

func TestIndexedEntryRejectsTinyIndex(t *testing.T) {
	codec, err := NewIndexInfoCodec(LatestVersion, testSchema())
	require.NoError(t, err)

	var payload bytes.Buffer
	require.NoError(t, clustering.WriteDeletionTime(&payload, clustering.LiveDeletionTime))
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], 1)
	payload.Write(countBuf[:])

	_, err = NewIndexedEntry(0, payload.Bytes(), codec)
	assert.Error(t, err)
}

func TestLazyDecodeEquivalence(t *testing.T) {
	infos := threeBlockInfos()
	orders := [][]int{
		{0, 1, 2},
		{2, 0, 1},
		{1, 1, 2, 0, 2},
		{2, 2, 2},
	}

	for _, order := range orders {
		e := buildIndexedEntry(t, 0, clustering.LiveDeletionTime, infos)
		for _, i := range order {
			got, err := e.IndexInfo(i)
			require.NoError(t, err)
			assert.True(t, infos[i].Equal(got), "order %v index %d", order, i)
		}
	}
}

func TestLazyDecodeOffsets(t *testing.T) {
	infos := threeBlockInfos()
	codec, err := NewIndexInfoCodec(LatestVersion, testSchema())
	require.NoError(t, err)

	// expected byte offset of each record within the payload
	expected := make([]int32, len(infos))
	off := int32(payloadHeaderSize)
	for i, info := range infos {
		expected[i] = off
		off += int32(codec.SerializedSize(info))
	}

	e := buildIndexedEntry(t, 0, clustering.LiveDeletionTime, infos)
	_, err = e.IndexInfo(2)
	require.NoError(t, err)

	// walking to record 2 memoizes every record on the way
	for i := range infos {
		assert.Equal(t, expected[i], e.offsets[i], "offset of record %d", i)
	}

	// offsets are either zero or exact, under any access order
	e2 := buildIndexedEntry(t, 0, clustering.LiveDeletionTime, infos)
	_, err = e2.IndexInfo(1)
	require.NoError(t, err)
	for i := range infos {
		if e2.offsets[i] != 0 {
			assert.Equal(t, expected[i], e2.offsets[i], "offset of record %d", i)
		}
	}
}

func TestIndexOfFixtures(t *testing.T) {
	e := buildIndexedEntry(t, 0, clustering.LiveDeletionTime, threeBlockInfos())
	cmp := clustering.NewComparator(clustering.Int32Type{})

	tests := []struct {
		name      string
		probe     int32
		reversed  bool
		lastIndex int
		want      int
	}{
		{"forward probe inside second block", 13, false, 0, 1},
		{"reverse probe in gap", 17, true, 2, 1},
		{"forward probe past the end clamps to last", 30, false, 0, 2},
		{"reverse probe before the start", -1, true, 2, -1},
		{"reverse seek into last block", 22, true, 2, 2},
		{"forward probe at exact lastName", 15, false, 0, 1},
		{"forward with advanced hint", 22, false, 1, 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.IndexOf(row(tc.probe), cmp, tc.reversed, tc.lastIndex)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEntrySerializerRoundTrip(t *testing.T) {
	serializer, err := NewEntrySerializer(LatestVersion, testSchema())
	require.NoError(t, err)

	t.Run("bare", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, serializer.Serialize(NewBareEntry(12345), &buf))
		assert.Equal(t, 12, buf.Len())

		decoded, err := serializer.Deserialize(&buf)
		require.NoError(t, err)
		assert.False(t, decoded.IsIndexed())
		assert.Equal(t, int64(12345), decoded.Position())
		assert.Equal(t, 0, decoded.ColumnsCount())
	})

	t.Run("indexed", func(t *testing.T) {
		deletion := clustering.DeletionTime{LocalDeletionTime: 5, MarkedForDeletionAt: 50}
		e := buildIndexedEntry(t, 777, deletion, threeBlockInfos())

		var buf bytes.Buffer
		require.NoError(t, serializer.Serialize(e, &buf))
		wire := append([]byte(nil), buf.Bytes()...)

		decoded, err := serializer.Deserialize(&buf)
		require.NoError(t, err)
		indexed, ok := decoded.(*IndexedEntry)
		require.True(t, ok)

		// native-compatible reads adopt the payload bytes unchanged
		assert.Equal(t, e.payload, indexed.payload)
		assert.Equal(t, int64(777), indexed.Position())

		// and re-serializing reproduces the wire form byte for byte
		var again bytes.Buffer
		require.NoError(t, serializer.Serialize(indexed, &again))
		assert.Equal(t, wire, again.Bytes())
	})
}

func TestEntrySerializerSkip(t *testing.T) {
	serializer, err := NewEntrySerializer(LatestVersion, testSchema())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, serializer.Serialize(NewBareEntry(1), &buf))
	e := buildIndexedEntry(t, 2, clustering.LiveDeletionTime, threeBlockInfos())
	require.NoError(t, serializer.Serialize(e, &buf))
	require.NoError(t, serializer.Serialize(NewBareEntry(3), &buf))

	require.NoError(t, SkipEntry(&buf))
	require.NoError(t, SkipEntry(&buf))

	last, err := serializer.Deserialize(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last.Position())
	assert.Zero(t, buf.Len())
}

// TestTranscodeFromLegacyVersion exercises the upgrade path: a payload
// written without stored rows and with u16 value lengths is rebuilt in the
// latest format on deserialize.
func TestTranscodeFromLegacyVersion(t *testing.T) {
	schema := testSchema()
	legacyCodec, err := NewIndexInfoCodec(LegacyVersion, schema)
	require.NoError(t, err)
	latestCodec, err := NewIndexInfoCodec(LatestVersion, schema)
	require.NoError(t, err)

	deletion := clustering.DeletionTime{LocalDeletionTime: 31, MarkedForDeletionAt: 4100}
	infos := threeBlockInfos()

	// wire form as an old writer would have produced it
	var legacyPayload bytes.Buffer
	require.NoError(t, clustering.WriteDeletionTime(&legacyPayload, deletion))
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(infos)))
	legacyPayload.Write(countBuf[:])
	for _, info := range infos {
		require.NoError(t, legacyCodec.Encode(info, &legacyPayload))
	}

	var wire bytes.Buffer
	var header [12]byte
	binary.BigEndian.PutUint64(header[0:8], 900)
	binary.BigEndian.PutUint32(header[8:12], uint32(legacyPayload.Len()))
	wire.Write(header[:])
	wire.Write(legacyPayload.Bytes())

	serializer, err := NewEntrySerializer(LegacyVersion, schema)
	require.NoError(t, err)
	decoded, err := serializer.Deserialize(&wire)
	require.NoError(t, err)

	indexed, ok := decoded.(*IndexedEntry)
	require.True(t, ok)
	assert.Equal(t, int64(900), indexed.Position())
	assert.Equal(t, len(infos), indexed.ColumnsCount())

	gotDeletion, err := indexed.DeletionTime()
	require.NoError(t, err)
	assert.Equal(t, deletion, gotDeletion)

	for i, want := range infos {
		got, err := indexed.IndexInfo(i)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "block %d", i)
	}

	// re-serializing the transcoded entry equals re-encoding the same blocks
	// against the latest version
	var expected bytes.Buffer
	require.NoError(t, clustering.WriteDeletionTime(&expected, deletion))
	expected.Write(countBuf[:])
	for _, info := range infos {
		require.NoError(t, latestCodec.Encode(info, &expected))
	}
	assert.Equal(t, expected.Bytes(), indexed.payload)
}

func TestLazyDecodeEquivalenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	infos := threeBlockInfos()

	properties.Property("indexInfo is access-order independent", prop.ForAll(
		func(order []int) bool {
			e := buildIndexedEntry(t, 0, clustering.LiveDeletionTime, infos)
			for _, raw := range order {
				i := raw % len(infos)
				got, err := e.IndexInfo(i)
				if err != nil || !infos[i].Equal(got) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(infos)*5)),
	))

	properties.TestingRun(t)
}
