package sstable

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStats(t *testing.T, s *StatsCollector) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats")
	require.NoError(t, s.WriteTo(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestStatsCollectorTracksExtremes(t *testing.T) {
	s := NewStatsCollector()
	s.Update(100, 2, 10, 500, 900)
	s.Update(300, 5, 7, 200, 1200)
	s.SetKeys([]byte("aa"), []byte("zz"))

	assert.Equal(t, int64(2), s.Partitions())

	data := writeStats(t, s)
	assert.Equal(t, uint64(2), binary.BigEndian.Uint64(data[0:8]), "partitions")
	assert.Equal(t, uint64(7), binary.BigEndian.Uint64(data[8:16]), "atoms")
	assert.Equal(t, uint64(400), binary.BigEndian.Uint64(data[16:24]), "atom bytes")
	assert.Equal(t, uint64(300), binary.BigEndian.Uint64(data[24:32]), "max partition size")
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(data[32:36]), "min deletion time")
	assert.Equal(t, uint32(10), binary.BigEndian.Uint32(data[36:40]), "max deletion time")
	assert.Equal(t, uint64(200), binary.BigEndian.Uint64(data[40:48]), "min timestamp")
	assert.Equal(t, uint64(1200), binary.BigEndian.Uint64(data[48:56]), "max timestamp")

	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(data[56:58]))
	assert.Equal(t, []byte("aa"), data[58:60])
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(data[60:62]))
	assert.Equal(t, []byte("zz"), data[62:64])
}

func TestStatsCollectorIgnoresLiveDeletion(t *testing.T) {
	s := NewStatsCollector()
	s.Update(10, 1, math.MaxInt32, 5, 5)

	data := writeStats(t, s)
	assert.Equal(t, uint32(math.MaxInt32), binary.BigEndian.Uint32(data[32:36]),
		"min deletion time stays at its sentinel")
	assert.Equal(t, int32(math.MinInt32), int32(binary.BigEndian.Uint32(data[36:40])),
		"max deletion time stays at its sentinel")
}

func TestStatsCollectorIgnoresEmptyTimestampRange(t *testing.T) {
	s := NewStatsCollector()
	s.Update(10, 0, 1, math.MaxInt64, math.MinInt64)

	data := writeStats(t, s)
	assert.Equal(t, int64(math.MaxInt64), int64(binary.BigEndian.Uint64(data[40:48])))
	assert.Equal(t, int64(math.MinInt64), int64(binary.BigEndian.Uint64(data[48:56])))
}
