package filter

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)

	for i := 0; i < 1000; i++ {
		bf.Add([]byte(fmt.Sprintf("key%05d", i)))
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, bf.MayContain([]byte(fmt.Sprintf("key%05d", i))), "key%05d", i)
	}
}

func TestBloomFilterFalsePositiveRate(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)
	for i := 0; i < 1000; i++ {
		bf.Add([]byte(fmt.Sprintf("key%05d", i)))
	}

	falsePositives := 0
	probes := 10000
	for i := 0; i < probes; i++ {
		if bf.MayContain([]byte(fmt.Sprintf("absent%05d", i))) {
			falsePositives++
		}
	}
	// 1% target with generous slack
	assert.Less(t, falsePositives, probes/20,
		"false positive rate too high: %d of %d", falsePositives, probes)
}

func TestBloomFilterRoundTrip(t *testing.T) {
	bf := NewBloomFilter(100, 0.01)
	for i := 0; i < 100; i++ {
		bf.Add([]byte(fmt.Sprintf("k%d", i)))
	}

	var buf bytes.Buffer
	_, err := bf.WriteTo(&buf)
	require.NoError(t, err)

	loaded, err := ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, bf.BitSize(), loaded.BitSize())
	assert.Equal(t, bf.HashCount(), loaded.HashCount())

	for i := 0; i < 100; i++ {
		assert.True(t, loaded.MayContain([]byte(fmt.Sprintf("k%d", i))))
	}
}

func TestBloomFilterDegenerateParameters(t *testing.T) {
	bf := NewBloomFilter(0, 2.0)
	bf.Add([]byte("a"))
	assert.True(t, bf.MayContain([]byte("a")))
}
