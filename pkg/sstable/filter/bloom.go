// Package filter implements the Bloom filter component guarding partition
// lookups. A filter may say a key exists when it does not; it never says a
// present key is absent.
package filter

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"
)

// BloomFilter is a fixed-size bit array with k hash probes per key. The
// writer feeds it every partition key it appends; the filter is write-only
// during a table's construction, so an aborted partition leaves its key
// behind as a harmless false positive.
type BloomFilter struct {
	words []uint64
	nbits uint64
	k     uint32
}

// NewBloomFilter sizes a filter for the expected key count and target false
// positive chance.
//
//	m = -(n * ln(p)) / (ln(2)^2)
//	k = (m/n) * ln(2)
func NewBloomFilter(expectedKeys int64, fpChance float64) *BloomFilter {
	if expectedKeys <= 0 {
		expectedKeys = 1
	}
	if fpChance <= 0 || fpChance >= 1 {
		fpChance = 0.01
	}

	nbits := uint64(math.Ceil(-float64(expectedKeys) * math.Log(fpChance) / (math.Ln2 * math.Ln2)))
	if nbits < 64 {
		nbits = 64
	}
	k := uint32(math.Ceil(float64(nbits) / float64(expectedKeys) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	return &BloomFilter{
		words: make([]uint64, (nbits+63)/64),
		nbits: nbits,
		k:     k,
	}
}

// Add inserts a key
func (f *BloomFilter) Add(key []byte) {
	h1, h2 := f.hashes(key)
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.nbits
		f.words[bit/64] |= 1 << (bit % 64)
	}
}

// MayContain reports whether the key might have been added
func (f *BloomFilter) MayContain(key []byte) bool {
	h1, h2 := f.hashes(key)
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.nbits
		if f.words[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// hashes derives the two independent hash values the probe sequence combines
func (f *BloomFilter) hashes(key []byte) (uint64, uint64) {
	h1 := xxhash.Sum64(key)

	d := xxhash.New()
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], h1)
	d.Write(seed[:])
	d.Write(key)
	h2 := d.Sum64() | 1 // odd, so the probe stride cannot collapse

	return h1, h2
}

// BitSize returns the filter's size in bits
func (f *BloomFilter) BitSize() uint64 { return f.nbits }

// HashCount returns the number of probes per key
func (f *BloomFilter) HashCount() uint32 { return f.k }

// WriteTo serializes the filter: probe count, bit count, then the bit words
func (f *BloomFilter) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 12+8*len(f.words))
	binary.BigEndian.PutUint32(buf[0:4], f.k)
	binary.BigEndian.PutUint64(buf[4:12], f.nbits)
	for i, word := range f.words {
		binary.BigEndian.PutUint64(buf[12+8*i:], word)
	}
	n, err := w.Write(buf)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write bloom filter: %w", err)
	}
	return int64(n), nil
}

// ReadFrom deserializes a filter written by WriteTo
func ReadFrom(r io.Reader) (*BloomFilter, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read bloom filter header: %w", err)
	}
	k := binary.BigEndian.Uint32(header[0:4])
	nbits := binary.BigEndian.Uint64(header[4:12])
	if k == 0 || nbits == 0 {
		return nil, fmt.Errorf("invalid bloom filter header: k=%d bits=%d", k, nbits)
	}

	words := make([]uint64, (nbits+63)/64)
	buf := make([]byte, 8*len(words))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read bloom filter bits: %w", err)
	}
	for i := range words {
		words[i] = binary.BigEndian.Uint64(buf[8*i:])
	}
	return &BloomFilter{words: words, nbits: nbits, k: k}, nil
}
