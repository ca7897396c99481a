package sstable

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
)

// PartitionKey is a decorated partition key: the raw key bytes plus the token
// its partitioner assigned. Tables are ordered by token first, key bytes
// second, so hashed partitioning spreads partitions evenly while keeping a
// total order.
type PartitionKey struct {
	Token uint64
	Key   []byte
}

// DecorateKey tokenizes raw key bytes with the default hash partitioner
func DecorateKey(key []byte) PartitionKey {
	return PartitionKey{Token: xxhash.Sum64(key), Key: key}
}

// Compare orders decorated keys by token, then raw bytes
func (k PartitionKey) Compare(other PartitionKey) int {
	switch {
	case k.Token < other.Token:
		return -1
	case k.Token > other.Token:
		return 1
	default:
		return bytes.Compare(k.Key, other.Key)
	}
}
