package ob

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	minBuckets    = 16
	loadFactorNum = 3 // grow when count exceeds 3/4 of the bucket count
	loadFactorDen = 4
)

// hashKey mixes a raw uint64 key. Keys in practice are dense small integers
// (pids) or aligned addresses, so the low bits picking the bucket need the
// avalanche.
func hashKey(key uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], key)
	return xxhash.Sum64(b[:])
}

// KeyOf derives a stable uint64 key from a string identifier such as a vfs
// path or module name.
func KeyOf(s string) uint64 {
	return xxhash.Sum64String(s)
}

// bucketCount rounds a capacity hint up to a power of two so bucket
// selection is a mask.
func bucketCount(hint int) int {
	n := minBuckets
	for n < hint {
		n <<= 1
	}
	return n
}
