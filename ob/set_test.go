package ob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetInsertContainsRemove(t *testing.T) {
	s := NewSet(0)
	assert.True(t, s.Insert(4))
	assert.False(t, s.Insert(4), "duplicate insert leaves one entry")
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Contains(4))
	assert.False(t, s.Contains(5))

	assert.True(t, s.Remove(4))
	assert.False(t, s.Remove(4))
	assert.False(t, s.Contains(4))
	assert.Equal(t, 0, s.Len())
}

func TestSetGrowth(t *testing.T) {
	s := NewSet(0)
	const n = 500
	for i := 0; i < n; i++ {
		require.True(t, s.Insert(uint64(i)*0x9e3779b9))
	}
	require.Equal(t, n, s.Len())
	for i := 0; i < n; i++ {
		assert.True(t, s.Contains(uint64(i)*0x9e3779b9), "key %d lost across growth", i)
	}
}

func TestSetRangeOrders(t *testing.T) {
	s := NewSet(0)
	keys := []uint64{9, 2, 77, 5}
	for _, k := range keys {
		s.Insert(k)
	}

	var insertion []uint64
	s.Range(func(key uint64) bool {
		insertion = append(insertion, key)
		return true
	})
	assert.Equal(t, keys, insertion)

	var sorted []uint64
	s.RangeByKey(func(key uint64) bool {
		sorted = append(sorted, key)
		return true
	})
	assert.Equal(t, []uint64{2, 5, 9, 77}, sorted)

	s.Clear()
	assert.Equal(t, 0, s.Len())
}
