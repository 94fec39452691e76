package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToSinglePartition(t *testing.T) {
	t.Parallel()
	ix := New(6)
	assert.Equal(t, 6, ix.PatternCount())
	assert.Equal(t, 1, ix.PartitionCount())
	assert.False(t, ix.Reordered())

	r, err := ix.Range(0)
	require.NoError(t, err)
	assert.Equal(t, Range{0, 6}, r)
}

func TestSetPartitionsGroupsContiguously(t *testing.T) {
	t.Parallel()
	ix := New(6)
	// patterns 0,2,4 -> partition 0; 1,3,5 -> partition 1
	require.NoError(t, ix.SetPartitions([]int{0, 1, 0, 1, 0, 1}))

	assert.True(t, ix.Reordered())
	assert.Equal(t, 2, ix.PartitionCount())

	r0, err := ix.Range(0)
	require.NoError(t, err)
	r1, err := ix.Range(1)
	require.NoError(t, err)
	assert.Equal(t, Range{0, 3}, r0)
	assert.Equal(t, Range{3, 6}, r1)

	order := ix.NewOrder()
	require.Len(t, order, 6)
	assert.Equal(t, []int{0, 2, 4, 1, 3, 5}, order)

	inv := ix.Inverse()
	for newIdx, oldIdx := range order {
		assert.Equal(t, newIdx, inv[oldIdx])
	}
}

func TestSetPartitionsPreservesWithinPartitionOrder(t *testing.T) {
	t.Parallel()
	ix := New(4)
	require.NoError(t, ix.SetPartitions([]int{1, 0, 1, 0}))
	assert.Equal(t, []int{1, 3, 0, 2}, ix.NewOrder())
}

func TestSetPartitionsRejectsBadInput(t *testing.T) {
	t.Parallel()
	ix := New(3)

	err := ix.SetPartitions([]int{0, 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = ix.SetPartitions([]int{0, -1, 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestRangeOutOfBounds(t *testing.T) {
	t.Parallel()
	ix := New(4)
	_, err := ix.Range(5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestPermuteWithoutReorderCopies(t *testing.T) {
	t.Parallel()
	ix := New(3)
	src := []float64{1, 2, 3}
	dst := Permute(ix, src)
	assert.Equal(t, src, dst)

	dst[0] = 99
	assert.Equal(t, 1.0, src[0], "Permute must return a copy, not an alias")
}

func TestPermuteAppliesReorder(t *testing.T) {
	t.Parallel()
	ix := New(4)
	require.NoError(t, ix.SetPartitions([]int{1, 0, 1, 0}))

	src := []string{"a", "b", "c", "d"}
	dst := Permute(ix, src)
	// newOrder is [1,3,0,2] -> dst[k] = src[newOrder[k]]
	assert.Equal(t, []string{"b", "d", "a", "c"}, dst)
}
