package buffers

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
)

func testDims(t *testing.T) bcore.Dims {
	t.Helper()
	d, err := bcore.New(3, 5, 2, 4, 10, 1, 2, 2, 1)
	require.NoError(t, err)
	return d
}

func TestNewAllocatesEveryBuffer(t *testing.T) {
	t.Parallel()
	d := testDims(t)

	p, err := New[float64](d)
	require.NoError(t, err)

	require.Len(t, p.TipStates, d.BufferCount)
	require.Len(t, p.Partials, d.BufferCount)
	for i := 0; i < d.CompactCount; i++ {
		assert.NotNil(t, p.TipStates[i])
		assert.Nil(t, p.Partials[i])
	}
	for i := d.CompactCount; i < d.BufferCount; i++ {
		assert.Nil(t, p.TipStates[i])
		assert.Len(t, p.Partials[i], d.PartialsLen())
	}

	require.Len(t, p.Matrices, d.MatrixCount)
	for _, m := range p.Matrices {
		assert.Len(t, m, d.MatrixLen())
	}

	require.Len(t, p.ScaleBuffers, d.ScaleBufferCount)
	require.Len(t, p.AutoScaleBuffers, d.ScaleBufferCount)
}

func TestNewSeedsAmbiguitySentinelColumn(t *testing.T) {
	t.Parallel()
	d := testDims(t)

	p, err := New[float64](d)
	require.NoError(t, err)

	for _, m := range p.Matrices {
		for c := 0; c < d.CategoryCount; c++ {
			base := c * d.StateCount * d.PartialsStateStride
			for a := 0; a < d.StateCount; a++ {
				assert.Equal(t, 1.0, m[base+a*d.PartialsStateStride+d.StateCount])
			}
		}
	}
}

func TestNewRejectsDegenerateDims(t *testing.T) {
	t.Parallel()
	_, err := New[float64](bcore.Dims{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestAlignedAllocAlignment(t *testing.T) {
	t.Parallel()
	buf, err := alignedAlloc[float64](17, 32)
	require.NoError(t, err)
	require.Len(t, buf, 17)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	assert.Equal(t, uintptr(0), addr%32)
}

func TestAlignedAllocRejectsNegativeLength(t *testing.T) {
	t.Parallel()
	_, err := alignedAlloc[float64](-1, 32)
	require.Error(t, err)
}
