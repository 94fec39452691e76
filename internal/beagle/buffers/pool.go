// Package buffers implements the aligned buffer pool (C1): tip-state
// arrays, partials, transition matrices and scale buffers, all allocated
// once at instance creation and retained for the instance lifetime.
package buffers

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
)

// ErrOutOfMemory is returned when a Pool cannot be constructed for the
// requested dimensions, mirroring OUT_OF_MEMORY at createInstance.
var ErrOutOfMemory = errors.New("buffers: out of memory")

// alignment is the minimum byte alignment the pool guarantees for
// partials and matrix storage, sufficient for the widest vector register
// any supported architecture in the pack's dependency set advertises.
func alignment() int {
	if cpu.X86.HasAVX512F {
		return 64
	}
	if cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD {
		return 32
	}
	return 16
}

// Pool owns every buffer a beagle instance touches on the hot path. No
// buffer is ever allocated after New returns successfully.
type Pool[R bcore.Precision] struct {
	Dims bcore.Dims

	// TipStates holds the compact state sequence for tip buffers backed by
	// states (index < Dims.TipCount); nil for internal buffers and for
	// ambiguous tips represented via Partials instead.
	TipStates [][]int32

	// Partials holds C x P' x S reals per buffer, for every buffer index
	// not backed by TipStates.
	Partials [][]R

	// Matrices holds C blocks of S x S_T reals per transition-matrix index.
	Matrices [][]R

	// ScaleBuffers holds per-pattern log-scale contributions, one real per
	// pattern, per scale buffer index.
	ScaleBuffers [][]R

	// AutoScaleBuffers holds signed short exponent vectors for the
	// auto-scaling pathway, parallel to ScaleBuffers.
	AutoScaleBuffers [][]int16
}

// New allocates every buffer a beagle instance of the given dimensions
// will need, and returns ErrOutOfMemory if the dimensions would overflow
// a Go slice allocation or are otherwise nonsensical.
func New[R bcore.Precision](d bcore.Dims) (*Pool[R], error) {
	if d.PartialsLen() <= 0 || d.MatrixLen() <= 0 {
		return nil, fmt.Errorf("%w: degenerate buffer size for dims %+v", ErrOutOfMemory, d)
	}

	p := &Pool[R]{
		Dims:      d,
		TipStates: make([][]int32, d.BufferCount),
		Partials:  make([][]R, d.BufferCount),
		Matrices:  make([][]R, d.MatrixCount),
	}

	for i := 0; i < d.BufferCount; i++ {
		if i < d.CompactCount {
			p.TipStates[i] = make([]int32, d.PaddedPatternCount)
			continue
		}
		buf, err := alignedAlloc[R](d.PartialsLen(), alignment())
		if err != nil {
			return nil, err
		}
		p.Partials[i] = buf
	}

	for i := 0; i < d.MatrixCount; i++ {
		buf, err := alignedAlloc[R](d.MatrixLen(), alignment())
		if err != nil {
			return nil, err
		}
		// The padded column addressed by the ambiguity sentinel (state ==
		// S) must sum to 1.0 so an ambiguous tip contributes uniformly.
		for c := 0; c < d.CategoryCount; c++ {
			base := c * d.StateCount * d.PartialsStateStride
			for a := 0; a < d.StateCount; a++ {
				buf[base+a*d.PartialsStateStride+d.StateCount] = 1
			}
		}
		p.Matrices[i] = buf
	}

	if d.ScaleBufferCount > 0 {
		p.ScaleBuffers = make([][]R, d.ScaleBufferCount)
		p.AutoScaleBuffers = make([][]int16, d.ScaleBufferCount)
		for i := 0; i < d.ScaleBufferCount; i++ {
			buf, err := alignedAlloc[R](d.PaddedPatternCount, alignment())
			if err != nil {
				return nil, err
			}
			p.ScaleBuffers[i] = buf
			p.AutoScaleBuffers[i] = make([]int16, d.CategoryCount*d.PaddedPatternCount)
		}
	}

	return p, nil
}

// alignedAlloc returns a slice of n elements of R whose backing array
// starts at an address that is a multiple of align bytes. Go's allocator
// gives no alignment guarantee beyond the type's natural alignment, so a
// slightly oversized backing array is allocated and sliced to the first
// aligned element.
func alignedAlloc[R bcore.Precision](n, align int) ([]R, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrOutOfMemory, n)
	}
	var zero R
	elemSize := int(unsafe.Sizeof(zero))
	extra := align / elemSize
	if extra < 1 {
		extra = 1
	}
	raw := make([]R, n+extra)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	offset := int((uintptr(align) - addr%uintptr(align)) % uintptr(align) / uintptr(elemSize))
	return raw[offset : offset+n : offset+n], nil
}
