package kernel

import "github.com/matsengrp/beagle-lib/internal/beagle/bcore"

// layout centralizes the index arithmetic for the C x P' x S partials
// layout and the C x (S x S_T) transition-matrix layout, so the three
// combine kernels below read identically to the formulas in spec.md §4.4.
type layout struct {
	states       int // S
	categories   int // C
	paddedPat    int // P'
	rowStride    int // S_P, stride of one partials row (== S when PPad==0)
	matrixStride int // S_T, stride of one transition-matrix row
}

func newLayout(d bcore.Dims) layout {
	return layout{
		states:       d.StateCount,
		categories:   d.CategoryCount,
		paddedPat:    d.PaddedPatternCount,
		rowStride:    d.MatrixRowCount,
		matrixStride: d.PartialsStateStride,
	}
}

func (l layout) partialsIdx(c, p, a int) int {
	return c*l.paddedPat*l.rowStride + p*l.rowStride + a
}

func (l layout) matrixIdx(c, a, b int) int {
	return c*l.states*l.matrixStride + a*l.matrixStride + b
}
