// Package eigen implements the eigen/transition layer (C3): deriving
// transition probability matrices and their edge-length derivatives from
// an eigen-decomposition, and convolving two transition matrices for
// epoch models. The eigen solver itself is treated as an external
// collaborator per spec.md §1; this package consumes an already-computed
// decomposition and performs the reconstruction
// P(t) = V * diag(exp(lambda_i * t)) * V^-1 the original CPU
// implementation assumes its EigenDecomposition dependency provides.
package eigen

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
	"github.com/matsengrp/beagle-lib/internal/beagle/buffers"
)

// ErrOutOfRange is returned for an invalid eigen, category-rate or matrix
// index.
var ErrOutOfRange = errors.New("eigen: index out of range")

// Decomposition holds one eigen-decomposition: real eigenvalues plus the
// eigenvector matrix and its inverse, stored densely via gonum as the
// teacher's own model-matrix types do (mvn_likelihood.go, utils.go).
// Complex eigenvalues (non-reversible models) are out of scope; this
// engine, like the CPU-only path of the original implementation, assumes
// a real spectral decomposition.
type Decomposition struct {
	Vectors    *mat.Dense // S x S
	InvVectors *mat.Dense // S x S
	Values     []float64  // length S
}

// Layer stores every eigen-decomposition and category-rate vector a
// beagle instance has been given, and derives transition probability
// matrices from them into a buffers.Pool.
type Layer[R bcore.Precision] struct {
	dims          bcore.Dims
	decomps       []*Decomposition
	categoryRates [][]float64
}

// New allocates an empty Layer for the given dimensions.
func New[R bcore.Precision](d bcore.Dims) *Layer[R] {
	return &Layer[R]{
		dims:          d,
		decomps:       make([]*Decomposition, d.EigenCount),
		categoryRates: make([][]float64, 1),
	}
}

// SetEigenDecomposition stores eigenIndex's eigenvectors, inverse
// eigenvectors (row-major S*S each) and eigenvalues (length S).
func (l *Layer[R]) SetEigenDecomposition(eigenIndex int, vectors, invVectors, values []float64) error {
	if eigenIndex < 0 || eigenIndex >= len(l.decomps) {
		return fmt.Errorf("%w: eigen index %d", ErrOutOfRange, eigenIndex)
	}
	s := l.dims.StateCount
	if len(vectors) != s*s || len(invVectors) != s*s || len(values) != s {
		return fmt.Errorf("%w: eigen index %d has mismatched dimensions", ErrOutOfRange, eigenIndex)
	}
	l.decomps[eigenIndex] = &Decomposition{
		Vectors:    mat.NewDense(s, s, append([]float64(nil), vectors...)),
		InvVectors: mat.NewDense(s, s, append([]float64(nil), invVectors...)),
		Values:     append([]float64(nil), values...),
	}
	return nil
}

// SetCategoryRates stores the category-rate vector at ratesIndex (index 0
// is the default, single-model set the public API's SetCategoryRates
// writes to; UpdateTransitionMatricesWithMultipleModels addresses others).
func (l *Layer[R]) SetCategoryRates(ratesIndex int, rates []float64) error {
	if ratesIndex < 0 {
		return fmt.Errorf("%w: category rates index %d", ErrOutOfRange, ratesIndex)
	}
	if len(rates) != l.dims.CategoryCount {
		return fmt.Errorf("%w: expected %d category rates, got %d", ErrOutOfRange, l.dims.CategoryCount, len(rates))
	}
	for ratesIndex >= len(l.categoryRates) {
		l.categoryRates = append(l.categoryRates, nil)
	}
	l.categoryRates[ratesIndex] = append([]float64(nil), rates...)
	return nil
}

// Derive writes P(edgeLength) into pool's probIndex matrix buffer, and
// optionally P'(edgeLength) / P''(edgeLength) into firstDerivIndex /
// secondDerivIndex (bcore.None to skip either).
func (l *Layer[R]) Derive(pool *buffers.Pool[R], eigenIndex, categoryRatesIndex, probIndex, firstDerivIndex, secondDerivIndex int, edgeLength float64) error {
	decomp, rates, err := l.lookup(eigenIndex, categoryRatesIndex)
	if err != nil {
		return err
	}
	if err := checkMatrixIndex(pool, probIndex); err != nil {
		return err
	}
	if firstDerivIndex != bcore.None {
		if err := checkMatrixIndex(pool, firstDerivIndex); err != nil {
			return err
		}
	}
	if secondDerivIndex != bcore.None {
		if err := checkMatrixIndex(pool, secondDerivIndex); err != nil {
			return err
		}
	}

	s := l.dims.StateCount
	for c := 0; c < l.dims.CategoryCount; c++ {
		t := edgeLength * rates[c]
		diag := make([]float64, s)
		diagFirst := make([]float64, s)
		diagSecond := make([]float64, s)
		for i, lambda := range decomp.Values {
			e := expOf(lambda * t)
			diag[i] = e
			diagFirst[i] = lambda * rates[c] * e
			diagSecond[i] = lambda * lambda * rates[c] * rates[c] * e
		}
		writeBlock(pool.Matrices[probIndex], decomp, diag, l.dims, c)
		if firstDerivIndex != bcore.None {
			writeBlock(pool.Matrices[firstDerivIndex], decomp, diagFirst, l.dims, c)
		}
		if secondDerivIndex != bcore.None {
			writeBlock(pool.Matrices[secondDerivIndex], decomp, diagSecond, l.dims, c)
		}
	}
	return nil
}

// Convolve computes result = first o second (per-category matrix product)
// for epoch models, per spec.md §4.3.
func (l *Layer[R]) Convolve(pool *buffers.Pool[R], firstIndex, secondIndex, resultIndex int) error {
	for _, idx := range []int{firstIndex, secondIndex, resultIndex} {
		if err := checkMatrixIndex(pool, idx); err != nil {
			return err
		}
	}
	s := l.dims.StateCount
	sT := l.dims.PartialsStateStride
	first, second, result := pool.Matrices[firstIndex], pool.Matrices[secondIndex], pool.Matrices[resultIndex]
	for c := 0; c < l.dims.CategoryCount; c++ {
		base := c * s * sT
		a := extractSquare(first[base:base+s*sT], s, sT)
		b := extractSquare(second[base:base+s*sT], s, sT)
		var out mat.Dense
		out.Mul(a, b)
		for i := 0; i < s; i++ {
			for j := 0; j < s; j++ {
				result[base+i*sT+j] = R(out.At(i, j))
			}
			result[base+i*sT+s] = 1
		}
	}
	return nil
}

func (l *Layer[R]) lookup(eigenIndex, categoryRatesIndex int) (*Decomposition, []float64, error) {
	if eigenIndex < 0 || eigenIndex >= len(l.decomps) || l.decomps[eigenIndex] == nil {
		return nil, nil, fmt.Errorf("%w: eigen index %d", ErrOutOfRange, eigenIndex)
	}
	if categoryRatesIndex < 0 || categoryRatesIndex >= len(l.categoryRates) || l.categoryRates[categoryRatesIndex] == nil {
		return nil, nil, fmt.Errorf("%w: category rates index %d", ErrOutOfRange, categoryRatesIndex)
	}
	return l.decomps[eigenIndex], l.categoryRates[categoryRatesIndex], nil
}

func checkMatrixIndex[R bcore.Precision](pool *buffers.Pool[R], idx int) error {
	if idx < 0 || idx >= len(pool.Matrices) {
		return fmt.Errorf("%w: matrix index %d", ErrOutOfRange, idx)
	}
	return nil
}

func writeBlock[R bcore.Precision](dest []R, decomp *Decomposition, diag []float64, d bcore.Dims, c int) {
	s := d.StateCount
	sT := d.PartialsStateStride
	base := c * s * sT
	for row := 0; row < s; row++ {
		for col := 0; col < s; col++ {
			var sum float64
			for k := 0; k < s; k++ {
				sum += decomp.Vectors.At(row, k) * diag[k] * decomp.InvVectors.At(k, col)
			}
			dest[base+row*sT+col] = R(sum)
		}
		dest[base+row*sT+s] = 1
	}
}

func extractSquare[R bcore.Precision](block []R, s, stride int) *mat.Dense {
	out := mat.NewDense(s, s, nil)
	for i := 0; i < s; i++ {
		for j := 0; j < s; j++ {
			out.Set(i, j, float64(block[i*stride+j]))
		}
	}
	return out
}

func expOf(x float64) float64 {
	return math.Exp(x)
}
