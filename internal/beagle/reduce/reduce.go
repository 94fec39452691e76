// Package reduce implements the reduction kernels (C5): root and edge
// log-likelihoods and their edge-length derivatives, aggregated by
// pattern weight into scalars, plain and per-partition.
package reduce

import (
	"errors"
	"fmt"
	"math"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
)

// ErrNonPositiveLikelihood is returned when a site likelihood is
// non-positive or non-finite after scaling, mapping to
// FLOATING_POINT_ERROR at the public API boundary.
var ErrNonPositiveLikelihood = errors.New("reduce: non-positive or non-finite site likelihood")

func partialsIdx(d bcore.Dims, c, p, a int) int {
	return c*d.PaddedPatternCount*d.MatrixRowCount + p*d.MatrixRowCount + a
}

func matrixIdx(d bcore.Dims, c, a, b int) int {
	return c*d.StateCount*d.PartialsStateStride + a*d.PartialsStateStride + b
}

// siteLikelihood computes L_p = sum_c w_c * sum_a pi_a * Q[c,p,a] for one
// pattern.
func siteLikelihood[R bcore.Precision](partials []R, d bcore.Dims, categoryWeights, stateFrequencies []R, p int) float64 {
	var l float64
	for c := 0; c < d.CategoryCount; c++ {
		var inner float64
		for a := 0; a < d.StateCount; a++ {
			inner += float64(stateFrequencies[a]) * float64(partials[partialsIdx(d, c, p, a)])
		}
		l += float64(categoryWeights[c]) * inner
	}
	return l
}

// Root computes the per-pattern root log-likelihood over [startPattern,
// endPattern), writes it into outSiteLL, accumulates patternWeights[p] *
// (log(L_p) + scale_p) into the returned sum, and returns
// ErrNonPositiveLikelihood the first time a non-padding pattern's
// likelihood is non-positive or non-finite. Patterns with zero weight
// (padding) are never validated or aggregated.
func Root[R bcore.Precision](partials []R, d bcore.Dims, categoryWeights, stateFrequencies []R, cumulativeScale []R, patternWeights []float64, outSiteLL []R, startPattern, endPattern int) (float64, error) {
	var sum float64
	for p := startPattern; p < endPattern; p++ {
		w := patternWeights[p]
		if w == 0 {
			continue
		}
		l := siteLikelihood(partials, d, categoryWeights, stateFrequencies, p)
		if l <= 0 || math.IsNaN(l) || math.IsInf(l, 0) {
			return sum, fmt.Errorf("%w: pattern %d has likelihood %v", ErrNonPositiveLikelihood, p, l)
		}
		scale := 0.0
		if cumulativeScale != nil {
			scale = float64(cumulativeScale[p])
		}
		ell := math.Log(l) + scale
		if outSiteLL != nil {
			outSiteLL[p] = R(ell)
		}
		sum += w * ell
	}
	return sum, nil
}

// RootMulti computes a weighted mixture across several root buffers (used
// for model averaging): per pattern, the weighted L_p values are summed
// before taking the log, rather than averaging the logs.
func RootMulti[R bcore.Precision](rootPartials [][]R, rootWeights []float64, d bcore.Dims, categoryWeights, stateFrequencies []R, cumulativeScales [][]R, patternWeights []float64, outSiteLL []R, startPattern, endPattern int) (float64, error) {
	if len(rootPartials) != len(rootWeights) {
		return 0, fmt.Errorf("%w: %d root buffers but %d weights", ErrNonPositiveLikelihood, len(rootPartials), len(rootWeights))
	}
	var sum float64
	for p := startPattern; p < endPattern; p++ {
		w := patternWeights[p]
		if w == 0 {
			continue
		}
		var l float64
		for r, partials := range rootPartials {
			lr := siteLikelihood(partials, d, categoryWeights, stateFrequencies, p)
			scale := 0.0
			if cumulativeScales != nil && cumulativeScales[r] != nil {
				scale = float64(cumulativeScales[r][p])
			}
			l += rootWeights[r] * lr * math.Exp(scale)
		}
		if l <= 0 || math.IsNaN(l) || math.IsInf(l, 0) {
			return sum, fmt.Errorf("%w: pattern %d has mixture likelihood %v", ErrNonPositiveLikelihood, p, l)
		}
		ell := math.Log(l)
		if outSiteLL != nil {
			outSiteLL[p] = R(ell)
		}
		sum += w * ell
	}
	return sum, nil
}
