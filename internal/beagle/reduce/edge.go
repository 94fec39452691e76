package reduce

import (
	"fmt"
	"math"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
)

func wrapNonPositive(p int, l float64) error {
	return fmt.Errorf("%w: pattern %d has edge likelihood %v", ErrNonPositiveLikelihood, p, l)
}

// edgeSite computes, for one pattern p, the three quantities the edge
// reduction needs: L_p, dL_p/dt and d2L_p/dt2, using whichever of
// firstDeriv/secondDeriv are non-nil (nil skips that quantity, leaving it
// zero).
func edgeSite[R bcore.Precision](parentPartials, childPartials []R, d bcore.Dims, categoryWeights, stateFrequencies []R, matrix, firstDeriv, secondDeriv []R, p int) (l, dl, d2l float64) {
	for c := 0; c < d.CategoryCount; c++ {
		var innerL, innerDL, innerD2L float64
		for a := 0; a < d.StateCount; a++ {
			pIdx := partialsIdx(d, c, p, a)
			pi := float64(stateFrequencies[a]) * float64(parentPartials[pIdx])
			var base, baseD, baseD2 float64
			for b := 0; b < d.StateCount; b++ {
				mIdx := matrixIdx(d, c, a, b)
				childVal := float64(childPartials[partialsIdx(d, c, p, b)])
				base += float64(matrix[mIdx]) * childVal
				if firstDeriv != nil {
					baseD += float64(firstDeriv[mIdx]) * childVal
				}
				if secondDeriv != nil {
					baseD2 += float64(secondDeriv[mIdx]) * childVal
				}
			}
			innerL += pi * base
			innerDL += pi * baseD
			innerD2L += pi * baseD2
		}
		w := float64(categoryWeights[c])
		l += w * innerL
		dl += w * innerDL
		d2l += w * innerD2L
	}
	return l, dl, d2l
}

// Edge computes the edge log-likelihood (and, when firstDeriv/secondDeriv
// are non-nil, its first/second derivative with respect to edge length)
// across [startPattern, endPattern), following spec.md §4.5's formula:
// L_p = sum_c w_c * sum_a pi_a * Qparent[c,p,a] * (sum_b M[c,a,b]*Qchild[c,p,b]).
func Edge[R bcore.Precision](parentPartials, childPartials []R, d bcore.Dims, categoryWeights, stateFrequencies, matrix, firstDeriv, secondDeriv []R, cumulativeScale []R, patternWeights []float64, outSiteLL, outSiteFirst, outSiteSecond []R, startPattern, endPattern int) (sumLL, sumFirst, sumSecond float64, err error) {
	for p := startPattern; p < endPattern; p++ {
		w := patternWeights[p]
		if w == 0 {
			continue
		}
		l, dl, d2l := edgeSite(parentPartials, childPartials, d, categoryWeights, stateFrequencies, matrix, firstDeriv, secondDeriv, p)
		if l <= 0 || math.IsNaN(l) || math.IsInf(l, 0) {
			return sumLL, sumFirst, sumSecond, wrapNonPositive(p, l)
		}
		scale := 0.0
		if cumulativeScale != nil {
			scale = float64(cumulativeScale[p])
		}
		ell := math.Log(l) + scale
		dell := dl / l
		d2ell := d2l/l - dell*dell

		if outSiteLL != nil {
			outSiteLL[p] = R(ell)
		}
		sumLL += w * ell

		if firstDeriv != nil {
			if outSiteFirst != nil {
				outSiteFirst[p] = R(dell)
			}
			sumFirst += w * dell
		}
		if secondDeriv != nil {
			if outSiteSecond != nil {
				outSiteSecond[p] = R(d2ell)
			}
			sumSecond += w * d2ell
		}
	}
	return sumLL, sumFirst, sumSecond, nil
}
