package kernel

import (
	"math"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
)

// HasNonFinite reports whether any element of dest in the pattern range
// [startPattern, endPattern) is NaN or infinite. The dispatcher calls
// this after every combine to implement spec.md §4.6/§7's "a kernel that
// detects non-finite output sets an instance-wide sticky error".
func HasNonFinite[R bcore.Precision](dest []R, d bcore.Dims, startPattern, endPattern int) bool {
	l := newLayout(d)
	for c := 0; c < l.categories; c++ {
		for p := startPattern; p < endPattern; p++ {
			for a := 0; a < l.states; a++ {
				v := float64(dest[l.partialsIdx(c, p, a)])
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return true
				}
			}
		}
	}
	return false
}

// zeroRowLogSentinel is recorded into a scale buffer when a pattern's
// entire row underflowed to zero and the caller asked the row be filled
// with ones instead of left at zero. It is a large but finite negative
// log-scale so a caller accumulating it into a cumulative buffer does not
// propagate an infinity, while still being far outside the range a real
// rescale would ever produce.
const zeroRowLogSentinel = -1e9

// Rescale implements rescalePartials: for each pattern in range, divide
// the row by its per-category-and-state maximum and record log(max) into
// scaleFactors (and, if cumulative is non-nil, add it there too).
func Rescale[R bcore.Precision](dest []R, scaleFactors, cumulative []R, fillWithOnes bool, d bcore.Dims, startPattern, endPattern int) {
	l := newLayout(d)
	for p := startPattern; p < endPattern; p++ {
		var m R
		for c := 0; c < l.categories; c++ {
			for a := 0; a < l.states; a++ {
				v := dest[l.partialsIdx(c, p, a)]
				if v > m {
					m = v
				}
			}
		}
		var logM R
		if m > 0 {
			logM = logReal(m)
			for c := 0; c < l.categories; c++ {
				for a := 0; a < l.states; a++ {
					idx := l.partialsIdx(c, p, a)
					dest[idx] = dest[idx] / m
				}
			}
		} else if fillWithOnes {
			logM = zeroRowLogSentinel
			for c := 0; c < l.categories; c++ {
				for a := 0; a < l.states; a++ {
					dest[l.partialsIdx(c, p, a)] = 1
				}
			}
		}
		if scaleFactors != nil {
			scaleFactors[p] = logM
		}
		if cumulative != nil {
			cumulative[p] += logM
		}
	}
}
