package kernel

import (
	"math"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
)

// PartialsPartialsAutoScale computes the partials x partials combine and,
// per pattern, records the binary exponent of the row's maximum magnitude
// into autoScaleBuffer (via math.Frexp, the same normal-form exponent the
// original implementation extracts to drive its deferred auto-rescale
// pathway). It reports true if any pattern's exponent crossed
// scalingExponentThreshold, signaling the caller should invoke AutoRescale
// before the buffer is read further.
func PartialsPartialsAutoScale[R bcore.Precision](dest []R, partials1, matrices1, partials2, matrices2 []R, autoScaleBuffer []int16, scalingExponentThreshold int, d bcore.Dims, startPattern, endPattern int) (activate bool) {
	PartialsPartials(dest, partials1, matrices1, partials2, matrices2, d, startPattern, endPattern)
	l := newLayout(d)
	for p := startPattern; p < endPattern; p++ {
		var m R
		for c := 0; c < l.categories; c++ {
			for a := 0; a < l.states; a++ {
				v := dest[l.partialsIdx(c, p, a)]
				if v < 0 {
					v = -v
				}
				if v > m {
					m = v
				}
			}
		}
		exp := 0
		if m > 0 {
			_, exp = math.Frexp(float64(m))
		}
		autoScaleBuffer[p] = int16(exp)
		if exp > scalingExponentThreshold || -exp > scalingExponentThreshold {
			activate = true
		}
	}
	return activate
}

// AutoRescale divides each row by 2^exponent using the exponents a prior
// PartialsPartialsAutoScale call recorded, the deferred half of the
// auto-scale pathway (autoRescalePartials in the original implementation).
func AutoRescale[R bcore.Precision](dest []R, autoScaleBuffer []int16, d bcore.Dims, startPattern, endPattern int) {
	l := newLayout(d)
	for p := startPattern; p < endPattern; p++ {
		exp := autoScaleBuffer[p]
		if exp == 0 {
			continue
		}
		scale := R(math.Ldexp(1, -int(exp)))
		for c := 0; c < l.categories; c++ {
			for a := 0; a < l.states; a++ {
				idx := l.partialsIdx(c, p, a)
				dest[idx] = dest[idx] * scale
			}
		}
	}
}
