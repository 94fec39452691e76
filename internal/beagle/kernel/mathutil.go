package kernel

import "math"

// expReal and logReal let the generic kernels call math.Exp/math.Log
// regardless of whether R is float32 or float64, without paying for an
// interface dispatch inside the hot loop's per-pattern (not per-element)
// call site.
func expReal[R ~float32 | ~float64](x R) R {
	return R(math.Exp(float64(x)))
}

func logReal[R ~float32 | ~float64](x R) R {
	return R(math.Log(float64(x)))
}
