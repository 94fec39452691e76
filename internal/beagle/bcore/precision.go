// Package bcore holds the small set of types shared by every beagle
// subpackage: the precision constraint, instance dimensions, and the
// None sentinel that disables an optional index slot.
package bcore

import "math"

// Precision is the set of floating point types the engine can be
// instantiated over. The source specializes at compile time on REALTYPE;
// Go generics stand in for that specialization (see DESIGN.md).
type Precision interface {
	~float32 | ~float64
}

// RealtypeMin returns the smallest representable positive value of R.
func RealtypeMin[R Precision]() R {
	var zero R
	switch any(zero).(type) {
	case float32:
		return R(math.SmallestNonzeroFloat32)
	default:
		return R(math.SmallestNonzeroFloat64)
	}
}

// None is the sentinel disabling an optional index slot (scale buffer,
// derivative matrix, partition) in an operation tuple.
const None = -1
