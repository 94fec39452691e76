// Package beagle is a CPU-resident phylogenetic likelihood evaluation
// engine: given a tree topology's tip data, a substitution model's eigen
// decomposition and a set of transition matrices, it computes Felsenstein
// partial likelihoods and reduces them to per-site and total
// log-likelihoods, with derivatives with respect to edge length.
//
// The public surface is the Instance type; internal/beagle/... holds the
// buffer pool, pattern index, eigen/transition layer, combine kernels,
// reduction kernels, operation dispatcher and scale-factor accumulator
// Instance assembles.
package beagle

// None disables an optional index slot (scale buffer, derivative matrix,
// partition) in an operation or Update call, matching the C API's -1
// "NONE" sentinel.
const None = -1

// Operation combines two child buffers through their transition matrices
// into a destination buffer, the Go realization of the flattened 7-int
// operation tuple.
type Operation struct {
	Dest       int
	WriteScale int // None to skip recording a fresh scale factor
	ReadScale  int // None to skip dividing by a previously recorded one
	ChildA     int
	MatrixA    int
	ChildB     int
	MatrixB    int
}

// PartitionOperation is an Operation restricted to one partition's
// pattern range, with its own cumulative scale buffer, the Go
// realization of the flattened 9-int partition operation tuple.
type PartitionOperation struct {
	Operation
	Partition       int
	CumulativeScale int // None to skip
}

// MatrixUpdate is one row of an UpdateTransitionMatrices(WithMultipleModels)
// batch: derive a transition probability matrix (and optionally its
// first/second derivatives) for one edge length from one eigen
// decomposition and one category-rate vector.
type MatrixUpdate struct {
	EigenIndex         int
	CategoryRatesIndex int // 0 for the single-model form
	ProbIndex          int
	FirstDerivIndex    int // None to skip
	SecondDerivIndex   int // None to skip
	EdgeLength         float64
}

// InstanceDetails is read-only introspection of a created Instance's
// configuration, restored from BeagleInstanceDetails (spec.md treats
// resource *enumeration* as out of scope; reporting one's own
// configuration is not enumeration).
type InstanceDetails struct {
	ID                  string
	TipCount            int
	PartialsBufferCount int
	CompactBufferCount  int
	StateCount          int
	PatternCount        int
	EigenCount          int
	MatrixCount         int
	CategoryCount       int
	ScaleBufferCount    int
	ThreadCount         int
	AutoScaling         bool
	Precision           string
}
