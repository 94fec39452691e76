// Package prior implements branch-length priors using gonum's
// stat/distuv the way tomopfuku-cophycollapse's own mcmc.go draws its
// proposal and prior densities. No command in this module imports it.
package prior

import "gonum.org/v1/gonum/stat/distuv"

// ExponentialBranchLength is an i.i.d. Exponential(rate) prior over
// every branch length in a tree, the default BEAGLE-adjacent choice for
// a demonstration driver with no inference machinery behind it.
type ExponentialBranchLength struct {
	dist distuv.Exponential
}

// NewExponentialBranchLength builds a prior with the given rate
// (1/mean).
func NewExponentialBranchLength(rate float64) ExponentialBranchLength {
	return ExponentialBranchLength{dist: distuv.Exponential{Rate: rate}}
}

// LogDensity returns the summed log-density of lengths under the prior.
func (p ExponentialBranchLength) LogDensity(lengths []float64) float64 {
	var sum float64
	for _, l := range lengths {
		sum += p.dist.LogProb(l)
	}
	return sum
}

// Sample draws n i.i.d. branch lengths from the prior.
func (p ExponentialBranchLength) Sample(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = p.dist.Rand()
	}
	return out
}
