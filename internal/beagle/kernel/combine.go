// Package kernel implements the three Felsenstein combine kernels (C4):
// states x states, states x partials, partials x partials, each in a
// plain, fixed-scale and (partials x partials only) auto-scale variant,
// plus the rescale operator they share.
//
// Every kernel is a flat, allocation-free loop over a caller-supplied
// pattern range so the dispatcher (C6) can run it from any goroutine on a
// disjoint sub-range without synchronization.
package kernel

import "github.com/matsengrp/beagle-lib/internal/beagle/bcore"

// StatesStates combines two tip state buffers through their transition
// matrices: D[c,p,a] = M1[c,a,s1_p] * M2[c,a,s2_p]. A state value equal to
// d.StateCount is the ambiguity sentinel and addresses the matrix's padded
// column, which the buffer pool initializes to 1.0.
func StatesStates[R bcore.Precision](dest []R, states1 []int32, matrices1 []R, states2 []int32, matrices2 []R, d bcore.Dims, startPattern, endPattern int) {
	l := newLayout(d)
	for c := 0; c < l.categories; c++ {
		for p := startPattern; p < endPattern; p++ {
			s1, s2 := int(states1[p]), int(states2[p])
			for a := 0; a < l.states; a++ {
				m1 := matrices1[l.matrixIdx(c, a, s1)]
				m2 := matrices2[l.matrixIdx(c, a, s2)]
				dest[l.partialsIdx(c, p, a)] = m1 * m2
			}
		}
	}
}

// StatesPartials combines a tip state buffer and a partials buffer:
// D[c,p,a] = M1[c,a,s1_p] * sum_b M2[c,a,b] * Q2[c,p,b].
func StatesPartials[R bcore.Precision](dest []R, states1 []int32, matrices1 []R, partials2, matrices2 []R, d bcore.Dims, startPattern, endPattern int) {
	l := newLayout(d)
	for c := 0; c < l.categories; c++ {
		for p := startPattern; p < endPattern; p++ {
			s1 := int(states1[p])
			for a := 0; a < l.states; a++ {
				m1 := matrices1[l.matrixIdx(c, a, s1)]
				var sum R
				for b := 0; b < l.states; b++ {
					sum += matrices2[l.matrixIdx(c, a, b)] * partials2[l.partialsIdx(c, p, b)]
				}
				dest[l.partialsIdx(c, p, a)] = m1 * sum
			}
		}
	}
}

// PartialsPartials combines two partials buffers:
// D[c,p,a] = (sum_b M1[c,a,b]*Q1[c,p,b]) * (sum_b M2[c,a,b]*Q2[c,p,b]).
func PartialsPartials[R bcore.Precision](dest []R, partials1, matrices1, partials2, matrices2 []R, d bcore.Dims, startPattern, endPattern int) {
	l := newLayout(d)
	for c := 0; c < l.categories; c++ {
		for p := startPattern; p < endPattern; p++ {
			for a := 0; a < l.states; a++ {
				var sum1, sum2 R
				for b := 0; b < l.states; b++ {
					sum1 += matrices1[l.matrixIdx(c, a, b)] * partials1[l.partialsIdx(c, p, b)]
					sum2 += matrices2[l.matrixIdx(c, a, b)] * partials2[l.partialsIdx(c, p, b)]
				}
				dest[l.partialsIdx(c, p, a)] = sum1 * sum2
			}
		}
	}
}

// fixedScaleDivide divides every dest[c,p,a] in range by exp(scaleFactors[p]).
// Scale buffers hold log-scale contributions directly (bcore/DESIGN.md), so
// the actual divisor recorded by a prior Rescale call is its exponential.
func fixedScaleDivide[R bcore.Precision](dest []R, scaleFactors []R, d bcore.Dims, startPattern, endPattern int) {
	l := newLayout(d)
	for p := startPattern; p < endPattern; p++ {
		divisor := expReal(scaleFactors[p])
		for c := 0; c < l.categories; c++ {
			for a := 0; a < l.states; a++ {
				idx := l.partialsIdx(c, p, a)
				dest[idx] = dest[idx] / divisor
			}
		}
	}
}

// StatesStatesFixedScale is StatesStates followed by division by a
// previously recorded per-pattern scale factor.
func StatesStatesFixedScale[R bcore.Precision](dest []R, states1 []int32, matrices1 []R, states2 []int32, matrices2 []R, scaleFactors []R, d bcore.Dims, startPattern, endPattern int) {
	StatesStates(dest, states1, matrices1, states2, matrices2, d, startPattern, endPattern)
	fixedScaleDivide(dest, scaleFactors, d, startPattern, endPattern)
}

// StatesPartialsFixedScale is StatesPartials followed by division by a
// previously recorded per-pattern scale factor.
func StatesPartialsFixedScale[R bcore.Precision](dest []R, states1 []int32, matrices1 []R, partials2, matrices2 []R, scaleFactors []R, d bcore.Dims, startPattern, endPattern int) {
	StatesPartials(dest, states1, matrices1, partials2, matrices2, d, startPattern, endPattern)
	fixedScaleDivide(dest, scaleFactors, d, startPattern, endPattern)
}

// PartialsPartialsFixedScale is PartialsPartials followed by division by a
// previously recorded per-pattern scale factor.
func PartialsPartialsFixedScale[R bcore.Precision](dest []R, partials1, matrices1, partials2, matrices2, scaleFactors []R, d bcore.Dims, startPattern, endPattern int) {
	PartialsPartials(dest, partials1, matrices1, partials2, matrices2, d, startPattern, endPattern)
	fixedScaleDivide(dest, scaleFactors, d, startPattern, endPattern)
}
