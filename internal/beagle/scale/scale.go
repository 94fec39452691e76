// Package scale implements the scale-factor accumulator (C7): per-buffer
// and cumulative log-scale bookkeeping over the buffers owned by C1.
package scale

import (
	"errors"
	"fmt"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
	"github.com/matsengrp/beagle-lib/internal/beagle/patterns"
)

// ErrOutOfRange is returned for an invalid scale-buffer or partition index.
var ErrOutOfRange = errors.New("scale: index out of range")

// Accumulate adds, for each pattern, the sum over indices of
// buffers[i][pattern] into cumulative[pattern]. Buffers hold log-scales
// directly, so accumulation is plain addition. A count of zero is a no-op.
func Accumulate[R bcore.Precision](buffers [][]R, indices []int, cumulative []R) error {
	return combine(buffers, indices, cumulative, 1)
}

// Remove subtracts the same sum Accumulate would add.
func Remove[R bcore.Precision](buffers [][]R, indices []int, cumulative []R) error {
	return combine(buffers, indices, cumulative, -1)
}

func combine[R bcore.Precision](buffers [][]R, indices []int, cumulative []R, sign R) error {
	if len(indices) == 0 {
		return nil
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(buffers) || buffers[idx] == nil {
			return fmt.Errorf("%w: scale buffer %d", ErrOutOfRange, idx)
		}
		src := buffers[idx]
		if len(src) != len(cumulative) {
			return fmt.Errorf("%w: scale buffer %d has %d patterns, cumulative has %d", ErrOutOfRange, idx, len(src), len(cumulative))
		}
		for p := range cumulative {
			cumulative[p] += sign * src[p]
		}
	}
	return nil
}

// AccumulateByPartition restricts Accumulate to a partition's pattern range.
func AccumulateByPartition[R bcore.Precision](buffers [][]R, indices []int, cumulative []R, ix *patterns.Index, partition int) error {
	r, err := ix.Range(partition)
	if err != nil {
		return err
	}
	return combineRange(buffers, indices, cumulative, 1, r)
}

// RemoveByPartition restricts Remove to a partition's pattern range.
func RemoveByPartition[R bcore.Precision](buffers [][]R, indices []int, cumulative []R, ix *patterns.Index, partition int) error {
	r, err := ix.Range(partition)
	if err != nil {
		return err
	}
	return combineRange(buffers, indices, cumulative, -1, r)
}

func combineRange[R bcore.Precision](buffers [][]R, indices []int, cumulative []R, sign R, r patterns.Range) error {
	if len(indices) == 0 {
		return nil
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(buffers) || buffers[idx] == nil {
			return fmt.Errorf("%w: scale buffer %d", ErrOutOfRange, idx)
		}
		src := buffers[idx]
		for p := r.Start; p < r.End && p < len(cumulative) && p < len(src); p++ {
			cumulative[p] += sign * src[p]
		}
	}
	return nil
}

// Reset zeroes the cumulative buffer.
func Reset[R bcore.Precision](cumulative []R) {
	for i := range cumulative {
		cumulative[i] = 0
	}
}

// ResetByPartition zeroes only a partition's range of the cumulative buffer.
func ResetByPartition[R bcore.Precision](cumulative []R, ix *patterns.Index, partition int) error {
	r, err := ix.Range(partition)
	if err != nil {
		return err
	}
	for p := r.Start; p < r.End && p < len(cumulative); p++ {
		cumulative[p] = 0
	}
	return nil
}

// Copy blits src into dest.
func Copy[R bcore.Precision](dest, src []R) error {
	if len(dest) != len(src) {
		return fmt.Errorf("%w: length mismatch dest=%d src=%d", ErrOutOfRange, len(dest), len(src))
	}
	copy(dest, src)
	return nil
}
