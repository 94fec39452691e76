// Package patterns implements the pattern/partition index (C2): mapping
// each site pattern to a partition, and the in-place contiguous reorder
// that partition-based scheduling requires.
package patterns

import (
	"errors"
	"fmt"
	"sort"
)

// ErrOutOfRange is returned for an invalid partition index or count.
var ErrOutOfRange = errors.New("patterns: index out of range")

// Range is a half-open [Start, End) span of post-reorder pattern indices
// belonging to one partition.
type Range struct {
	Start, End int
}

// Index holds the partition assignment for every pattern and the
// permutation applied to bring same-partition patterns into contiguous
// ranges.
type Index struct {
	patternCount   int
	partitionOf    []int   // length patternCount, in ORIGINAL pattern order
	partitionCount int
	ranges         []Range // length partitionCount, post-reorder
	newOrder       []int   // newOrder[newIndex] = oldIndex
	inverse        []int   // inverse[oldIndex] = newIndex
	reordered      bool
}

// New creates an Index over patternCount patterns with no partitions set;
// every pattern belongs to the single implicit partition [0, patternCount).
func New(patternCount int) *Index {
	return &Index{
		patternCount: patternCount,
		ranges:       []Range{{0, patternCount}},
	}
}

// PatternCount returns the number of patterns the index was built over.
func (ix *Index) PatternCount() int { return ix.patternCount }

// PartitionCount returns the number of partitions currently defined, or 1
// if SetPartitions has never been called.
func (ix *Index) PartitionCount() int {
	if ix.partitionCount == 0 {
		return 1
	}
	return ix.partitionCount
}

// Reordered reports whether SetPartitions has permuted the pattern space
// since construction. Once set, the flag is never cleared.
func (ix *Index) Reordered() bool { return ix.reordered }

// Range returns the post-reorder [start, end) pattern span for partition.
func (ix *Index) Range(partition int) (Range, error) {
	if partition < 0 || partition >= len(ix.ranges) {
		return Range{}, fmt.Errorf("%w: partition %d", ErrOutOfRange, partition)
	}
	return ix.ranges[partition], nil
}

// NewOrder returns newOrder[newIndex] = oldIndex, or nil if no reorder has
// happened. Callers use this to permute pattern-indexed data they own.
func (ix *Index) NewOrder() []int { return ix.newOrder }

// Inverse returns inverse[oldIndex] = newIndex, or nil if no reorder has
// happened.
func (ix *Index) Inverse() []int { return ix.inverse }

// SetPartitions assigns each pattern (in original order) to a partition
// and computes the contiguous reordering. partitionOf must have length
// PatternCount() and values in [0, partitionCount).
func (ix *Index) SetPartitions(partitionOf []int) error {
	if len(partitionOf) != ix.patternCount {
		return fmt.Errorf("%w: expected %d assignments, got %d", ErrOutOfRange, ix.patternCount, len(partitionOf))
	}
	maxPartition := -1
	for _, p := range partitionOf {
		if p < 0 {
			return fmt.Errorf("%w: negative partition %d", ErrOutOfRange, p)
		}
		if p > maxPartition {
			maxPartition = p
		}
	}
	partitionCount := maxPartition + 1

	// Stable sort of original pattern indices by partition keeps
	// within-partition site order, matching reorderPatternsByPartition's
	// intent of grouping without needless churn.
	order := make([]int, ix.patternCount)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return partitionOf[order[i]] < partitionOf[order[j]]
	})

	inverse := make([]int, ix.patternCount)
	for newIdx, oldIdx := range order {
		inverse[oldIdx] = newIdx
	}

	ranges := make([]Range, partitionCount)
	start := 0
	for p := 0; p < partitionCount; p++ {
		end := start
		for end < ix.patternCount && partitionOf[order[end]] == p {
			end++
		}
		ranges[p] = Range{Start: start, End: end}
		start = end
	}

	ix.partitionOf = append([]int(nil), partitionOf...)
	ix.partitionCount = partitionCount
	ix.ranges = ranges
	ix.newOrder = order
	ix.inverse = inverse
	ix.reordered = true
	return nil
}

// Permute reorders src (in original pattern order) into dst (post-reorder
// order) using the current NewOrder. If no reorder is active, dst is a
// copy of src.
func Permute[T any](ix *Index, src []T) []T {
	if ix.newOrder == nil {
		out := make([]T, len(src))
		copy(out, src)
		return out
	}
	out := make([]T, len(src))
	for newIdx, oldIdx := range ix.newOrder {
		out[newIdx] = src[oldIdx]
	}
	return out
}
