package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutoThreadCountSingleCoreAlwaysSerial(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1, autoThreadCount(1, 1_000_000))
}

func TestAutoThreadCountBelowThresholdIsSerial(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1, autoThreadCount(4, MinPatternCountHigh-1))
	assert.Equal(t, 1, autoThreadCount(32, MinPatternCountLow-1))
}

func TestAutoThreadCountUsesLowThresholdOnManyCores(t *testing.T) {
	t.Parallel()
	// exactly at the many-core boundary
	n := autoThreadCount(HWThreadCountThreshold, MinPatternCountLow)
	assert.GreaterOrEqual(t, n, 2)
}

func TestAutoThreadCountSaturatesAboveLimit(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 8, autoThreadCount(8, LimitPatternCount))
	assert.Equal(t, 8, autoThreadCount(8, LimitPatternCount*4))
}

func TestAutoThreadCountNeverExceedsHwThreads(t *testing.T) {
	t.Parallel()
	for _, patterns := range []int{300, 1000, 50000, 200000} {
		n := autoThreadCount(4, patterns)
		assert.LessOrEqual(t, n, 4)
		assert.GreaterOrEqual(t, n, 1)
	}
}

func TestSplitRangeProducesContiguousNonEmptyChunks(t *testing.T) {
	t.Parallel()
	ranges := splitRange(10, 3)
	assert.Len(t, ranges, 3)
	total := 0
	prevEnd := 0
	for _, r := range ranges {
		assert.Equal(t, prevEnd, r.start)
		assert.Greater(t, r.end, r.start)
		total += r.end - r.start
		prevEnd = r.end
	}
	assert.Equal(t, 10, total)
}

func TestSplitRangeClampsPartsToN(t *testing.T) {
	t.Parallel()
	ranges := splitRange(2, 8)
	assert.Len(t, ranges, 2)
}
