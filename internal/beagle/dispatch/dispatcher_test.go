package dispatch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
	"github.com/matsengrp/beagle-lib/internal/beagle/buffers"
	"github.com/matsengrp/beagle-lib/internal/beagle/patterns"
)

// setupDispatch builds a 2-tip, 1-internal-buffer instance: tips 0 and 1 (compact
// states), internal buffer 2, one identity transition matrix shared by
// both children.
func setupDispatch(t *testing.T) (*Dispatcher[float64], *buffers.Pool[float64]) {
	t.Helper()
	d, err := bcore.New(2, 3, 2, 2, 4, 1, 1, 1, 1)
	require.NoError(t, err)
	pool, err := buffers.New[float64](d)
	require.NoError(t, err)
	pool.TipStates[0] = []int32{0, 1, 0, 1}
	pool.TipStates[1] = []int32{0, 0, 1, 1}
	for c := 0; c < d.CategoryCount; c++ {
		for a := 0; a < d.StateCount; a++ {
			pool.Matrices[0][c*d.StateCount*d.PartialsStateStride+a*d.PartialsStateStride+a] = 1
		}
	}
	ix := patterns.New(d.PatternCount)
	disp := New[float64](pool, ix, false, 10, nil)
	return disp, pool
}

func TestUpdatePartialsCombinesStatesStates(t *testing.T) {
	t.Parallel()
	disp, pool := setupDispatch(t)

	ops := []Operation{
		{Dest: 2, WriteScale: bcore.None, ReadScale: bcore.None, ChildA: 0, MatrixA: 0, ChildB: 1, MatrixB: 0},
	}
	require.NoError(t, disp.UpdatePartials(ops, bcore.None))

	d := pool.Dims
	l := func(c, p, a int) int { return c*d.PaddedPatternCount*d.MatrixRowCount + p*d.MatrixRowCount + a }
	// pattern 0: states1=0, states2=0 -> only state 0 matches both -> dest[*,0,0]=1
	assert.Equal(t, 1.0, pool.Partials[2][l(0, 0, 0)])
	assert.Equal(t, 0.0, pool.Partials[2][l(0, 0, 1)])
}

func TestUpdatePartialsEmptyOpsIsNoop(t *testing.T) {
	t.Parallel()
	disp, _ := setupDispatch(t)
	require.NoError(t, disp.UpdatePartials(nil, bcore.None))
}

func TestUpdatePartialsRejectsBadBufferIndex(t *testing.T) {
	t.Parallel()
	disp, _ := setupDispatch(t)
	ops := []Operation{{Dest: 99, ChildA: 0, MatrixA: 0, ChildB: 1, MatrixB: 0, WriteScale: bcore.None, ReadScale: bcore.None}}
	err := disp.UpdatePartials(ops, bcore.None)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestUpdatePartialsWriteScaleRescalesAndAccumulates(t *testing.T) {
	t.Parallel()
	disp, pool := setupDispatch(t)
	d := pool.Dims

	ops := []Operation{
		{Dest: 2, WriteScale: 0, ReadScale: bcore.None, ChildA: 0, MatrixA: 0, ChildB: 1, MatrixB: 0},
	}
	require.NoError(t, disp.UpdatePartials(ops, 0))

	l := func(c, p, a int) int { return c*d.PaddedPatternCount*d.MatrixRowCount + p*d.MatrixRowCount + a }
	// pattern 0 row max is 1, so log(1) == 0 scale contribution.
	assert.InDelta(t, 0.0, pool.ScaleBuffers[0][0], 1e-12)
	assert.Equal(t, 1.0, pool.Partials[2][l(0, 0, 0)])
}

func TestUpdatePartialsSetsStickyErrorOnNonFinite(t *testing.T) {
	t.Parallel()
	disp, pool := setupDispatch(t)
	// corrupt the matrix so the combine produces NaN.
	pool.Matrices[0][0] = math.NaN()

	ops := []Operation{{Dest: 2, WriteScale: bcore.None, ReadScale: bcore.None, ChildA: 0, MatrixA: 0, ChildB: 1, MatrixB: 0}}
	err := disp.UpdatePartials(ops, bcore.None)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnidentified)
	assert.ErrorIs(t, disp.StickyError(), ErrUnidentified)

	disp.ClearSticky()
	assert.NoError(t, disp.StickyError())
}

func TestSetCPUThreadCountAdjustsThreadCount(t *testing.T) {
	t.Parallel()
	disp, _ := setupDispatch(t)
	assert.Equal(t, 1, disp.ThreadCount())

	require.NoError(t, disp.SetCPUThreadCount(4))
	assert.Equal(t, 4, disp.ThreadCount())

	require.NoError(t, disp.SetCPUThreadCount(1))
	assert.Equal(t, 1, disp.ThreadCount())

	require.NoError(t, disp.Close())
}

func TestSetCPUThreadCountRejectsNegative(t *testing.T) {
	t.Parallel()
	disp, _ := setupDispatch(t)
	err := disp.SetCPUThreadCount(-1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestUpdatePartialsByPartitionRejectsAutoScaling(t *testing.T) {
	t.Parallel()
	d, err := bcore.New(2, 3, 2, 2, 4, 1, 1, 1, 1)
	require.NoError(t, err)
	pool, err := buffers.New[float64](d)
	require.NoError(t, err)
	ix := patterns.New(d.PatternCount)
	disp := New[float64](pool, ix, true, 10, nil)

	err = disp.UpdatePartialsByPartition([]PartitionOperation{{
		Operation: Operation{Dest: 2, ChildA: 0, MatrixA: 0, ChildB: 1, MatrixB: 0, WriteScale: bcore.None, ReadScale: bcore.None},
		Partition: 0, CumulativeScale: bcore.None,
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoImplementation)
}

func TestUpdatePartialsByPartitionRunsEachPartitionRange(t *testing.T) {
	t.Parallel()
	disp, pool := setupDispatch(t)
	d := pool.Dims
	require.NoError(t, disp.ix.SetPartitions([]int{0, 0, 1, 1}))

	ops := []PartitionOperation{
		{Operation: Operation{Dest: 2, ChildA: 0, MatrixA: 0, ChildB: 1, MatrixB: 0, WriteScale: bcore.None, ReadScale: bcore.None}, Partition: 0, CumulativeScale: bcore.None},
		{Operation: Operation{Dest: 2, ChildA: 0, MatrixA: 0, ChildB: 1, MatrixB: 0, WriteScale: bcore.None, ReadScale: bcore.None}, Partition: 1, CumulativeScale: bcore.None},
	}
	require.NoError(t, disp.UpdatePartialsByPartition(ops))

	l := func(c, p, a int) int { return c*d.PaddedPatternCount*d.MatrixRowCount + p*d.MatrixRowCount + a }
	assert.Equal(t, 1.0, pool.Partials[2][l(0, 0, 0)])
}

func TestWaitForPartialsAndBlockDrainPending(t *testing.T) {
	t.Parallel()
	disp, _ := setupDispatch(t)
	require.NoError(t, disp.SetCPUThreadCount(4))
	defer disp.Close()
	require.NoError(t, disp.ix.SetPartitions([]int{0, 0, 1, 1}))

	ops := []PartitionOperation{
		{Operation: Operation{Dest: 2, ChildA: 0, MatrixA: 0, ChildB: 1, MatrixB: 0, WriteScale: bcore.None, ReadScale: bcore.None}, Partition: 0, CumulativeScale: bcore.None},
	}
	require.NoError(t, disp.UpdatePartialsByPartition(ops))
	require.NoError(t, disp.WaitForPartials([]int{2}))
	require.NoError(t, disp.Block())
}

// TestUpdatePartialsByPartitionDefersUntilWaited pins the deferred-barrier
// contract: with a worker pool configured and more than one partition,
// UpdatePartialsByPartition must register a Future per destination and
// return without waiting on it, leaving it in d.pending for
// WaitForPartials/Block to consume later. If UpdatePartialsByPartition
// instead waited synchronously (as it once did), d.pending would already
// be empty by the time control returns here.
func TestUpdatePartialsByPartitionDefersUntilWaited(t *testing.T) {
	t.Parallel()
	disp, pool := setupDispatch(t)
	require.NoError(t, disp.SetCPUThreadCount(4))
	defer disp.Close()
	require.NoError(t, disp.ix.SetPartitions([]int{0, 0, 1, 1}))

	ops := []PartitionOperation{
		{Operation: Operation{Dest: 2, ChildA: 0, MatrixA: 0, ChildB: 1, MatrixB: 0, WriteScale: bcore.None, ReadScale: bcore.None}, Partition: 0, CumulativeScale: bcore.None},
		{Operation: Operation{Dest: 2, ChildA: 0, MatrixA: 0, ChildB: 1, MatrixB: 0, WriteScale: bcore.None, ReadScale: bcore.None}, Partition: 1, CumulativeScale: bcore.None},
	}
	require.NoError(t, disp.UpdatePartialsByPartition(ops))

	disp.mu.Lock()
	pending := len(disp.pending)
	disp.mu.Unlock()
	assert.NotZero(t, pending, "UpdatePartialsByPartition must leave outstanding work in d.pending instead of draining it before returning")

	require.NoError(t, disp.WaitForPartials([]int{2}))

	disp.mu.Lock()
	pending = len(disp.pending)
	disp.mu.Unlock()
	assert.Zero(t, pending, "WaitForPartials must consume the pending entries it waits on")

	d := pool.Dims
	l := func(c, p, a int) int { return c*d.PaddedPatternCount*d.MatrixRowCount + p*d.MatrixRowCount + a }
	assert.Equal(t, 1.0, pool.Partials[2][l(0, 0, 0)])
}

// TestUpdatePartialsAutoThreadCountUsesConfiguredThreads is a whitebox
// check (same package) that SetCPUThreadCount's resolved value, not
// runtime.NumCPU(), is what feeds the auto-partition decision inside
// UpdatePartials. A machine with many cores but a caller-configured
// thread count of 2 must never compute an auto-partition chunk count
// above what a 2-thread pool can run without oversubscription.
func TestUpdatePartialsAutoThreadCountUsesConfiguredThreads(t *testing.T) {
	t.Parallel()
	disp, _ := setupDispatch(t)
	require.NoError(t, disp.SetCPUThreadCount(2))
	defer disp.Close()

	assert.Equal(t, 2, disp.threads, "SetCPUThreadCount must persist its resolved value for later auto-partition decisions")
	// Even with a pattern count well above every auto-partition threshold,
	// the chunk count derived from the dispatcher's own configured thread
	// budget must never exceed that budget.
	workers := autoThreadCount(disp.threads, LimitPatternCount)
	assert.LessOrEqual(t, workers, disp.threads)

	// Simulate what a much larger machine would have reported at
	// construction time: even if hwThreads were large, UpdatePartials must
	// key off disp.threads, not disp.hwThreads, once configured.
	disp.hwThreads = 128
	require.NoError(t, disp.SetCPUThreadCount(2))
	workers = autoThreadCount(disp.threads, LimitPatternCount)
	assert.LessOrEqual(t, workers, 2, "a configured thread count of 2 must bound auto-partition chunking regardless of hwThreads")
}
