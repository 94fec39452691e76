// Package dispatch implements the operation dispatcher (C6): the
// sequence-of-operations executor that drives the C4 combine kernels
// across buffers, decides between serial, auto-partitioned and
// partition-restricted execution, and tracks the futures WaitForPartials
// and Block consume. Grounded on BeagleCPUImpl.h's updatePartials,
// updatePartialsByPartition, waitForPartials and block, with the thread
// pool itself taken from samcharles93-mantle's attnpool.go.
package dispatch

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
	"github.com/matsengrp/beagle-lib/internal/beagle/buffers"
	"github.com/matsengrp/beagle-lib/internal/beagle/kernel"
	"github.com/matsengrp/beagle-lib/internal/beagle/patterns"
)

// Logger is the minimal structured-logging surface the dispatcher needs;
// internal/telemetry.Logger satisfies it without either package
// importing the other.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// ChildKind classifies an operand buffer of an Operation.
type ChildKind int

const (
	// TipStates is a tip buffer backed by a compact integer state array.
	TipStates ChildKind = iota
	// TipPartials is a tip buffer backed by partials (an ambiguous tip).
	TipPartials
	// Internal is an internal node's partials buffer.
	Internal
)

// Operation is one row of an updatePartials operations list: combine the
// two children through their matrices into Dest, optionally reading a
// fixed scale factor before, or writing a fresh one after.
type Operation struct {
	Dest       int
	WriteScale int // bcore.None to skip
	ReadScale  int // bcore.None to skip
	ChildA     int
	MatrixA    int
	ChildB     int
	MatrixB    int
}

// PartitionOperation extends Operation with the partition it is
// restricted to and the cumulative scale buffer its writes should also
// accumulate into.
type PartitionOperation struct {
	Operation
	Partition       int
	CumulativeScale int // bcore.None to skip
}

// Dispatcher runs Operation lists against a buffer pool, following the
// threading policy in spec.md §4.6.
type Dispatcher[R bcore.Precision] struct {
	pool        *buffers.Pool[R]
	ix          *patterns.Index
	dims        bcore.Dims
	autoScaling bool
	scaleExpThr int
	log         Logger

	hwThreads int // runtime.NumCPU(), used only to resolve SetCPUThreadCount(0)
	threads   int // resolved thread count from the most recent SetCPUThreadCount, >= 1
	wp        *WorkerPool

	mu      sync.Mutex
	pending map[int]*Future

	errMu sync.Mutex
	err   error
}

// New builds a Dispatcher over pool and ix. autoScaling selects the
// deferred-exponent auto-scale pathway instead of per-operation fixed
// rescale; scalingExponentThreshold is the |exponent| beyond which
// PartialsPartialsAutoScale requests an AutoRescale pass.
func New[R bcore.Precision](pool *buffers.Pool[R], ix *patterns.Index, autoScaling bool, scalingExponentThreshold int, log Logger) *Dispatcher[R] {
	if log == nil {
		log = noopLogger{}
	}
	return &Dispatcher[R]{
		pool:        pool,
		ix:          ix,
		dims:        pool.Dims,
		autoScaling: autoScaling,
		scaleExpThr: scalingExponentThreshold,
		log:         log,
		hwThreads:   runtime.NumCPU(),
		threads:     1,
		pending:     make(map[int]*Future),
	}
}

// SetCPUThreadCount fixes the number of worker goroutines used for
// auto-partitioned and partition-restricted dispatch. n == 0 requests
// the runtime default (all logical CPUs); n == 1 disables threading. The
// resolved count also becomes the thread budget autoThreadCount scales
// pattern-range splitting against, so a caller-configured pool never gets
// oversubscribed by more chunks than it has goroutines to run them.
func (d *Dispatcher[R]) SetCPUThreadCount(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: thread count %d", ErrOutOfRange, n)
	}
	if d.wp != nil {
		if err := d.wp.Close(); err != nil {
			d.setSticky(err)
		}
		d.wp = nil
	}
	threads := n
	if threads == 0 {
		threads = d.hwThreads
	}
	if threads > 1 {
		d.wp = NewWorkerPool(threads - 1)
	}
	d.threads = threads
	d.log.Debug("dispatch: thread count set", "requested", n, "resolved", threads)
	return nil
}

func (d *Dispatcher[R]) setSticky(err error) {
	d.errMu.Lock()
	if d.err == nil {
		d.err = err
	}
	d.errMu.Unlock()
}

// ThreadCount reports how many goroutines (including the calling one)
// dispatch currently spreads work across.
func (d *Dispatcher[R]) ThreadCount() int {
	if d.wp == nil {
		return 1
	}
	return d.wp.Size() + 1
}

// StickyError returns the first non-finite-output error any kernel has
// raised since the last time it was cleared, or nil.
func (d *Dispatcher[R]) StickyError() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

// ClearSticky resets the sticky error, called after a caller has
// observed and handled it.
func (d *Dispatcher[R]) ClearSticky() {
	d.errMu.Lock()
	d.err = nil
	d.errMu.Unlock()
}

func classify[R bcore.Precision](pool *buffers.Pool[R], idx int) ChildKind {
	if idx >= 0 && idx < len(pool.TipStates) && pool.TipStates[idx] != nil {
		return TipStates
	}
	if idx >= 0 && idx < pool.Dims.TipCount {
		return TipPartials
	}
	return Internal
}

func (d *Dispatcher[R]) checkIndex(idx, limit int) error {
	if idx < 0 || idx >= limit {
		return fmt.Errorf("%w: buffer index %d", ErrOutOfRange, idx)
	}
	return nil
}

// execOne runs a single Operation restricted to [startPattern,
// endPattern), and folds its scale write into cumulative if non-nil.
func (d *Dispatcher[R]) execOne(op Operation, startPattern, endPattern int, cumulative []R) error {
	pool := d.pool
	dims := d.dims

	for _, idx := range []int{op.Dest, op.ChildA, op.ChildB} {
		if err := d.checkIndex(idx, dims.BufferCount); err != nil {
			return err
		}
	}
	for _, idx := range []int{op.MatrixA, op.MatrixB} {
		if err := d.checkIndex(idx, dims.MatrixCount); err != nil {
			return err
		}
	}
	dest := pool.Partials[op.Dest]
	if dest == nil {
		return fmt.Errorf("%w: dest %d is a compact tip buffer", ErrOutOfRange, op.Dest)
	}
	matA, matB := pool.Matrices[op.MatrixA], pool.Matrices[op.MatrixB]

	var readScale []R
	if op.ReadScale != bcore.None {
		if err := d.checkIndex(op.ReadScale, dims.ScaleBufferCount); err != nil {
			return err
		}
		readScale = pool.ScaleBuffers[op.ReadScale]
	}

	kindA, kindB := classify(pool, op.ChildA), classify(pool, op.ChildB)
	switch {
	case kindA == TipStates && kindB == TipStates:
		sA, sB := pool.TipStates[op.ChildA], pool.TipStates[op.ChildB]
		if readScale != nil {
			kernel.StatesStatesFixedScale(dest, sA, matA, sB, matB, readScale, dims, startPattern, endPattern)
		} else {
			kernel.StatesStates(dest, sA, matA, sB, matB, dims, startPattern, endPattern)
		}
	case kindA == TipStates:
		sA, pB := pool.TipStates[op.ChildA], pool.Partials[op.ChildB]
		if readScale != nil {
			kernel.StatesPartialsFixedScale(dest, sA, matA, pB, matB, readScale, dims, startPattern, endPattern)
		} else {
			kernel.StatesPartials(dest, sA, matA, pB, matB, dims, startPattern, endPattern)
		}
	case kindB == TipStates:
		sB, pA := pool.TipStates[op.ChildB], pool.Partials[op.ChildA]
		if readScale != nil {
			kernel.StatesPartialsFixedScale(dest, sB, matB, pA, matA, readScale, dims, startPattern, endPattern)
		} else {
			kernel.StatesPartials(dest, sB, matB, pA, matA, dims, startPattern, endPattern)
		}
	default:
		pA, pB := pool.Partials[op.ChildA], pool.Partials[op.ChildB]
		switch {
		case readScale != nil:
			kernel.PartialsPartialsFixedScale(dest, pA, matA, pB, matB, readScale, dims, startPattern, endPattern)
		case d.autoScaling:
			if err := d.checkIndex(op.WriteScale, dims.ScaleBufferCount); err != nil {
				return err
			}
			autoBuf := pool.AutoScaleBuffers[op.WriteScale]
			if kernel.PartialsPartialsAutoScale(dest, pA, matA, pB, matB, autoBuf, d.scaleExpThr, dims, startPattern, endPattern) {
				kernel.AutoRescale(dest, autoBuf, dims, startPattern, endPattern)
			}
		default:
			kernel.PartialsPartials(dest, pA, matA, pB, matB, dims, startPattern, endPattern)
		}
	}

	if kernel.HasNonFinite(dest, dims, startPattern, endPattern) {
		err := fmt.Errorf("%w: non-finite partial written to buffer %d", ErrUnidentified, op.Dest)
		d.setSticky(err)
		return err
	}

	if !d.autoScaling && op.WriteScale != bcore.None {
		if err := d.checkIndex(op.WriteScale, dims.ScaleBufferCount); err != nil {
			return err
		}
		kernel.Rescale(dest, pool.ScaleBuffers[op.WriteScale], cumulative, true, dims, startPattern, endPattern)
	}
	return nil
}

type patternRange struct{ start, end int }

// splitRange divides [0, n) into at most parts contiguous, roughly
// equal, non-empty chunks.
func splitRange(n, parts int) []patternRange {
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	if parts < 1 {
		return []patternRange{{0, n}}
	}
	base := n / parts
	rem := n % parts
	ranges := make([]patternRange, parts)
	start := 0
	for i := 0; i < parts; i++ {
		size := base
		if i < rem {
			size++
		}
		ranges[i] = patternRange{start, start + size}
		start += size
	}
	return ranges
}

// UpdatePartials runs ops in order over the full pattern range. When the
// instance has more than one worker thread and the pattern count clears
// the auto-partition thresholds, the pattern range is split into
// per-goroutine chunks that each execute the entire ops list, which is
// safe because no combine kernel reads or writes across pattern indices;
// this makes auto-partitioned UpdatePartials a full barrier by
// construction; WaitForPartials and Block have nothing left to wait for
// afterward. cumulativeScaleIndex, if not bcore.None, accumulates every
// op's WriteScale into that buffer as it runs.
func (d *Dispatcher[R]) UpdatePartials(ops []Operation, cumulativeScaleIndex int) error {
	if len(ops) == 0 {
		return nil
	}
	var cumulative []R
	if cumulativeScaleIndex != bcore.None {
		if err := d.checkIndex(cumulativeScaleIndex, d.dims.ScaleBufferCount); err != nil {
			return err
		}
		cumulative = d.pool.ScaleBuffers[cumulativeScaleIndex]
	}

	workers := 1
	if d.wp != nil {
		workers = autoThreadCount(d.threads, d.dims.PatternCount)
	}
	if workers <= 1 {
		for _, op := range ops {
			if err := d.execOne(op, 0, d.dims.PaddedPatternCount, cumulative); err != nil {
				return err
			}
		}
		return nil
	}

	ranges := splitRange(d.dims.PaddedPatternCount, workers)
	runChunk := func(r patternRange) error {
		for _, op := range ops {
			if err := d.execOne(op, r.start, r.end, cumulative); err != nil {
				return err
			}
		}
		return nil
	}

	// The calling goroutine takes the first chunk itself; the remaining
	// chunks go to the worker pool.
	firstErr := runChunk(ranges[0])
	futures := make([]*Future, 0, len(ranges)-1)
	for i := 1; i < len(ranges); i++ {
		r := ranges[i]
		futures = append(futures, d.wp.Dispatch(i-1, func() error { return runChunk(r) }))
	}
	for _, f := range futures {
		if err := f.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UpdatePartialsByPartition runs each op restricted to its declared
// partition's pattern range. Ops sharing a partition run in the order
// given, on the same goroutine; distinct partitions run concurrently
// against the worker pool when one is configured. When a worker pool is
// available, UpdatePartialsByPartition dispatches every partition's group
// and returns immediately without waiting for any of them: each op's
// Dest is registered against a Future left in d.pending, so the caller
// controls when results become visible by calling WaitForPartials or
// Block, rather than the dispatcher imposing an implicit barrier here.
// With no worker pool (or a single partition), there is nothing to defer
// and each group runs synchronously before return. Combining auto-scaling
// with partition restriction is rejected: the deferred auto-rescale
// pathway assumes a single full-width pass and has no defined behavior
// for a caller reading a partition before its sibling partitions rescale
// (spec.md §9 Open Questions).
func (d *Dispatcher[R]) UpdatePartialsByPartition(ops []PartitionOperation) error {
	if len(ops) == 0 {
		return nil
	}
	if d.autoScaling {
		return fmt.Errorf("%w: auto-scaling with partition-restricted updatePartials", ErrNoImplementation)
	}

	groups := make(map[int][]PartitionOperation)
	var order []int
	for _, op := range ops {
		if _, ok := groups[op.Partition]; !ok {
			order = append(order, op.Partition)
		}
		groups[op.Partition] = append(groups[op.Partition], op)
	}

	runGroup := func(partition int, group []PartitionOperation) error {
		r, err := d.ix.Range(partition)
		if err != nil {
			return err
		}
		for _, op := range group {
			var cumulative []R
			if op.CumulativeScale != bcore.None {
				if err := d.checkIndex(op.CumulativeScale, d.dims.ScaleBufferCount); err != nil {
					return err
				}
				cumulative = d.pool.ScaleBuffers[op.CumulativeScale]
			}
			if err := d.execOne(op.Operation, r.Start, r.End, cumulative); err != nil {
				return err
			}
		}
		return nil
	}

	if d.wp == nil || len(order) == 1 {
		for _, partition := range order {
			if err := runGroup(partition, groups[partition]); err != nil {
				return err
			}
		}
		return nil
	}

	d.mu.Lock()
	for i, partition := range order {
		partition, group := partition, groups[partition]
		f := d.wp.Dispatch(i, func() error { return runGroup(partition, group) })
		for _, op := range group {
			prev, ok := d.pending[op.Dest]
			if !ok || prev == f {
				d.pending[op.Dest] = f
				continue
			}
			// Another partition (or an earlier call) also writes this
			// destination: the pending entry waits on both jobs.
			joined := &Future{done: make(chan struct{})}
			go func(a, b *Future) {
				errA, errB := a.Wait(), b.Wait()
				joined.err = errA
				if joined.err == nil {
					joined.err = errB
				}
				close(joined.done)
			}(prev, f)
			d.pending[op.Dest] = joined
		}
	}
	d.mu.Unlock()

	// Dispatched, not awaited: results land in d.pending for a later
	// WaitForPartials or Block call to collect.
	return nil
}

// WaitForPartials blocks until every buffer index in destIndices has a
// value written by an outstanding UpdatePartialsByPartition call,
// consuming those pending entries, and returns the first error any of
// them produced, folded together with any sticky non-finite-output error
// recorded meanwhile. Indices with nothing pending (never dispatched, or
// already waited on) are silently skipped.
func (d *Dispatcher[R]) WaitForPartials(destIndices []int) error {
	d.mu.Lock()
	futures := make([]*Future, 0, len(destIndices))
	for _, idx := range destIndices {
		if f, ok := d.pending[idx]; ok {
			futures = append(futures, f)
			delete(d.pending, idx)
		}
	}
	d.mu.Unlock()
	var firstErr error
	for _, f := range futures {
		if err := f.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return d.StickyError()
}

// Block waits for every outstanding dispatched operation to complete,
// the unconditional form of WaitForPartials, and returns the first error
// any of them produced, folded together with any sticky
// non-finite-output error recorded meanwhile.
func (d *Dispatcher[R]) Block() error {
	d.mu.Lock()
	futures := make([]*Future, 0, len(d.pending))
	for _, f := range d.pending {
		futures = append(futures, f)
	}
	d.pending = make(map[int]*Future)
	d.mu.Unlock()
	var firstErr error
	for _, f := range futures {
		if err := f.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return d.StickyError()
}

// Close releases the worker pool. It must be called at most once and no
// further dispatch calls may follow it.
func (d *Dispatcher[R]) Close() error {
	if d.wp == nil {
		return nil
	}
	err := d.wp.Close()
	d.wp = nil
	return err
}
